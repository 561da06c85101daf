package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/cfg"
)

const (
	// natsPublishTimeout bounds one line's publish. A blob's worker blocks
	// on this, so it stays short; a slow JetStream shows up as a failed
	// blob, not a hung cycle.
	natsPublishTimeout = 5 * time.Second

	// defaultStreamRetention is how long events stay in the stream when no
	// retention_hours is configured.
	defaultStreamRetention = 72 * time.Hour

	// blobHeader carries the source blob name so consumers can group or
	// replay a single blob's lines without decoding payloads.
	blobHeader = "Tidewater-Blob"
)

func init() {
	Register("nats", func(config cfg.SinkConfiguration) (Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		retention := defaultStreamRetention
		if config.RetentionHours > 0 {
			retention = time.Duration(config.RetentionHours) * time.Hour
		}
		return NewNatsSink(config.NatsURL, config.Subject, retention)
	})
}

// NatsSink publishes events to a JetStream stream that acts as a bounded
// buffer in front of the log pipeline. The stream is created (or its
// retention updated) once at startup; the per-line publish path only sends.
type NatsSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// NewNatsSink connects, then ensures the stream for subject exists with the
// given retention. Events are a flow, not a system of record: old entries
// age out rather than blocking ingestion, and a consumer that falls further
// behind than the retention window re-reads blobs from the store instead.
func NewNatsSink(url, subject string, retention time.Duration) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("tidewater"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streamName := streamNameForSubject(subject)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
		MaxAge:    retention,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	log.Info().Str("stream", streamName).Dur("retention", retention).Msg("JetStream sink ready")
	return &NatsSink{nc: nc, js: js, stream: streamName}, nil
}

// Publish sends one event. The blob name rides in a header so downstream
// consumers can partition or replay per blob.
func (n *NatsSink) Publish(subject, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), natsPublishTimeout)
	defer cancel()

	msg := &nats.Msg{
		Subject: subject,
		Data:    value,
		Header:  nats.Header{blobHeader: []string{key}},
	}
	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close releases the NATS connection.
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// streamNameForSubject derives a stream name from the subject. JetStream
// stream names cannot contain ".".
func streamNameForSubject(subject string) string {
	return strings.ToUpper(strings.ReplaceAll(subject, ".", "_"))
}
