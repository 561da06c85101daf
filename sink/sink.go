package sink

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tidewater-io/tidewater/cfg"
	"github.com/tidewater-io/tidewater/stream"
)

// Sink is a destination for encoded events (NATS, Kafka, stdout). Publish
// must be safe for concurrent calls; the poller's workers share one sink.
type Sink interface {
	// Publish sends one encoded event. key carries the blob name so sinks
	// that partition by key keep per-blob order.
	Publish(subject, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}

// SinkFactory creates a Sink from a configuration.
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	factoryMu     sync.RWMutex
	sinkFactories = make(map[string]SinkFactory)
)

// Register registers a sink factory for a type.
func Register(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// New creates the sink configured by config.Type.
func New(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

// Emitter binds a codec, a subject, and a Sink into the event callback the
// streamer invokes per line. Publish errors are logged, not propagated: the
// sink is assumed to accept every event, and a blob's outcome is decided by
// the tracker, not by sink delivery.
type Emitter struct {
	sink    Sink
	codec   Codec
	subject string
}

// NewEmitter creates an Emitter.
func NewEmitter(s Sink, codec Codec, subject string) *Emitter {
	return &Emitter{sink: s, codec: codec, subject: subject}
}

// Emit encodes and publishes one event.
func (e *Emitter) Emit(ev stream.Event) {
	data, err := e.codec.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("blob", ev.Metadata.BlobName).Msg("Failed to encode event")
		return
	}
	if err := e.sink.Publish(e.subject, ev.Metadata.BlobName, data); err != nil {
		log.Error().Err(err).Str("blob", ev.Metadata.BlobName).Msg("Failed to publish event")
	}
}
