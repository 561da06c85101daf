package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tidewater-io/tidewater/cfg"
)

const (
	// Log lines are small and arrive in bursts (one blob at a time), so
	// batches are sized in messages and flushed quickly: the tail of a
	// poll cycle must not sit in a half-full batch.
	kafkaBatchSize    = 500
	kafkaBatchBytes   = 1 << 20
	kafkaBatchTimeout = 50 * time.Millisecond
)

func init() {
	Register("kafka", func(config cfg.SinkConfiguration) (Sink, error) {
		return NewKafkaSink(config)
	})
}

// KafkaSink publishes events to Kafka, keyed by blob name. The key choice
// is load-bearing: all lines of one blob hash to one partition, which is
// the only per-blob ordering guarantee the pipeline offers downstream.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink builds a writer from the sink configuration. Murmur2 keying
// matches the JVM client's default partitioner, so producers and any
// JVM-side consumers of the same topics agree on which partition a blob
// lands in. Acks default to the full ISR: with at-least-once delivery a
// lost write is a silently dropped line, which the tracker cannot detect.
func NewKafkaSink(config cfg.SinkConfiguration) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	acks := kafka.RequireAll
	if config.Acks == "one" {
		acks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               kafka.Murmur2Balancer{},
		BatchSize:              kafkaBatchSize,
		BatchBytes:             kafkaBatchBytes,
		BatchTimeout:           kafkaBatchTimeout,
		RequiredAcks:           acks,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer}, nil
}

// Publish sends one event to the subject topic, partitioned by the blob
// name key.
func (k *KafkaSink) Publish(subject, key string, value []byte) error {
	msg := kafka.Message{
		Topic: subject,
		Key:   []byte(key),
		Value: value,
	}
	return k.writer.WriteMessages(context.Background(), msg)
}

// Close flushes pending batches and releases the writer.
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
