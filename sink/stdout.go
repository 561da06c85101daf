package sink

import (
	"bufio"
	"os"
	"sync"

	"github.com/tidewater-io/tidewater/cfg"
)

func init() {
	Register("stdout", func(cfg.SinkConfiguration) (Sink, error) {
		return NewStdoutSink(), nil
	})
}

// StdoutSink writes one encoded event per line to standard output. Useful
// for pipeline smoke tests and for piping into another shipper.
type StdoutSink struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewStdoutSink creates a StdoutSink.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{w: bufio.NewWriter(os.Stdout)}
}

func (s *StdoutSink) Publish(subject, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(value); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *StdoutSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
