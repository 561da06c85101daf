package sink

import "sync"

// CaptureSink is an in-memory Sink for tests. Beyond recording, it keeps
// per-blob arrival order so tests can assert the one ordering guarantee the
// pipeline makes: lines of a single blob reach the sink in file order.
type CaptureSink struct {
	mu      sync.Mutex
	err     error
	msgs    []CapturedMessage
	perBlob map[string][][]byte
}

// CapturedMessage is one recorded Publish call.
type CapturedMessage struct {
	Subject string
	Key     string
	Value   []byte
}

// NewCaptureSink creates an empty CaptureSink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{perBlob: make(map[string][][]byte)}
}

// FailWith makes every subsequent Publish return err; pass nil to heal.
func (c *CaptureSink) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Publish records the message, indexed by its blob-name key.
func (c *CaptureSink) Publish(subject, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, CapturedMessage{Subject: subject, Key: key, Value: value})
	c.perBlob[key] = append(c.perBlob[key], value)
	return nil
}

// Close is a no-op.
func (c *CaptureSink) Close() error {
	return nil
}

// Messages returns a copy of everything published, in arrival order.
func (c *CaptureSink) Messages() []CapturedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CapturedMessage, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// ForBlob returns the payloads published under one blob-name key, in
// arrival order.
func (c *CaptureSink) ForBlob(key string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.perBlob[key]))
	copy(out, c.perBlob[key])
	return out
}

// Len reports how many messages were published.
func (c *CaptureSink) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}
