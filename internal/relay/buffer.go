package relay

import "sync"

// DefaultFlushThreshold is the unflushed-byte count at which a content
// buffer spills to durable storage.
const DefaultFlushThreshold = 65536

// ContentBuffer accumulates unflushed shell output for one resource and
// flushes it through a store function once the threshold is reached, on
// explicit drain, or on disconnect. A failed flush retains the buffered
// bytes for the next flush opportunity, so no output is silently lost.
type ContentBuffer struct {
	mu        sync.Mutex
	data      []byte
	threshold int
	flush     func(chunk []byte) error
}

// NewContentBuffer creates a buffer flushing through fn at the given
// threshold. A threshold <= 0 falls back to DefaultFlushThreshold.
func NewContentBuffer(threshold int, fn func(chunk []byte) error) *ContentBuffer {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &ContentBuffer{
		threshold: threshold,
		flush:     fn,
	}
}

// Append adds a chunk and flushes if the accumulated size reached the
// threshold. The returned error reports a failed flush; the chunk itself
// is always retained or persisted, never dropped.
func (b *ContentBuffer) Append(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, chunk...)
	if len(b.data) >= b.threshold {
		return b.flushLocked()
	}
	return nil
}

// Flush persists all buffered bytes. On success the buffer is empty; on
// failure it is left untouched.
func (b *ContentBuffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *ContentBuffer) flushLocked() error {
	if len(b.data) == 0 {
		return nil
	}
	if err := b.flush(b.data); err != nil {
		return err
	}
	b.data = b.data[:0]
	return nil
}

// Len returns the number of unflushed bytes.
func (b *ContentBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}
