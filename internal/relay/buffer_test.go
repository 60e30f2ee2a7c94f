package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestBufferFlushesAtThreshold(t *testing.T) {
	var flushed []string
	b := NewContentBuffer(8, func(chunk []byte) error {
		flushed = append(flushed, string(chunk))
		return nil
	})

	if err := b.Append([]byte("abcd")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(flushed) != 0 {
		t.Fatalf("flushed below threshold: %v", flushed)
	}
	if b.Len() != 4 {
		t.Errorf("Len = %d, want 4", b.Len())
	}

	if err := b.Append([]byte("efgh")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(flushed) != 1 || flushed[0] != "abcdefgh" {
		t.Errorf("flushed = %v, want one chunk abcdefgh", flushed)
	}
	if b.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", b.Len())
	}
}

func TestBufferSingleOversizeChunkFlushes(t *testing.T) {
	var flushed []string
	b := NewContentBuffer(8, func(chunk []byte) error {
		flushed = append(flushed, string(chunk))
		return nil
	})

	if err := b.Append([]byte(strings.Repeat("x", 20))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(flushed) != 1 || len(flushed[0]) != 20 {
		t.Errorf("flushed = %d chunks, want 1 of 20 bytes", len(flushed))
	}
}

func TestBufferRetainsOnFailedFlush(t *testing.T) {
	fail := true
	var flushed []string
	b := NewContentBuffer(4, func(chunk []byte) error {
		if fail {
			return errors.New("store down")
		}
		flushed = append(flushed, string(chunk))
		return nil
	})

	if err := b.Append([]byte("abcd")); err == nil {
		t.Fatal("expected flush error")
	}
	if b.Len() != 4 {
		t.Fatalf("Len after failed flush = %d, want 4", b.Len())
	}

	fail = false
	if err := b.Append([]byte("ef")); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
	if len(flushed) != 1 || flushed[0] != "abcdef" {
		t.Errorf("flushed = %v, want abcdef in one chunk", flushed)
	}
}

func TestBufferFlushEmptyIsNoop(t *testing.T) {
	calls := 0
	b := NewContentBuffer(8, func(chunk []byte) error {
		calls++
		return nil
	})
	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if calls != 0 {
		t.Errorf("flush fn called %d times on empty buffer", calls)
	}
}

func TestBufferDefaultThreshold(t *testing.T) {
	b := NewContentBuffer(0, func([]byte) error { return nil })
	if b.threshold != DefaultFlushThreshold {
		t.Errorf("threshold = %d, want %d", b.threshold, DefaultFlushThreshold)
	}
}
