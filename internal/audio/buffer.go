package audio

import (
	"context"
	"errors"
	"io"
	"sync"
)

var ErrBufferClosed = errors.New("audio buffer closed")

// Buffer is a bounded FIFO byte hand-off between exactly one writer (the
// connection receive loop) and one reader (the publisher worker). Writers
// block while the buffer is full instead of dropping audio.
type Buffer struct {
	capacity int

	mu      sync.Mutex
	chunks  [][]byte
	size    int
	closed  bool
	aborted bool

	readable chan struct{}
	writable chan struct{}
	eos      chan struct{}
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	return &Buffer{
		capacity: capacity,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		eos:      make(chan struct{}),
	}
}

// Write appends a copy of p. A frame larger than the free space is admitted
// piecewise, so Write may block part-way through a frame until the reader
// catches up.
func (b *Buffer) Write(ctx context.Context, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	data := make([]byte, len(p))
	copy(data, p)

	for len(data) > 0 {
		b.mu.Lock()
		if b.closed || b.aborted {
			b.mu.Unlock()
			return ErrBufferClosed
		}
		if free := b.capacity - b.size; free > 0 {
			n := min(free, len(data))
			b.chunks = append(b.chunks, data[:n:n])
			b.size += n
			data = data[n:]
			b.mu.Unlock()
			wake(b.readable)
			continue
		}
		b.mu.Unlock()

		select {
		case <-b.writable:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Read returns up to max buffered bytes, blocking while the buffer is empty.
// It returns io.EOF once the buffer is closed and drained, or aborted.
func (b *Buffer) Read(ctx context.Context, max int) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	for {
		b.mu.Lock()
		if b.aborted {
			b.mu.Unlock()
			return nil, io.EOF
		}
		if b.size > 0 {
			out := b.takeLocked(max)
			b.mu.Unlock()
			wake(b.writable)
			return out, nil
		}
		if b.closed {
			b.mu.Unlock()
			return nil, io.EOF
		}
		b.mu.Unlock()

		select {
		case <-b.readable:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *Buffer) takeLocked(max int) []byte {
	n := min(max, b.size)
	out := make([]byte, 0, n)
	for len(out) < n {
		head := b.chunks[0]
		want := n - len(out)
		if len(head) <= want {
			out = append(out, head...)
			b.chunks[0] = nil
			b.chunks = b.chunks[1:]
			continue
		}
		out = append(out, head[:want]...)
		b.chunks[0] = head[want:]
	}
	b.size -= n
	return out
}

// Close marks end-of-stream. Buffered bytes remain readable.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eos)
	b.mu.Unlock()
	wake(b.readable)
	wake(b.writable)
}

// Abort discards buffered bytes and releases any blocked writer or reader.
func (b *Buffer) Abort() {
	b.mu.Lock()
	b.aborted = true
	b.chunks = nil
	b.size = 0
	if !b.closed {
		b.closed = true
		close(b.eos)
	}
	b.mu.Unlock()
	wake(b.readable)
	wake(b.writable)
}

// EndOfStream is closed once Close or Abort has been called.
func (b *Buffer) EndOfStream() <-chan struct{} {
	return b.eos
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Exhausted reports whether end-of-stream was signalled and nothing is left to read.
func (b *Buffer) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted || (b.closed && b.size == 0)
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
