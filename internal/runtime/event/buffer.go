package event

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Buffer is an eager, single consumer queue. Producers never block. When a
// maximum size is set the oldest value is evicted to make room; the
// completion is stored apart from the values and is never evicted.
type Buffer[T any] struct {
	max int

	mu        sync.Mutex
	values    []T
	completed bool
	err       error
	notify    chan struct{}

	dropped atomic.Uint64
}

// NewBuffer creates a buffer holding at most max values. max <= 0 means
// unbounded.
func NewBuffer[T any](max int) *Buffer[T] {
	return &Buffer[T]{max: max, notify: make(chan struct{}, 1)}
}

// Push appends v. It reports false once the buffer has completed.
func (b *Buffer[T]) Push(v T) bool {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return false
	}
	if b.max > 0 && len(b.values) >= b.max {
		var zero T
		b.values[0] = zero
		b.values = b.values[1:]
		b.dropped.Add(1)
	}
	b.values = append(b.values, v)
	b.mu.Unlock()
	b.signal()
	return true
}

// Complete ends the buffer. Buffered values are still delivered; afterwards
// Next returns err, or io.EOF when err is nil. Only the first call counts.
func (b *Buffer[T]) Complete(err error) bool {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return false
	}
	b.completed = true
	b.err = err
	b.mu.Unlock()
	b.signal()
	return true
}

// Cancel completes the buffer and releases every undelivered value.
func (b *Buffer[T]) Cancel() {
	b.mu.Lock()
	b.values = nil
	if !b.completed {
		b.completed = true
	}
	b.mu.Unlock()
	b.signal()
}

// Next blocks until a value, the completion or ctx cancellation.
func (b *Buffer[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		b.mu.Lock()
		if len(b.values) > 0 {
			v := b.values[0]
			b.values[0] = zero
			b.values = b.values[1:]
			b.mu.Unlock()
			return v, nil
		}
		if b.completed {
			err := b.err
			b.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return zero, err
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len returns the number of buffered values.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.values)
}

// Completed reports whether the completion has been stored.
func (b *Buffer[T]) Completed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// Dropped counts values evicted because the buffer was full.
func (b *Buffer[T]) Dropped() uint64 { return b.dropped.Load() }

func (b *Buffer[T]) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
