package connection

import (
	"sync"
)

// Outbox is a per-connection send queue. It doubles its capacity when 70%
// full, up to a hard maximum; past that Push fails so one slow peer
// cannot hold unbounded memory.
type Outbox[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	max      int // 0 = unbounded
	closed   bool

	// ready is signalled (non-blocking, capacity 1) on every push and on close.
	ready chan struct{}

	// Stats
	totalPushed  int64
	totalDrained int64
	resizeCount  int
	rejected     int64
}

// NewOutbox creates an outbox with the given initial and maximum capacity.
func NewOutbox[T any](initialCapacity, maxCapacity int) *Outbox[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	return &Outbox[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		max:      maxCapacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends an item. It returns ErrAlreadyClosed after Close and
// ErrOutboxFull when the maximum capacity is used up.
func (b *Outbox[T]) Push(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrAlreadyClosed
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.canGrow() {
		b.grow()
	}
	if b.count == b.capacity {
		b.rejected++
		return ErrOutboxFull
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalPushed++

	b.signal()
	return nil
}

// Ready returns a channel that receives after items are pushed or the
// outbox is closed. Drain after every receive.
func (b *Outbox[T]) Ready() <-chan struct{} {
	return b.ready
}

// Drain removes and returns up to max queued items (all when max <= 0).
func (b *Outbox[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = b.buf[b.head]
		b.buf[b.head] = zero // Clear reference for GC
		b.head = (b.head + 1) % b.capacity
		b.count--
		b.totalDrained++
	}

	if b.count > 0 {
		b.signal()
	}
	return result
}

// Close stops further pushes. Queued items can still be drained.
func (b *Outbox[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.signal()
}

// Closed reports whether Close has been called.
func (b *Outbox[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the current number of queued items.
func (b *Outbox[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity.
func (b *Outbox[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Stats returns outbox statistics.
func (b *Outbox[T]) Stats() OutboxStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return OutboxStats{
		Count:        b.count,
		Capacity:     b.capacity,
		MaxCapacity:  b.max,
		TotalPushed:  b.totalPushed,
		TotalDrained: b.totalDrained,
		ResizeCount:  b.resizeCount,
		Rejected:     b.rejected,
	}
}

// OutboxStats contains outbox statistics.
type OutboxStats struct {
	Count        int
	Capacity     int
	MaxCapacity  int
	TotalPushed  int64
	TotalDrained int64
	ResizeCount  int
	Rejected     int64
}

func (b *Outbox[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *Outbox[T]) canGrow() bool {
	return b.max <= 0 || b.capacity < b.max
}

// grow doubles the capacity, clamped to max. Must be called with lock held.
func (b *Outbox[T]) grow() {
	newCapacity := b.capacity * 2
	if b.max > 0 && newCapacity > b.max {
		newCapacity = b.max
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
