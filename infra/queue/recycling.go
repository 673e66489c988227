package queue

import (
	"fmt"
	"sync/atomic"
)

// Recycling is a lock-free, allocation-free FIFO of copyable values.
//
// A reservoir queue holds the free slot indices and an occupied queue holds
// the filled ones in push order. Each index travels packed with a reuse serial
// so a stale index is detected instead of silently reading a recycled slot.
type Recycling[T any] struct {
	reservoir *Bounded
	occupied  *Bounded
	values    []T
	stamps    []atomic.Uint32
}

// NewRecycling allocates a queue of capacity reusable slots.
func NewRecycling[T any](capacity int) *Recycling[T] {
	q := &Recycling[T]{
		reservoir: NewBounded(capacity),
		occupied:  NewBounded(capacity),
		values:    make([]T, capacity),
		stamps:    make([]atomic.Uint32, capacity),
	}
	for i := 0; i < capacity; i++ {
		if err := q.reservoir.Push(pack(uint32(i), 0)); err != nil {
			panic(err)
		}
	}
	return q
}

func pack(idx, serial uint32) uint64 {
	return uint64(serial)<<32 | uint64(idx+1)
}

func unpack(w uint64) (idx, serial uint32) {
	return uint32(w) - 1, uint32(w >> 32)
}

// Push copies v into a free slot and enqueues it. It returns ErrNoSpace when
// the reservoir is empty.
func (q *Recycling[T]) Push(v T) error {
	w, ok := q.reservoir.AtomicPopAny()
	if !ok {
		return ErrNoSpace
	}
	idx, serial := unpack(w)
	q.values[idx] = v
	q.stamps[idx].Store(serial)
	if err := q.occupied.Push(pack(idx, serial)); err != nil {
		// an index is either in the reservoir or here, never both
		panic(fmt.Errorf("queue: occupied ring rejected slot %d: %w", idx, err))
	}
	return nil
}

// Pop removes the oldest value and returns its slot to the reservoir.
func (q *Recycling[T]) Pop() (T, bool) {
	var zero T
	w, ok := q.occupied.AtomicPopAny()
	if !ok {
		return zero, false
	}
	idx, serial := unpack(w)
	if got := q.stamps[idx].Load(); got != serial {
		panic(fmt.Errorf("queue: stale slot %d: serial %d, stamped %d", idx, serial, got))
	}
	v := q.values[idx]
	q.values[idx] = zero
	if err := q.reservoir.Push(pack(idx, serial+1)); err != nil {
		panic(fmt.Errorf("queue: reservoir rejected slot %d: %w", idx, err))
	}
	return v, true
}

// Len returns the approximate number of queued values.
func (q *Recycling[T]) Len() int { return q.occupied.Size() }

// Free returns the approximate number of reusable slots.
func (q *Recycling[T]) Free() int { return q.reservoir.Size() }

// Cap returns the fixed capacity.
func (q *Recycling[T]) Cap() int { return len(q.values) }

// Empty reports whether the queue appeared empty.
func (q *Recycling[T]) Empty() bool { return q.occupied.Empty() }
