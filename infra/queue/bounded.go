package queue

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrNoSpace is returned when every slot is occupied.
	ErrNoSpace = errors.New("queue: no space")

	// ErrZeroItem is the panic value for pushing the reserved empty word.
	ErrZeroItem = errors.New("queue: zero item")
)

type slot struct {
	// seq == pos means free for the push at pos,
	// seq == pos+1 means holding the item pushed at pos.
	seq  atomic.Uint64
	item atomic.Uint64
}

// Bounded is a multi-producer/multi-consumer FIFO of non-zero words with a
// capacity fixed at construction.
type Bounded struct {
	first atomic.Uint64 // next position to pop
	_pad1 [56]byte
	last  atomic.Uint64 // next position to push
	_pad2 [56]byte
	count atomic.Int64 // approximate, refreshed after every slot transition
	_pad3 [56]byte

	capacity uint64
	slots    []slot
}

// NewBounded allocates a queue holding at most capacity items.
func NewBounded(capacity int) *Bounded {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	q := &Bounded{
		capacity: uint64(capacity),
		slots:    make([]slot, capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Push enqueues item. It is the same operation as AtomicPush.
func (q *Bounded) Push(item uint64) error {
	return q.AtomicPush(item)
}

// AtomicPush enqueues item or returns ErrNoSpace when the queue is full.
// Pushing 0 panics.
func (q *Bounded) AtomicPush(item uint64) error {
	if item == 0 {
		panic(ErrZeroItem)
	}
	for {
		pos := q.last.Load()
		s := &q.slots[pos%q.capacity]
		diff := int64(s.seq.Load() - pos)
		switch {
		case diff == 0:
			if q.last.CompareAndSwap(pos, pos+1) {
				s.item.Store(item)
				s.seq.Store(pos + 1)
				q.count.Add(1)
				return nil
			}
		case diff < 0:
			// the slot still holds the item pushed one lap ago
			return ErrNoSpace
		}
		// another producer took pos; reload the cursor
	}
}

// Pop removes the front item. It is the same operation as AtomicPopAny.
func (q *Bounded) Pop() (uint64, bool) {
	return q.AtomicPopAny()
}

// AtomicPopAny claims whichever item is currently at the front.
func (q *Bounded) AtomicPopAny() (uint64, bool) {
	return q.pop(0, false)
}

// AtomicPop removes the front item only if it still equals expected.
func (q *Bounded) AtomicPop(expected uint64) bool {
	_, ok := q.pop(expected, true)
	return ok
}

func (q *Bounded) pop(expected uint64, match bool) (uint64, bool) {
	for {
		pos := q.first.Load()
		s := &q.slots[pos%q.capacity]
		diff := int64(s.seq.Load() - (pos + 1))
		switch {
		case diff == 0:
			// Stable until first moves past pos.
			item := s.item.Load()
			if match && item != expected {
				return 0, false
			}
			if q.first.CompareAndSwap(pos, pos+1) {
				s.item.Store(0)
				s.seq.Store(pos + q.capacity)
				q.count.Add(-1)
				return item, true
			}
		case diff < 0:
			return 0, false
		}
		// raced with another consumer; skip to the new front
	}
}

// AtomicFront returns the item at the front without removing it.
func (q *Bounded) AtomicFront() (uint64, bool) {
	for {
		pos := q.first.Load()
		s := &q.slots[pos%q.capacity]
		diff := int64(s.seq.Load() - (pos + 1))
		if diff < 0 {
			return 0, false
		}
		if diff == 0 {
			item := s.item.Load()
			if q.first.Load() == pos && item != 0 {
				return item, true
			}
		}
	}
}

// Size returns the approximate number of queued items. It may be transiently
// stale but never exceeds Cap.
func (q *Bounded) Size() int {
	n := q.count.Load()
	switch {
	case n < 0:
		return 0
	case n > int64(q.capacity):
		return int(q.capacity)
	}
	return int(n)
}

// Empty reports whether the queue appeared empty.
func (q *Bounded) Empty() bool {
	return q.Size() == 0
}

// Full reports whether the queue appeared full.
func (q *Bounded) Full() bool {
	return q.Size() == int(q.capacity)
}

// Cap returns the fixed capacity.
func (q *Bounded) Cap() int {
	return int(q.capacity)
}
