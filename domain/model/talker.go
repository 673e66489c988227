package model

import (
	"sync/atomic"
	"time"
	"weak"
)

// Event reports one committed change of a node.
type Event struct {
	Node   Noder
	Seq    uint64
	Serial uint64
	Value  any
}

// Talker multicasts a node's change events. It holds its listeners weakly:
// a listener the subscriber no longer references is dropped on a later
// publish.
type Talker struct {
	owner     *node
	listeners atomic.Pointer[[]weak.Pointer[Listener]]
}

type policy struct {
	dispatcher *Dispatcher
	dedupe     bool
	minDelay   time.Duration
	maxDelay   time.Duration
}

type ListenOption func(*policy)

// OnDispatcher delivers on d's goroutine instead of the committer's.
func OnDispatcher(d *Dispatcher) ListenOption {
	return func(p *policy) { p.dispatcher = d }
}

// AvoidDuplicate collapses events that arrive before the previous delivery
// ran into one delivery of the newest. Without a dispatcher, delivery moves
// off the committing goroutine onto a timer one tick later.
func AvoidDuplicate() ListenOption {
	return func(p *policy) { p.dedupe = true }
}

// AdaptiveDelay holds deliveries back by a delay between lo and hi. The
// delay doubles while bursts keep coalescing and halves when they stop.
func AdaptiveDelay(lo, hi time.Duration) ListenOption {
	return func(p *policy) {
		p.minDelay = max(lo, 0)
		p.maxDelay = max(hi, p.minDelay)
	}
}

// Connect subscribes fn. The returned Listener must be kept reachable for as
// long as deliveries are wanted.
func (t *Talker) Connect(fn func(Event), opts ...ListenOption) *Listener {
	l := &Listener{talker: t, fn: fn}
	for _, o := range opts {
		o(&l.pol)
	}
	l.delay.Store(int64(l.pol.minDelay))

	wp := weak.Make(l)
	for {
		old := t.listeners.Load()
		var next []weak.Pointer[Listener]
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, wp)
		if t.listeners.CompareAndSwap(old, &next) {
			return l
		}
	}
}

// Len counts listeners that are still alive.
func (t *Talker) Len() int {
	n := 0
	if list := t.listeners.Load(); list != nil {
		for _, wp := range *list {
			if wp.Value() != nil {
				n++
			}
		}
	}
	return n
}

func (t *Talker) publish(ev Event) {
	list := t.listeners.Load()
	if list == nil {
		return
	}
	dead := false
	for _, wp := range *list {
		l := wp.Value()
		if l == nil {
			dead = true
			continue
		}
		l.notify(ev)
	}
	if dead {
		t.filter(func(wp weak.Pointer[Listener]) bool { return wp.Value() != nil })
	}
}

func (t *Talker) remove(l *Listener) {
	target := weak.Make(l)
	t.filter(func(wp weak.Pointer[Listener]) bool { return wp != target })
}

func (t *Talker) filter(keep func(weak.Pointer[Listener]) bool) {
	for {
		old := t.listeners.Load()
		if old == nil {
			return
		}
		next := make([]weak.Pointer[Listener], 0, len(*old))
		for _, wp := range *old {
			if keep(wp) {
				next = append(next, wp)
			}
		}
		if t.listeners.CompareAndSwap(old, &next) {
			return
		}
	}
}
