package model

import (
	"sync/atomic"
	"time"
)

// coalesceTick is how long a coalescing listener without a dispatcher or
// delay gathers events before delivering the newest.
const coalesceTick = time.Millisecond

// Listener is one subscription to a Talker.
type Listener struct {
	talker *Talker
	fn     func(Event)
	pol    policy

	masked atomic.Int32
	closed atomic.Bool

	// coalescing state
	pending   atomic.Pointer[Event]
	scheduled atomic.Bool
	merged    atomic.Int32
	delivered atomic.Uint64
	delay     atomic.Int64
}

// Mask suppresses events published until the matching Unmask. A callback
// that commits to the node it watches masks itself around that commit.
func (l *Listener) Mask() {
	l.masked.Add(1)
}

func (l *Listener) Unmask() {
	for {
		c := l.masked.Load()
		if c == 0 || l.masked.CompareAndSwap(c, c-1) {
			return
		}
	}
}

func (l *Listener) Masked() bool {
	return l.masked.Load() > 0
}

// Disconnect stops deliveries, including ones already queued.
func (l *Listener) Disconnect() {
	if l.closed.CompareAndSwap(false, true) {
		l.talker.remove(l)
	}
}

func (l *Listener) coalescing() bool {
	return l.pol.dedupe || l.pol.maxDelay > 0
}

func (l *Listener) notify(ev Event) {
	if l.closed.Load() {
		return
	}
	if l.masked.Load() > 0 {
		recordDrop("masked")
		return
	}
	if !l.coalescing() {
		if l.pol.dispatcher == nil {
			l.fire(ev)
			return
		}
		if err := l.pol.dispatcher.Submit(func() { l.fire(ev) }); err != nil {
			l.dropped(err)
		}
		return
	}

	l.offer(&ev)
	l.merged.Add(1)
	if l.scheduled.CompareAndSwap(false, true) {
		l.schedule()
	}
}

// offer keeps the newest pending event.
func (l *Listener) offer(ev *Event) {
	for {
		cur := l.pending.Load()
		if cur != nil && cur.Serial >= ev.Serial {
			return
		}
		if l.pending.CompareAndSwap(cur, ev) {
			return
		}
	}
}

func (l *Listener) schedule() {
	d := time.Duration(l.delay.Load())
	disp := l.pol.dispatcher
	switch {
	case d > 0:
		time.AfterFunc(d, func() {
			if disp == nil {
				l.drain()
				return
			}
			if err := disp.Submit(l.drain); err != nil {
				l.scheduled.Store(false)
				l.dropped(err)
			}
		})
	case disp != nil:
		if err := disp.Submit(l.drain); err != nil {
			l.scheduled.Store(false)
			l.dropped(err)
		}
	default:
		time.AfterFunc(coalesceTick, l.drain)
	}
}

func (l *Listener) drain() {
	for {
		merged := l.merged.Swap(0)
		if ev := l.pending.Swap(nil); ev != nil && ev.Serial > l.delivered.Load() {
			l.delivered.Store(ev.Serial)
			l.fire(*ev)
		}
		l.adapt(merged)
		l.scheduled.Store(false)
		if l.pending.Load() == nil || !l.scheduled.CompareAndSwap(false, true) {
			return
		}
		if l.delay.Load() > 0 {
			l.schedule()
			return
		}
	}
}

func (l *Listener) adapt(merged int32) {
	if l.pol.maxDelay == 0 {
		return
	}
	cur := time.Duration(l.delay.Load())
	if merged > 1 {
		cur = min(max(cur*2, l.pol.minDelay, time.Millisecond), l.pol.maxDelay)
	} else {
		cur = max(cur/2, l.pol.minDelay)
	}
	l.delay.Store(int64(cur))
}

func (l *Listener) fire(ev Event) {
	if l.closed.Load() {
		return
	}
	l.fn(ev)
	recordDelivery()
}

func (l *Listener) dropped(err error) {
	recordDrop("mailbox")
	log := l.talker.owner.store.log
	log.Warn().Err(err).Str("node", l.talker.owner.path()).Msg("change notification dropped")
}
