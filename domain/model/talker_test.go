package model

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startDispatcher(t *testing.T, name string) *Dispatcher {
	t.Helper()
	d := NewDispatcher(name, 256, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d
}

// flush waits until every task queued on d before the call has run.
func flush(t *testing.T, d *Dispatcher) {
	t.Helper()
	ran := make(chan struct{})
	require.NoError(t, d.Submit(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
}

type recorder struct {
	mu     sync.Mutex
	values []any
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.values = append(r.values, ev.Value)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func TestCallerGoroutineDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	n := MustChild(ctx, s, "/temp", 20.0)

	var seenOn int64
	var rec recorder
	l := n.OnChanged().Connect(func(ev Event) {
		seenOn = goid()
		rec.record(ev)
	})
	defer l.Disconnect()

	set(t, n, 21.0)
	assert.Equal(t, []any{21.0}, rec.snapshot())
	assert.Equal(t, goid(), seenOn)
}

func TestDispatcherDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	n := MustChild(ctx, s, "/temp", 20.0)
	ui := startDispatcher(t, "ui")

	var mu sync.Mutex
	var onUI []bool
	l := n.OnChanged().Connect(func(Event) {
		mu.Lock()
		onUI = append(onUI, ui.IsCurrent())
		mu.Unlock()
	}, OnDispatcher(ui))

	for i := 0; i < 5; i++ {
		set(t, n, float64(i))
	}
	flush(t, ui)
	runtime.KeepAlive(l)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, true, true, true, true}, onUI)
	assert.False(t, ui.IsCurrent())
}

func TestScenarioACoalescedDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	x := MustChild(ctx, s, "/x", 0.0)
	ui := startDispatcher(t, "ui")

	gate := make(chan struct{})
	require.NoError(t, ui.Submit(func() { <-gate }))

	var rec recorder
	l := x.OnChanged().Connect(rec.record, OnDispatcher(ui), AvoidDuplicate())

	set(t, x, 1.0)
	set(t, x, 2.0)
	close(gate)
	flush(t, ui)
	runtime.KeepAlive(l)

	assert.Equal(t, []any{2.0}, rec.snapshot())
}

func TestAvoidDuplicateCollapsesBurst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	x := MustChild(ctx, s, "/x", 0)
	ui := startDispatcher(t, "ui")

	gate := make(chan struct{})
	require.NoError(t, ui.Submit(func() { <-gate }))

	var rec recorder
	l := x.OnChanged().Connect(rec.record, OnDispatcher(ui), AvoidDuplicate())
	for i := 1; i <= 50; i++ {
		set(t, x, i)
	}
	close(gate)
	flush(t, ui)

	set(t, x, 51)
	flush(t, ui)
	runtime.KeepAlive(l)

	assert.Equal(t, []any{50, 51}, rec.snapshot())
}

func TestAvoidDuplicateWithoutDispatcher(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	x := MustChild(ctx, s, "/x", 0)

	gate := make(chan struct{})
	var rec recorder
	l := x.OnChanged().Connect(func(ev Event) {
		<-gate
		rec.record(ev)
	}, AvoidDuplicate())
	for i := 1; i <= 10; i++ {
		set(t, x, i)
	}
	close(gate)

	require.Eventually(t, func() bool {
		got := rec.snapshot()
		return len(got) > 0 && got[len(got)-1] == 10
	}, 5*time.Second, time.Millisecond)
	runtime.KeepAlive(l)

	// the burst lands before the first delivery, or while it is held
	assert.LessOrEqual(t, len(rec.snapshot()), 2)
}

func TestAdaptiveDelayDeliversLatest(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	x := MustChild(ctx, s, "/x", 0)

	var rec recorder
	l := x.OnChanged().Connect(rec.record, AdaptiveDelay(2*time.Millisecond, 20*time.Millisecond))
	for i := 1; i <= 20; i++ {
		set(t, x, i)
	}

	require.Eventually(t, func() bool {
		got := rec.snapshot()
		return len(got) > 0 && got[len(got)-1] == 20
	}, 5*time.Second, 5*time.Millisecond)
	runtime.KeepAlive(l)

	got := rec.snapshot()
	assert.LessOrEqual(t, len(got), 20)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].(int), got[i].(int))
	}
}

func TestMaskSuppressesReentrantNotification(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	n := MustChild(ctx, s, "/range", 1)

	calls := 0
	var l *Listener
	l = n.OnChanged().Connect(func(ev Event) {
		calls++
		l.Mask()
		defer l.Unmask()
		set(t, n, ev.Value.(int)*10)
	})

	set(t, n, 2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 20, n.Load())
	assert.False(t, l.Masked())

	set(t, n, 3)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 30, n.Load())
}

func TestDisconnectStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	n := MustChild(ctx, s, "/n", 0)

	var rec recorder
	l := n.OnChanged().Connect(rec.record)
	set(t, n, 1)
	l.Disconnect()
	set(t, n, 2)

	assert.Equal(t, []any{1}, rec.snapshot())
	assert.Equal(t, 0, n.OnChanged().Len())
}

func connectAndForget(n *Node[int]) {
	n.OnChanged().Connect(func(Event) {})
}

func TestUnreferencedListenersArePruned(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	n := MustChild(ctx, s, "/n", 0)

	connectAndForget(n)
	require.Eventually(t, func() bool {
		runtime.GC()
		return n.OnChanged().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	set(t, n, 1)
	assert.Empty(t, *n.OnChanged().listeners.Load())
}

func TestMultiNodeCommitNotifiesEachNode(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	a := MustChild(ctx, s, "/a", 0)
	b := MustChild(ctx, s, "/b", 0)

	var ra, rb recorder
	la := a.OnChanged().Connect(ra.record)
	lb := b.OnChanged().Connect(rb.record)

	require.NoError(t, WithRetry(ctx, s.Root(), func(tx *Transaction) error {
		a.Set(tx, 1)
		b.Set(tx, 2)
		return nil
	}))
	runtime.KeepAlive(la)
	runtime.KeepAlive(lb)

	assert.Equal(t, []any{1}, ra.snapshot())
	assert.Equal(t, []any{2}, rb.snapshot())
}
