package model

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"strata/infra/queue"
)

// Dispatcher is a designated delivery goroutine, locked to one OS thread
// while Run is active. Work reaches it through a bounded mailbox.
type Dispatcher struct {
	name    string
	mailbox *queue.Recycling[func()]
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
	running atomic.Bool
	gid     atomic.Int64
	log     zerolog.Logger
}

func NewDispatcher(name string, mailbox int, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		name:    name,
		mailbox: queue.NewRecycling[func()](mailbox),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		log:     log.With().Str("dispatcher", name).Logger(),
	}
}

func (d *Dispatcher) Name() string { return d.name }

// Submit queues task. It fails with queue.ErrNoSpace when the mailbox is
// full and ErrClosed after Close.
func (d *Dispatcher) Submit(task func()) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if err := d.mailbox.Push(task); err != nil {
		return fmt.Errorf("dispatcher %s: %w", d.name, err)
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// SubmitAfter queues task once delay has passed. A task that cannot be
// queued at that point is logged and dropped.
func (d *Dispatcher) SubmitAfter(delay time.Duration, task func()) *time.Timer {
	return time.AfterFunc(delay, func() {
		if err := d.Submit(task); err != nil {
			d.log.Warn().Err(err).Msg("delayed task dropped")
		}
	})
}

// IsCurrent reports whether the caller is running on the dispatcher.
func (d *Dispatcher) IsCurrent() bool {
	id := d.gid.Load()
	return id != 0 && id == goid()
}

// Pending is the number of queued tasks.
func (d *Dispatcher) Pending() int {
	return d.mailbox.Len()
}

// Run executes queued tasks until ctx ends or Close is called. A Dispatcher
// runs at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher %s: already running", d.name)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	d.gid.Store(goid())
	defer d.gid.Store(0)

	d.log.Debug().Msg("dispatcher started")
	for {
		for {
			task, ok := d.mailbox.Pop()
			if !ok {
				break
			}
			d.run(task)
			if d.closed.Load() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			d.log.Debug().Msg("dispatcher stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-d.done:
			return nil
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("dispatcher task panicked")
		}
	}()
	task()
}

// Close stops Run. Queued tasks are dropped.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
	})
}
