package model

import (
	"context"
	"runtime"
	"time"
)

// WithRetry runs fn against a fresh transaction on n and commits, starting
// over from a new baseline whenever another writer wins. It stops when a
// commit succeeds, fn returns an error, or ctx is done. fn must not commit
// or discard the transaction itself and may run several times. Unlike Begin
// and Commit, a node released by a concurrent writer is reported as
// ErrReleased rather than a panic.
func WithRetry(ctx context.Context, n Noder, fn func(tx *Transaction) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx, err := begin(n)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Discard()
			return err
		}
		ok, err := tx.commit()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		backoff(attempt)
	}
}

func backoff(attempt int) {
	switch {
	case attempt < 4:
	case attempt < 16:
		runtime.Gosched()
	default:
		time.Sleep(min(time.Duration(attempt-15)*10*time.Microsecond, time.Millisecond))
	}
}
