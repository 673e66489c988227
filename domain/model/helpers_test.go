package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// panicErr runs fn and returns the error it panicked with.
func panicErr(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		e, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		err = e
	}()
	fn()
	return nil
}

func set[T any](t *testing.T, n *Node[T], v T) {
	t.Helper()
	require.NoError(t, WithRetry(context.Background(), n, func(tx *Transaction) error {
		n.Set(tx, v)
		return nil
	}))
}
