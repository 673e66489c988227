package queue

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reading struct {
	channel int
	value   float64
}

func TestRecyclingRoundTrip(t *testing.T) {
	q := NewRecycling[reading](4)
	for i := 0; i < 1000; i++ {
		v := reading{channel: i % 3, value: float64(i) / 2}
		require.NoError(t, q.Push(v))
		got, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, v, got)
		require.Equal(t, q.Cap(), q.Len()+q.Free())
	}
}

func TestRecyclingFullAndOrder(t *testing.T) {
	q := NewRecycling[string](3)
	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))
	require.NoError(t, q.Push("c"))
	assert.ErrorIs(t, q.Push("d"), ErrNoSpace)
	assert.Equal(t, 0, q.Free())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 3, q.Free())
}

func TestRecyclingConcurrent(t *testing.T) {
	const (
		producers   = 4
		perProducer = 3000
	)
	q := NewRecycling[reading](8)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for q.Push(reading{channel: p, value: float64(i)}) != nil {
					runtime.Gosched()
				}
			}
		}(p)
	}

	next := make([]float64, producers)
	for n := 0; n < producers*perProducer; {
		v, ok := q.Pop()
		if !ok {
			runtime.Gosched()
			continue
		}
		require.Equal(t, next[v.channel], v.value)
		next[v.channel]++
		n++
	}
	wg.Wait()
	assert.Equal(t, q.Cap(), q.Free())
}
