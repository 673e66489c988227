package model

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/infra/memory"
)

func newSamplesAllocator(t *testing.T) *memory.PoolAllocator {
	t.Helper()
	a, err := memory.New(memory.Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})
	require.NoError(t, err)
	return a
}

func TestSamplesCopyOnWrite(t *testing.T) {
	a := newSamplesAllocator(t)

	s := NewSamples(a, 1, 2, 3)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2.0, s.At(1))

	t2 := s.With(1, 20)
	assert.Equal(t, []float64{1, 2, 3}, s.Values())
	assert.Equal(t, []float64{1, 20, 3}, t2.Values())

	t3 := s.Append(4, 5)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, t3.Values())
	assert.True(t, s.Equal(NewSamples(a, 1, 2, 3)))
	assert.False(t, s.Equal(t2))

	var sum float64
	t3.Read(func(vs []float64) {
		for _, v := range vs {
			sum += v
		}
	})
	assert.Equal(t, 15.0, sum)

	var empty Samples
	assert.Zero(t, empty.Len())
	assert.Nil(t, empty.Values())
	assert.True(t, empty.Equal(NewSamples(a)))
}

func dropSamples(a memory.Allocator) {
	for i := 0; i < 16; i++ {
		_ = NewSamples(a, float64(i), float64(i+1))
	}
}

func TestSamplesMemoryReturnsToPool(t *testing.T) {
	a := newSamplesAllocator(t)

	dropSamples(a)
	assert.EqualValues(t, 16, a.Stats().PooledAllocations)
	require.Eventually(t, func() bool {
		runtime.GC()
		return a.Stats().LiveAllocations == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSamplesAsNodeValue(t *testing.T) {
	s := NewStore(WithAllocator(newSamplesAllocator(t)))
	trace := MustChild(t.Context(), s, "/scope/trace", NewSamples(s.Allocator(), 0, 0, 0))

	set(t, trace, trace.Load().With(2, 9.5))
	snap := s.Snapshot()
	assert.Equal(t, []float64{0, 0, 9.5}, trace.Get(snap).Values())
}

func TestLiveSamplesKeepAllocatorOpen(t *testing.T) {
	a := newSamplesAllocator(t)
	s := NewSamples(a, 1.5, 2.5)

	assert.ErrorIs(t, a.Close(), memory.ErrInUse)
	assert.Equal(t, []float64{1.5, 2.5}, s.Values())
	runtime.KeepAlive(s)
}
