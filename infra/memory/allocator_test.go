package memory

import (
	"math/rand/v2"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, cfg Config) *PoolAllocator {
	t.Helper()
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

func TestAllocateRoundTrip(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 64 << 20, RegionSize: 1 << 20})

	for _, size := range []int{1, 7, 8, 9, 24, 100, 700, 2048, 2049, 5000, MaxVariableSize} {
		b := a.Allocate(size)
		require.Len(t, b, size)
		assert.Zero(t, addrOf(b)%Alignment, "size %d", size)
		for i := range b {
			b[i] = byte(i)
		}
		assert.True(t, a.Deallocate(b), "size %d", size)
	}
	st := a.Stats()
	assert.Zero(t, st.LiveAllocations)
	assert.Zero(t, st.LiveBytes)
	assert.Zero(t, st.FallbackAllocations)
}

func TestAllocateIsZeroed(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})
	b := a.Allocate(64)
	for i := range b {
		b[i] = 0xff
	}
	require.True(t, a.Deallocate(b))
	b = a.Allocate(64)
	assert.Equal(t, make([]byte, 64), b)
}

func TestSlotReusedByCompatibleClass(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})

	b := a.Allocate(24)
	first := addrOf(b)
	require.True(t, a.Deallocate(b))

	b = a.Allocate(17)
	assert.Equal(t, first, addrOf(b))
	require.True(t, a.Deallocate(b))
}

func TestVariableSizeRecoveredFromAddress(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})

	x := a.Allocate(3000)
	y := a.Allocate(5000)
	assert.Equal(t, addrOf(x)+3000, addrOf(y))

	require.True(t, a.Deallocate(x))
	require.True(t, a.Deallocate(y))
	assert.Zero(t, a.Stats().LiveBytes)

	z := a.Allocate(5000)
	assert.Equal(t, addrOf(x), addrOf(z))
}

func TestFallbackAllocations(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})

	big := a.Allocate(MaxVariableSize + 1)
	assert.Len(t, big, MaxVariableSize+1)
	assert.False(t, a.Deallocate(big))
	assert.False(t, a.Deallocate(make([]byte, 16)))
	assert.False(t, a.Deallocate(nil))
	assert.Nil(t, a.Allocate(0))
	assert.EqualValues(t, 1, a.Stats().FallbackAllocations)
}

func TestExhaustionFallsBack(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 2 * ChunkSize, RegionSize: 2 * ChunkSize})

	perChunk := ChunkSize / 2048
	var held [][]byte
	for i := 0; i < 2*perChunk; i++ {
		b := a.Allocate(2048)
		held = append(held, b)
	}
	extra := a.Allocate(2048)
	assert.False(t, a.Deallocate(extra))
	assert.EqualValues(t, 1, a.Stats().FallbackAllocations)

	for _, b := range held {
		require.True(t, a.Deallocate(b))
	}
}

func TestEmptyChunkMovesToAnotherClass(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 2 * ChunkSize, RegionSize: 2 * ChunkSize})

	perChunk := ChunkSize / 2048
	held := make([][]byte, 0, 2*perChunk)
	for i := 0; i < 2*perChunk; i++ {
		held = append(held, a.Allocate(2048))
	}
	for _, b := range held {
		require.True(t, a.Deallocate(b))
	}
	assert.Equal(t, 1, a.Stats().ReserveChunks)

	small := a.Allocate(8)
	assert.True(t, a.Deallocate(small))
	st := a.Stats()
	assert.EqualValues(t, 2, st.Chunks)
	assert.Zero(t, st.ReserveChunks)
	assert.Zero(t, st.FallbackAllocations)
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})
	b := a.Allocate(32)
	keep := a.Allocate(32)
	require.True(t, a.Deallocate(b))
	assert.Panics(t, func() { a.Deallocate(b) })
	require.True(t, a.Deallocate(keep))
}

func TestConcurrentAllocate(t *testing.T) {
	a := newTestAllocator(t, Config{MaxBytes: 64 << 20, RegionSize: 1 << 20})
	sizes := []int{8, 16, 40, 100, 256, 1000, 2048, 3000, 9000}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan string, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 7))
			var live [][]byte
			for i := 0; i < 2000; i++ {
				if len(live) > 0 && rng.IntN(3) == 0 {
					k := rng.IntN(len(live))
					b := live[k]
					for _, x := range b {
						if x != byte(w) {
							errs <- "buffer overwritten by another goroutine"
							return
						}
					}
					if !a.Deallocate(b) {
						errs <- "pooled buffer not recognised"
						return
					}
					live[k] = live[len(live)-1]
					live = live[:len(live)-1]
					continue
				}
				b := a.Allocate(sizes[rng.IntN(len(sizes))])
				for j := range b {
					b[j] = byte(w)
				}
				live = append(live, b)
			}
			for _, b := range live {
				a.Deallocate(b)
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	assert.Zero(t, a.Stats().LiveAllocations)
}

func TestClosedAllocatorUsesHeap(t *testing.T) {
	a, err := New(Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	b := a.Allocate(32)
	assert.Len(t, b, 32)
	assert.False(t, a.Deallocate(b))
}

func TestCloseRefusesWhileBuffersLive(t *testing.T) {
	a, err := New(Config{MaxBytes: 8 << 20, RegionSize: 1 << 20})
	require.NoError(t, err)

	b := a.Allocate(64)
	b[0] = 7
	assert.ErrorIs(t, a.Close(), ErrInUse)

	// still open: pooled allocations keep working
	c := a.Allocate(64)
	assert.EqualValues(t, 2, a.Stats().PooledAllocations)
	assert.Equal(t, byte(7), b[0])
	assert.True(t, a.Deallocate(b))
	assert.True(t, a.Deallocate(c))

	require.NoError(t, a.Close())
	assert.Zero(t, a.Stats().LiveAllocations)
}

func TestShutdownKeepsAllocatorWithLiveBuffers(t *testing.T) {
	first := Default()
	b := first.Allocate(48)

	assert.ErrorIs(t, Shutdown(), ErrInUse)
	assert.Same(t, first, Default())

	assert.True(t, first.Deallocate(b))
	require.NoError(t, Shutdown())
	assert.NotSame(t, first, Default())
	require.NoError(t, Shutdown())
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{RegionSize: ChunkSize + 1})
	assert.Error(t, err)
	_, err = New(Config{MaxBytes: ChunkSize, RegionSize: 2 * ChunkSize})
	assert.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	first := Default()
	assert.Same(t, first, Default())

	b := first.Allocate(48)
	assert.True(t, first.Deallocate(b))

	require.NoError(t, Shutdown())
	second := Default()
	assert.NotSame(t, first, second)
	require.NoError(t, Shutdown())
}

func TestPoolResetsOnPut(t *testing.T) {
	type scratch struct{ buf []int }
	p := NewPool(func() *scratch { return &scratch{} }, func(s *scratch) { s.buf = s.buf[:0] })

	s := p.Get()
	s.buf = append(s.buf, 1, 2, 3)
	p.Put(s)
	p.Put(nil)

	assert.Empty(t, s.buf)
	assert.NotNil(t, p.Get())
}
