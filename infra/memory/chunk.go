package memory

import (
	"fmt"
	"math/bits"
	"runtime"
	"sync/atomic"
)

const claimIdle uint64 = 0

// chunk is one ChunkSize slice of a region. Its bitmaps and class are only
// touched by the goroutine holding the claim.
type chunk struct {
	id   uint32
	mem  []byte
	base uintptr

	// state is claimIdle or the token of the claiming operation.
	state atomic.Uint64
	// used and limit mirror the bitmap fill for lock-free full checks.
	used  atomic.Int32
	limit atomic.Int32

	class    int
	slot     int
	nbits    int
	occupied []uint64
	ends     []uint64 // variable class only: last unit of each allocation
	hint     int
}

func newChunk(id uint32, mem []byte, base uintptr) *chunk {
	c := &chunk{
		id:       id,
		mem:      mem,
		base:     base,
		class:    classFree,
		occupied: make([]uint64, ChunkSize/Alignment/64),
	}
	return c
}

func (c *chunk) tryClaim(owner uint64) bool {
	return c.state.CompareAndSwap(claimIdle, owner)
}

// claim spins until owner holds the chunk. Claims only cover bitmap updates,
// so the wait is short.
func (c *chunk) claim(owner uint64) {
	for i := 1; !c.tryClaim(owner); i++ {
		if i%64 == 0 {
			runtime.Gosched()
		}
	}
}

func (c *chunk) unclaim(owner uint64) {
	if !c.state.CompareAndSwap(owner, claimIdle) {
		panic(fmt.Sprintf("memory: chunk %d released by non-owner", c.id))
	}
}

// format prepares a claimed chunk for class cls.
func (c *chunk) format(cls int) {
	c.class = cls
	c.hint = 0
	c.used.Store(0)
	clear(c.occupied)
	if cls == variableClass {
		c.slot = Alignment
		c.nbits = ChunkSize / Alignment
		if c.ends == nil {
			c.ends = make([]uint64, len(c.occupied))
		}
		clear(c.ends)
		c.limit.Store(int32(c.nbits))
		return
	}
	c.slot = sizeClasses[cls]
	c.nbits = ChunkSize / c.slot
	c.limit.Store(int32(c.nbits))
	// bits past the last slot stay set so they are never handed out
	for i := c.nbits; i < len(c.occupied)*64; i++ {
		c.occupied[i>>6] |= 1 << (i & 63)
	}
}

// looksFull is a racy hint used to skip chunks without claiming them.
func (c *chunk) looksFull(units int) bool {
	return c.used.Load()+int32(units) > c.limit.Load()
}

// take carves size bytes from a claimed chunk, or returns nil.
func (c *chunk) take(size int) []byte {
	if c.class == variableClass {
		return c.takeRun(size)
	}
	words := (c.nbits + 63) / 64
	for i := 0; i < words; i++ {
		w := (c.hint + i) % words
		free := ^c.occupied[w]
		if free == 0 {
			continue
		}
		bit := bits.TrailingZeros64(free)
		c.occupied[w] |= 1 << bit
		c.hint = w
		c.used.Add(1)
		off := (w*64 + bit) * c.slot
		return c.mem[off : off+size : off+size]
	}
	return nil
}

func (c *chunk) takeRun(size int) []byte {
	n := roundUp(size, Alignment) / Alignment
	start := findRun(c.occupied, c.nbits, n, c.hint)
	if start < 0 && c.hint != 0 {
		start = findRun(c.occupied, c.nbits, n, 0)
	}
	if start < 0 {
		return nil
	}
	setRange(c.occupied, start, n)
	c.ends[(start+n-1)>>6] |= 1 << ((start + n - 1) & 63)
	c.hint = start + n
	if c.hint >= c.nbits {
		c.hint = 0
	}
	c.used.Add(int32(n))
	off := start * Alignment
	return c.mem[off : off+size : off+size]
}

// give returns the allocation at addr to a claimed chunk and reports the
// number of bytes freed.
func (c *chunk) give(addr uintptr) int {
	off := int(addr - c.base)
	if off%c.slot != 0 {
		panic(fmt.Sprintf("memory: %#x is not an allocation start in chunk %d", addr, c.id))
	}
	i := off / c.slot
	if i >= c.nbits {
		panic(fmt.Sprintf("memory: %#x is past the last slot of chunk %d", addr, c.id))
	}
	if c.occupied[i>>6]&(1<<(i&63)) == 0 {
		panic(fmt.Sprintf("memory: double free of %#x", addr))
	}
	if c.class != variableClass {
		c.occupied[i>>6] &^= 1 << (i & 63)
		c.used.Add(-1)
		return c.slot
	}
	end := nextSet(c.ends, i, c.nbits)
	if end < 0 {
		panic(fmt.Sprintf("memory: missing end marker for %#x", addr))
	}
	n := end - i + 1
	clearRange(c.occupied, i, n)
	c.ends[end>>6] &^= 1 << (end & 63)
	c.used.Add(-int32(n))
	if i < c.hint {
		c.hint = i
	}
	return n * Alignment
}

func (c *chunk) empty() bool {
	return c.used.Load() == 0
}

// findRun returns the first index >= from of n consecutive clear bits.
func findRun(words []uint64, nbits, n, from int) int {
	run, start := 0, 0
	for i := from; i < nbits; {
		w := words[i>>6]
		if i&63 == 0 && w == ^uint64(0) {
			run = 0
			i += 64
			continue
		}
		if w&(1<<(i&63)) != 0 {
			run = 0
			i++
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			return start
		}
		i++
	}
	return -1
}

func nextSet(words []uint64, from, nbits int) int {
	for i := from; i < nbits; {
		w := words[i>>6] >> (i & 63)
		if w != 0 {
			return i + bits.TrailingZeros64(w)
		}
		i = (i>>6 + 1) << 6
	}
	return -1
}

func setRange(words []uint64, start, n int) {
	for i := start; i < start+n; i++ {
		words[i>>6] |= 1 << (i & 63)
	}
}

func clearRange(words []uint64, start, n int) {
	for i := start; i < start+n; i++ {
		words[i>>6] &^= 1 << (i & 63)
	}
}
