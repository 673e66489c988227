package memory

import (
	"errors"
	"fmt"
	"math/bits"
	"runtime"
	"sync/atomic"
	"unsafe"

	"strata/infra/queue"
)

// ErrInUse is returned by Close while pooled buffers are still live.
var ErrInUse = errors.New("memory: pooled buffers still in use")

// Allocator serves byte buffers for payload storage. Deallocate reports
// whether b came from a pool; buffers it does not own are left to the GC.
type Allocator interface {
	Allocate(size int) []byte
	Deallocate(b []byte) bool
	Stats() Stats
}

// DefaultRegionSize is the amount of address space mapped at a time.
const DefaultRegionSize = 4 << 20

// DefaultMaxBytes bounds the pooled address space: 16 GiB with 64-bit
// pointers, 2 GiB otherwise.
func DefaultMaxBytes() int64 {
	if bits.UintSize == 64 {
		return 16 << 30
	}
	return 2 << 30
}

type Config struct {
	MaxBytes   int64
	RegionSize int
}

func (c Config) withDefaults() Config {
	if c.MaxBytes == 0 {
		c.MaxBytes = DefaultMaxBytes()
	}
	if c.RegionSize == 0 {
		c.RegionSize = DefaultRegionSize
	}
	return c
}

func (c Config) validate() error {
	if c.RegionSize <= 0 || c.RegionSize%ChunkSize != 0 {
		return fmt.Errorf("memory: region size %d is not a positive multiple of %d", c.RegionSize, ChunkSize)
	}
	if c.MaxBytes < int64(c.RegionSize) {
		return fmt.Errorf("memory: max bytes %d below one region (%d)", c.MaxBytes, c.RegionSize)
	}
	return nil
}

// classPool lists the chunks formatted for one size class. The list is
// copy-on-write so allocators scan it without a lock.
type classPool struct {
	chunks atomic.Pointer[[]*chunk]
	cursor atomic.Uint32
}

func (p *classPool) load() []*chunk {
	if l := p.chunks.Load(); l != nil {
		return *l
	}
	return nil
}

func (p *classPool) add(c *chunk) {
	for {
		old := p.chunks.Load()
		var next []*chunk
		if old != nil {
			next = make([]*chunk, len(*old), len(*old)+1)
			copy(next, *old)
		}
		next = append(next, c)
		if p.chunks.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (p *classPool) remove(c *chunk) {
	for {
		old := p.chunks.Load()
		if old == nil {
			return
		}
		next := make([]*chunk, 0, len(*old))
		for _, x := range *old {
			if x != c {
				next = append(next, x)
			}
		}
		if p.chunks.CompareAndSwap(old, &next) {
			return
		}
	}
}

// PoolAllocator is the chunked, segregated-size allocator.
type PoolAllocator struct {
	cfg             Config
	chunksPerRegion int

	dir      *directory
	regions  []atomic.Pointer[region]
	nregions atomic.Int32
	growing  atomic.Bool
	reserve  *queue.Bounded // ids+1 of emptied chunks
	classes  [numClasses]classPool
	owners   atomic.Uint64
	closing  atomic.Bool // Allocate falls back to the heap
	closed   atomic.Bool

	liveAllocs atomic.Int64
	liveBytes  atomic.Int64
	pooled     atomic.Uint64
	fallback   atomic.Uint64
	carved     atomic.Int64
}

// New builds an allocator. No address space is mapped until the first
// pooled allocation.
func New(cfg Config) (*PoolAllocator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	maxChunks := int(cfg.MaxBytes / ChunkSize)
	return &PoolAllocator{
		cfg:             cfg,
		chunksPerRegion: cfg.RegionSize / ChunkSize,
		dir:             newDirectory(maxChunks),
		regions:         make([]atomic.Pointer[region], cfg.MaxBytes/int64(cfg.RegionSize)),
		reserve:         queue.NewBounded(maxChunks),
	}, nil
}

// Allocate returns a zeroed, 8-byte aligned buffer of exactly size bytes.
// Requests no pool can serve come from the Go heap.
func (a *PoolAllocator) Allocate(size int) []byte {
	if size <= 0 {
		return nil
	}
	if cls := classFor(size); cls >= 0 {
		// Counted live before the closing check, so Close either sees this
		// allocation or this allocation sees Close.
		a.liveAllocs.Add(1)
		if !a.closing.Load() {
			if b := a.allocateFrom(cls, size); b != nil {
				clear(b)
				a.pooled.Add(1)
				a.liveBytes.Add(int64(size))
				return b
			}
		}
		a.liveAllocs.Add(-1)
	}
	a.fallback.Add(1)
	return make([]byte, size)
}

func (a *PoolAllocator) allocateFrom(cls, size int) []byte {
	cp := &a.classes[cls]
	units := 1
	if cls == variableClass {
		units = roundUp(size, Alignment) / Alignment
	}
	owner := a.owners.Add(1)

	// Second pass only when the first skipped chunks held by someone else.
	for pass := 0; pass < 2; pass++ {
		list := cp.load()
		busy := false
		if n := len(list); n > 0 {
			start := int(cp.cursor.Load()) % n
			for i := 0; i < n; i++ {
				k := (start + i) % n
				c := list[k]
				if c.looksFull(units) {
					continue
				}
				if !c.tryClaim(owner) {
					busy = true
					continue
				}
				var b []byte
				if c.class == cls {
					b = c.take(size)
				}
				c.unclaim(owner)
				if b != nil {
					cp.cursor.Store(uint32(k))
					return b
				}
			}
		}
		if !busy {
			break
		}
		runtime.Gosched()
	}

	c := a.acquireChunk()
	if c == nil {
		return nil
	}
	c.claim(owner)
	c.format(cls)
	b := c.take(size)
	c.unclaim(owner)
	cp.add(c)
	return b
}

func (a *PoolAllocator) acquireChunk() *chunk {
	if w, ok := a.reserve.AtomicPopAny(); ok {
		return a.dir.get(uint32(w - 1))
	}
	return a.carve()
}

// carve takes the next unused chunk, mapping a new region when the current
// one is exhausted. It returns nil once MaxBytes is mapped.
func (a *PoolAllocator) carve() *chunk {
	for {
		n := a.nregions.Load()
		if n > 0 {
			r := a.regions[n-1].Load()
			for idx := r.next.Load(); idx < r.chunks; idx = r.next.Load() {
				if !r.next.CompareAndSwap(idx, idx+1) {
					continue
				}
				off := int(idx) * ChunkSize
				c := newChunk(r.firstChunk+idx, r.mem[off:off+ChunkSize:off+ChunkSize], r.base+uintptr(off))
				a.dir.put(c)
				a.carved.Add(1)
				return c
			}
		}
		if int(n) >= len(a.regions) || a.closing.Load() {
			return nil
		}
		if !a.growing.CompareAndSwap(false, true) {
			runtime.Gosched()
			continue
		}
		if a.nregions.Load() == n {
			mem, err := mapRegion(a.cfg.RegionSize)
			if err != nil {
				a.growing.Store(false)
				return nil
			}
			a.regions[n].Store(newRegion(mem, uint32(int(n)*a.chunksPerRegion)))
			a.nregions.Store(n + 1)
		}
		a.growing.Store(false)
	}
}

func (a *PoolAllocator) lookup(addr uintptr) *chunk {
	n := int(a.nregions.Load())
	for i := 0; i < n; i++ {
		if r := a.regions[i].Load(); r.contains(addr) {
			return a.dir.get(r.chunkID(addr))
		}
	}
	return nil
}

// Deallocate returns b to its chunk. b must start where Allocate's result
// started. It returns false for buffers the pools do not own.
func (a *PoolAllocator) Deallocate(b []byte) bool {
	if cap(b) == 0 || a.closed.Load() {
		return false
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	c := a.lookup(addr)
	if c == nil {
		return false
	}

	cls, retire := a.release(c, addr)
	a.liveAllocs.Add(-1)
	a.liveBytes.Add(-int64(cap(b)))
	if retire {
		a.classes[cls].remove(c)
		if err := a.reserve.Push(uint64(c.id) + 1); err != nil {
			// the reserve holds every chunk id
			panic(err)
		}
	}
	return true
}

// release clears addr in c and reports whether c should go back to the
// reserve. A misuse panic leaves the chunk unclaimed.
func (a *PoolAllocator) release(c *chunk, addr uintptr) (cls int, retire bool) {
	owner := a.owners.Add(1)
	c.claim(owner)
	defer c.unclaim(owner)
	if c.class == classFree {
		panic(fmt.Sprintf("memory: free of %#x in unassigned chunk %d", addr, c.id))
	}
	cls = c.class
	c.give(addr)
	if c.empty() && len(a.classes[cls].load()) > 1 {
		c.class = classFree
		c.limit.Store(0)
		retire = true
	}
	return cls, retire
}

// Close unmaps every region. It fails with ErrInUse, leaving the allocator
// usable, while any pooled buffer is still live.
func (a *PoolAllocator) Close() error {
	if a.closed.Load() || !a.closing.CompareAndSwap(false, true) {
		return nil
	}
	// Allocate no longer hands out pool memory, so the live count only falls.
	if n := a.liveAllocs.Load(); n > 0 {
		a.closing.Store(false)
		return fmt.Errorf("%w: %d live", ErrInUse, n)
	}
	a.closed.Store(true)
	var errs []error
	n := int(a.nregions.Load())
	for i := 0; i < n; i++ {
		if err := unmapRegion(a.regions[i].Load().mem); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
