package memory

import (
	"sync/atomic"
	"unsafe"
)

const dirSegmentSize = 1024

type dirSegment [dirSegmentSize]atomic.Pointer[chunk]

// directory maps chunk ids to chunks. Its capacity is fixed when the
// allocator is built; segments are created the first time an id lands in them.
type directory struct {
	segments []atomic.Pointer[dirSegment]
}

func newDirectory(maxChunks int) *directory {
	return &directory{
		segments: make([]atomic.Pointer[dirSegment], (maxChunks+dirSegmentSize-1)/dirSegmentSize),
	}
}

func (d *directory) get(id uint32) *chunk {
	seg := d.segments[id/dirSegmentSize].Load()
	if seg == nil {
		return nil
	}
	return seg[id%dirSegmentSize].Load()
}

func (d *directory) put(c *chunk) {
	sp := &d.segments[c.id/dirSegmentSize]
	seg := sp.Load()
	if seg == nil {
		fresh := new(dirSegment)
		if !sp.CompareAndSwap(nil, fresh) {
			seg = sp.Load()
		} else {
			seg = fresh
		}
	}
	seg[c.id%dirSegmentSize].Store(c)
}

// region is one mapped block split into ChunkSize chunks.
type region struct {
	mem        []byte
	base, end  uintptr
	firstChunk uint32
	chunks     uint32
	next       atomic.Uint32 // next chunk index to carve
}

func newRegion(mem []byte, firstChunk uint32) *region {
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	return &region{
		mem:        mem,
		base:       base,
		end:        base + uintptr(len(mem)),
		firstChunk: firstChunk,
		chunks:     uint32(len(mem) / ChunkSize),
	}
}

func (r *region) contains(addr uintptr) bool {
	return addr >= r.base && addr < r.end
}

func (r *region) chunkID(addr uintptr) uint32 {
	return r.firstChunk + uint32((addr-r.base)/ChunkSize)
}
