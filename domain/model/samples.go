package model

import (
	"runtime"
	"slices"
	"unsafe"

	"strata/infra/memory"
)

// Samples is an immutable series of float64 readings whose backing array
// lives in pool memory. The memory goes back to the allocator once the last
// Samples sharing it is unreachable; until then the allocator refuses to
// close.
type Samples struct {
	h *samplesBuf
}

type samplesBuf struct {
	alloc memory.Allocator
	vals  []float64
}

type samplesRelease struct {
	alloc memory.Allocator
	raw   []byte
}

func newSamplesBuf(a memory.Allocator, n int) *samplesBuf {
	raw := a.Allocate(n * 8)
	b := &samplesBuf{
		alloc: a,
		vals:  unsafe.Slice((*float64)(unsafe.Pointer(unsafe.SliceData(raw))), n),
	}
	runtime.AddCleanup(b, func(r samplesRelease) { r.alloc.Deallocate(r.raw) }, samplesRelease{alloc: a, raw: raw})
	return b
}

// NewSamples copies vals into memory from a. A nil a uses memory.Default.
func NewSamples(a memory.Allocator, vals ...float64) Samples {
	if len(vals) == 0 {
		return Samples{}
	}
	if a == nil {
		a = memory.Default()
	}
	b := newSamplesBuf(a, len(vals))
	copy(b.vals, vals)
	return Samples{h: b}
}

func (s Samples) Len() int {
	if s.h == nil {
		return 0
	}
	return len(s.h.vals)
}

func (s Samples) At(i int) float64 {
	v := s.h.vals[i]
	runtime.KeepAlive(s.h)
	return v
}

// Values returns a copy.
func (s Samples) Values() []float64 {
	if s.h == nil {
		return nil
	}
	out := slices.Clone(s.h.vals)
	runtime.KeepAlive(s.h)
	return out
}

// Read passes the backing array to fn without copying. fn must not write
// to it or keep it after returning.
func (s Samples) Read(fn func([]float64)) {
	if s.h == nil {
		fn(nil)
		return
	}
	fn(s.h.vals)
	runtime.KeepAlive(s.h)
}

// With returns a copy of s with element i replaced.
func (s Samples) With(i int, v float64) Samples {
	out := s.grow(0)
	out.h.vals[i] = v
	return out
}

func (s Samples) Append(vals ...float64) Samples {
	if len(vals) == 0 {
		return s
	}
	n := s.Len()
	out := s.grow(len(vals))
	copy(out.h.vals[n:], vals)
	return out
}

func (s Samples) Equal(o Samples) bool {
	if s.Len() != o.Len() {
		return false
	}
	if s.h == nil {
		return true
	}
	eq := slices.Equal(s.h.vals, o.h.vals)
	runtime.KeepAlive(s.h)
	runtime.KeepAlive(o.h)
	return eq
}

func (s Samples) grow(extra int) Samples {
	var a memory.Allocator
	if s.h != nil {
		a = s.h.alloc
	} else {
		a = memory.Default()
	}
	b := newSamplesBuf(a, s.Len()+extra)
	if s.h != nil {
		copy(b.vals, s.h.vals)
		runtime.KeepAlive(s.h)
	}
	return Samples{h: b}
}
