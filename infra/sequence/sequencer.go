package sequence

import "sync/atomic"

// Sequencer numbers the commits of one store and remembers how far those
// commits are covered by a checkpoint.
type Sequencer struct {
	last   atomic.Uint64
	marked atomic.Uint64
}

// New continues numbering after last, which counts as already checkpointed.
func New(last uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	s.marked.Store(last)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Last is the most recently issued number.
func (s *Sequencer) Last() uint64 {
	return s.last.Load()
}

// Restart rewinds or advances numbering to continue after last. Recovery
// uses it once replayed commits have drawn numbers of their own.
func (s *Sequencer) Restart(last uint64) {
	s.last.Store(last)
	for {
		m := s.marked.Load()
		if m <= last || s.marked.CompareAndSwap(m, last) {
			return
		}
	}
}

// Mark records that every commit up to seq is checkpointed. Marks never move
// backwards.
func (s *Sequencer) Mark(seq uint64) {
	for {
		m := s.marked.Load()
		if seq <= m || s.marked.CompareAndSwap(m, seq) {
			return
		}
	}
}

func (s *Sequencer) Marked() uint64 {
	return s.marked.Load()
}

// Unmarked counts commits issued since the last mark.
func (s *Sequencer) Unmarked() uint64 {
	last, m := s.last.Load(), s.marked.Load()
	if last < m {
		return 0
	}
	return last - m
}
