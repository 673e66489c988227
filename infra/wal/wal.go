package wal

import (
	"errors"
	"os"
	"sync"
)

var ErrClosed = errors.New("wal: closed")

type Config struct {
	Dir         string
	SegmentSize int64
	// Sync forces an fsync after every append.
	Sync bool
}

// WAL is the commit journal: CRC-framed records in size-rotated segments.
// Appends are serialized; records from concurrent commits land in whatever
// order their hooks reach the journal.
type WAL struct {
	mu      sync.Mutex
	dir     string
	segSize int64
	sync    bool
	current *segment
	closed  bool
}

// Open starts a fresh segment after any existing ones.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	indexes, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(indexes) > 0 {
		next = indexes[len(indexes)-1] + 1
	}
	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}
	return &WAL{
		dir:     cfg.Dir,
		segSize: cfg.SegmentSize,
		sync:    cfg.Sync,
		current: seg,
	}, nil
}

func (w *WAL) Dir() string { return w.dir }

func (w *WAL) Append(r *Record) error {
	buf, err := r.encode()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.current.append(buf); err != nil {
		return err
	}
	if w.sync {
		if err := w.current.sync(); err != nil {
			return err
		}
	}
	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

func (w *WAL) rotate() error {
	_ = w.current.close()
	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// TruncateBefore deletes closed segments whose records all have a sequence
// at or below seq.
func (w *WAL) TruncateBefore(seq uint64) (removed int, err error) {
	w.mu.Lock()
	current := w.current.index
	w.mu.Unlock()

	indexes, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}
	for _, idx := range indexes {
		if idx >= current {
			continue
		}
		path := segmentPath(w.dir, idx)
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Rotate closes the current segment so TruncateBefore can drop it.
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.current.offset == 0 {
		return nil
	}
	return w.rotate()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return err
	}
	return w.current.close()
}
