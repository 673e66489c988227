package wal

import (
	"errors"
	"io"
	"os"
)

type ReplayHandler func(*Record) error

// Replay streams every record in segment order and returns the highest
// sequence seen. Records of concurrent commits may appear out of sequence
// order; handlers order them by node serial. A torn record at the end of a
// segment ends that segment.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	indexes, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	for _, idx := range indexes {
		if err := replaySegment(segmentPath(dir, idx), &lastSeq, fn); err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, lastSeq *uint64, fn ReplayHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}
		*lastSeq = max(*lastSeq, rec.Seq)
		if err := fn(rec); err != nil {
			return err
		}
	}
}
