package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// -------------------- Entry --------------------

// Entry is one node's state in a checkpoint.
type Entry struct {
	Path   string
	Serial uint64
	Data   []byte
}

// binary encoding: [serial:8][data]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 8+len(e.Data))
	binary.BigEndian.PutUint64(buf[:8], e.Serial)
	copy(buf[8:], e.Data)
	return buf
}

func decodeEntry(path string, b []byte) (Entry, error) {
	if len(b) < 8 {
		return Entry{}, fmt.Errorf("checkpoint: entry %s too short", path)
	}
	return Entry{
		Path:   path,
		Serial: binary.BigEndian.Uint64(b[:8]),
		Data:   bytes.Clone(b[8:]),
	}, nil
}

// -------------------- Store --------------------

var (
	nodePrefix = []byte("node/")
	nodeUpper  = []byte("node0") // '0' sorts right after '/'
	seqKey     = []byte("meta/seq")
)

// Store keeps the latest model checkpoint in pebble. Each Save replaces the
// previous checkpoint atomically.
type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes entries as the checkpoint taken at commit sequence seq.
func (s *Store) Save(seq uint64, entries []Entry) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(nodePrefix, nodeUpper, nil); err != nil {
		return err
	}
	for _, e := range entries {
		if err := b.Set(keyFor(e.Path), encodeEntry(e), nil); err != nil {
			return err
		}
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], seq)
	if err := b.Set(seqKey, v[:], nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Seq returns the sequence of the stored checkpoint, 0 when there is none.
func (s *Store) Seq() (uint64, error) {
	val, closer, err := s.db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.New("checkpoint: invalid sequence record")
	}
	return binary.BigEndian.Uint64(val), nil
}

// -------------------- Scan --------------------

// Load streams entries in path order and returns the checkpoint sequence.
// Parents sort before their children.
func (s *Store) Load(fn func(Entry) error) (uint64, error) {
	seq, err := s.Seq()
	if err != nil {
		return 0, err
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: nodePrefix,
		UpperBound: nodeUpper,
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(parseKey(iter.Key()), iter.Value())
		if err != nil {
			return 0, err
		}
		if err := fn(e); err != nil {
			return 0, err
		}
	}
	return seq, iter.Error()
}

// -------------------- Helpers --------------------

func keyFor(path string) []byte {
	return append(bytes.Clone(nodePrefix), path...)
}

func parseKey(b []byte) string {
	return string(bytes.TrimPrefix(b, nodePrefix))
}
