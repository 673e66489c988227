package service

import (
	"context"
	"errors"
	"time"

	"strata/domain/model"
	"strata/infra/checkpoint"
)

var ErrNoCheckpoint = errors.New("service: no checkpoint store")

// Checkpoint writes the whole model to the checkpoint store and drops the
// journal segments it covers.
//
// The sequence is read before the snapshot: a commit takes its sequence only
// after it is visible, so every commit at or below seq is in the snapshot.
func (s *ModelService) Checkpoint() (uint64, error) {
	if s.ckpt == nil {
		return 0, ErrNoCheckpoint
	}
	seq := s.store.Sequencer().Last()
	snap := s.store.Snapshot()

	entries := make([]checkpoint.Entry, 0, snap.Len())
	err := snap.Walk(func(p string, n model.Noder) error {
		data, err := MarshalValue(snap.Value(n))
		if err != nil {
			return err
		}
		entries = append(entries, checkpoint.Entry{Path: p, Serial: snap.Serial(n), Data: data})
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.ckpt.Save(seq, entries); err != nil {
		return 0, err
	}
	s.store.Sequencer().Mark(seq)

	removed := 0
	if s.journal != nil {
		if err := s.journal.Rotate(); err != nil {
			return seq, err
		}
		if removed, err = s.journal.TruncateBefore(seq); err != nil {
			return seq, err
		}
	}
	s.log.Debug().
		Uint64("seq", seq).
		Int("nodes", len(entries)).
		Int("segments_removed", removed).
		Msg("checkpoint saved")
	return seq, nil
}

// RunCheckpoints checkpoints every interval until ctx ends, then once more.
// Ticks with no commits since the last checkpoint are skipped.
func (s *ModelService) RunCheckpoints(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := s.Checkpoint(); err != nil {
				s.log.Error().Err(err).Msg("final checkpoint failed")
			}
			return nil
		case <-ticker.C:
			if s.store.Sequencer().Unmarked() == 0 {
				continue
			}
			if _, err := s.Checkpoint(); err != nil {
				s.log.Error().Err(err).Msg("checkpoint failed")
			}
		}
	}
}
