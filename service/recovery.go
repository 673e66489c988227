package service

import (
	"context"
	"errors"
	"fmt"
	"path"

	"strata/domain/model"
	"strata/infra/checkpoint"
	"strata/infra/wal"
)

// RecoveryStats summarizes one Recover run.
type RecoveryStats struct {
	CheckpointSeq   uint64
	CheckpointNodes int
	Records         int
	Applied         int
	Skipped         int
	LastSeq         uint64
}

var ErrRecovered = errors.New("service: already recovered")

/*
Recover rebuilds the store from the checkpoint and the journal, then starts
journaling new commits.

Rules:
- journal records at or below the checkpoint sequence are already in it
- a Set applies only when its serial is newer than the node's
- a Remove applies only when the parent has not moved past it
- a removed path stays gone until its parent changes again

Must run before anything else writes to the store.
*/
func (s *ModelService) Recover(ctx context.Context) (RecoveryStats, error) {
	var st RecoveryStats
	if s.recovered.Load() {
		return st, ErrRecovered
	}
	r := &replayer{
		ctx:        ctx,
		svc:        s,
		tombstones: make(map[string]uint64),
	}

	if s.ckpt != nil {
		seq, err := s.ckpt.Load(func(e checkpoint.Entry) error {
			v, err := UnmarshalValue(e.Data, s.store.Allocator())
			if err != nil {
				return fmt.Errorf("checkpoint %s: %w", e.Path, err)
			}
			st.CheckpointNodes++
			_, err = r.set(e.Path, e.Serial, v)
			return err
		})
		if err != nil {
			return st, err
		}
		st.CheckpointSeq = seq
	}

	if s.journal != nil {
		last, err := wal.Replay(s.journal.Dir(), func(rec *wal.Record) error {
			st.Records++
			if rec.Seq <= st.CheckpointSeq {
				st.Skipped++
				return nil
			}
			applied, err := r.apply(rec)
			if err != nil {
				return err
			}
			if applied {
				st.Applied++
			} else {
				st.Skipped++
			}
			return nil
		})
		if err != nil {
			return st, err
		}
		st.LastSeq = last
	}

	// Replay commits draw sequence numbers of their own; numbering resumes
	// from what was durable.
	st.LastSeq = max(st.LastSeq, st.CheckpointSeq)
	s.store.Sequencer().Restart(st.LastSeq)
	s.store.Sequencer().Mark(st.CheckpointSeq)

	if s.journal != nil {
		s.store.OnCommit(s.journalCommit)
	}
	s.recovered.Store(true)

	s.log.Info().
		Uint64("checkpoint_seq", st.CheckpointSeq).
		Int("checkpoint_nodes", st.CheckpointNodes).
		Int("records", st.Records).
		Int("applied", st.Applied).
		Int("skipped", st.Skipped).
		Uint64("last_seq", st.LastSeq).
		Msg("model recovered")
	return st, nil
}

// ---- replay ----

type replayer struct {
	ctx        context.Context
	svc        *ModelService
	tombstones map[string]uint64
}

func (r *replayer) apply(rec *wal.Record) (bool, error) {
	switch rec.Type {
	case wal.RecordSet:
		v, err := UnmarshalValue(rec.Data, r.svc.store.Allocator())
		if err != nil {
			return false, fmt.Errorf("journal seq %d %s: %w", rec.Seq, rec.Path, err)
		}
		applied, err := r.set(rec.Path, rec.Serial, v)
		if errors.Is(err, model.ErrKind) {
			r.svc.log.Warn().Err(err).Uint64("seq", rec.Seq).Msg("journal record skipped")
			return false, nil
		}
		return applied, err
	case wal.RecordRemove:
		return r.remove(rec.Path, rec.Serial)
	}
	return false, fmt.Errorf("%w: unknown record type %d", wal.ErrCorrupt, rec.Type)
}

func (r *replayer) set(p string, serial uint64, v any) (bool, error) {
	store := r.svc.store
	if n, err := store.Lookup(p); err == nil {
		if _, cur := model.LoadAny(n); serial <= cur {
			return false, nil
		}
		return true, model.WithRetry(r.ctx, n, func(tx *model.Transaction) error {
			return tx.Restore(n, v, serial)
		})
	}
	if r.buried(p) {
		return false, nil
	}
	dir, name := splitParent(p)
	parent, err := r.folders(dir)
	if err != nil {
		return false, err
	}
	_, err = r.restoreChild(parent, name, v, serial)
	return err == nil, err
}

func (r *replayer) remove(p string, serial uint64) (bool, error) {
	r.tombstones[p] = max(r.tombstones[p], serial)
	n, err := r.svc.store.Lookup(p)
	if err != nil {
		return false, nil
	}
	parent := n.Parent()
	if parent == nil {
		return false, nil
	}
	if _, ps := model.LoadAny(parent); ps > serial {
		return false, nil
	}
	return true, model.WithRetry(r.ctx, parent, func(tx *model.Transaction) error {
		if err := tx.Remove(n); err != nil {
			return err
		}
		return tx.Restore(parent, tx.Value(parent), serial)
	})
}

// buried reports whether p or one of its ancestors was removed and the
// parent of that removal has not changed since.
func (r *replayer) buried(p string) bool {
	for q := path.Clean(p); q != "/"; q = path.Dir(q) {
		ts, ok := r.tombstones[q]
		if !ok {
			continue
		}
		parent, err := r.svc.store.Lookup(path.Dir(q))
		if err != nil {
			return true
		}
		if _, ps := model.LoadAny(parent); ps <= ts {
			return true
		}
	}
	return false
}

func (r *replayer) folders(dir string) (model.Noder, error) {
	var cur model.Noder = r.svc.store.Root()
	for _, name := range splitPath(dir) {
		next, err := model.NewSnapshot(cur).Lookup(name)
		if err != nil {
			if next, err = r.restoreChild(cur, name, model.Folder{}, 0); err != nil {
				return nil, err
			}
		}
		cur = next
	}
	return cur, nil
}

// restoreChild attaches name under parent with an explicit serial and
// leaves the parent's serial where it was.
func (r *replayer) restoreChild(parent model.Noder, name string, v any, serial uint64) (model.Noder, error) {
	var child model.Noder
	err := model.WithRetry(r.ctx, parent, func(tx *model.Transaction) error {
		c, err := attachValue(tx, parent, name, v)
		if err != nil {
			return err
		}
		if err := tx.Restore(c, v, serial); err != nil {
			return err
		}
		child = c
		return tx.Restore(parent, tx.Value(parent), 0)
	})
	return child, err
}
