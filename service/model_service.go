package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"strata/domain/model"
	"strata/infra/checkpoint"
	"strata/infra/wal"
)

/*
ModelService is the path-addressed entry point into the model.

Coordination between:
- domain (model store)
- infra (journal, checkpoint)
happens here. Drivers inside the process use the model package directly;
everything crossing a process boundary goes through this type.
*/
type ModelService struct {
	store   *model.Store
	journal *wal.WAL
	ckpt    *checkpoint.Store
	log     zerolog.Logger

	recovered       atomic.Bool
	journalFailures atomic.Uint64
}

// NodeValue is one node's state as seen by a snapshot.
type NodeValue struct {
	Path   string
	Kind   string
	Serial uint64
	Value  any
}

type Option func(*ModelService)

func WithJournal(w *wal.WAL) Option {
	return func(s *ModelService) { s.journal = w }
}

func WithCheckpoint(c *checkpoint.Store) Option {
	return func(s *ModelService) { s.ckpt = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *ModelService) { s.log = l }
}

// NewModelService wires the store to its durable parts. Journaling starts
// once Recover has run.
func NewModelService(store *model.Store, opts ...Option) *ModelService {
	s := &ModelService{store: store, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ModelService) Store() *model.Store { return s.store }

// JournalFailures counts commits that could not be journaled.
func (s *ModelService) JournalFailures() uint64 { return s.journalFailures.Load() }

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

func (s *ModelService) Get(p string) (NodeValue, error) {
	n, err := s.store.Lookup(p)
	if err != nil {
		return NodeValue{}, err
	}
	snap := model.NewSnapshot(n)
	return nodeValue(snap, n.Path(), n)
}

// List returns the node at p and everything below it from one snapshot.
func (s *ModelService) List(p string) ([]NodeValue, error) {
	n, err := s.store.Lookup(p)
	if err != nil {
		return nil, err
	}
	snap := model.NewSnapshot(n)
	var out []NodeValue
	err = snap.Walk(func(p string, n model.Noder) error {
		nv, err := nodeValue(snap, p, n)
		if err != nil {
			return err
		}
		out = append(out, nv)
		return nil
	})
	return out, err
}

func nodeValue(snap *model.Snapshot, p string, n model.Noder) (NodeValue, error) {
	v := snap.Value(n)
	kind, err := KindOf(v)
	if err != nil {
		return NodeValue{}, err
	}
	return NodeValue{Path: p, Kind: kind, Serial: snap.Serial(n), Value: v}, nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Set replaces the value at p and returns the node's new serial.
func (s *ModelService) Set(ctx context.Context, p string, v any) (uint64, error) {
	n, err := s.store.Lookup(p)
	if err != nil {
		return 0, err
	}
	return s.set(ctx, n, v)
}

// set fails with model.ErrReleased when n was removed after the lookup.
func (s *ModelService) set(ctx context.Context, n model.Noder, v any) (uint64, error) {
	var serial uint64
	err := model.WithRetry(ctx, n, func(tx *model.Transaction) error {
		serial = tx.Baseline().Serial(n) + 1
		return tx.SetValue(n, v)
	})
	if err != nil {
		return 0, err
	}
	return serial, nil
}

// Declare makes sure a node holding values of v's type exists at p,
// creating missing folders on the way. An existing node keeps its value.
func (s *ModelService) Declare(ctx context.Context, p string, v any) (model.Noder, error) {
	if _, err := KindOf(v); err != nil {
		return nil, err
	}
	dir, name := splitParent(p)
	if name == "" {
		return nil, fmt.Errorf("%w: %q", model.ErrBadName, p)
	}
	parent, err := s.ensureFolders(ctx, dir)
	if err != nil {
		return nil, err
	}
	return s.ensureChild(ctx, parent, name, v)
}

func (s *ModelService) ensureFolders(ctx context.Context, dir string) (model.Noder, error) {
	var cur model.Noder = s.store.Root()
	for _, name := range splitPath(dir) {
		next, err := s.ensureChild(ctx, cur, name, model.Folder{})
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (s *ModelService) ensureChild(ctx context.Context, parent model.Noder, name string, v any) (model.Noder, error) {
	for {
		if c, err := model.NewSnapshot(parent).Lookup(name); err == nil {
			if kind, _ := KindOf(v); kind != KindFolder {
				cur, _ := model.LoadAny(c)
				if ck, _ := KindOf(cur); ck != kind {
					return nil, fmt.Errorf("%w: %s holds %s, not %s", model.ErrKind, c.Path(), ck, kind)
				}
			}
			return c, nil
		}
		var child model.Noder
		err := model.WithRetry(ctx, parent, func(tx *model.Transaction) error {
			var err error
			child, err = attachValue(tx, parent, name, v)
			return err
		})
		if errors.Is(err, model.ErrExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return child, nil
	}
}

func (s *ModelService) Remove(ctx context.Context, p string) error {
	n, err := s.store.Lookup(p)
	if err != nil {
		return err
	}
	if n.Parent() == nil {
		return fmt.Errorf("%w: cannot remove the root", model.ErrBadName)
	}
	return model.Release(ctx, n)
}

// Watch calls fn for changes of the node at p under the given policy.
// The caller keeps the listener and disconnects it when done.
func (s *ModelService) Watch(p string, fn func(NodeValue), opts ...model.ListenOption) (*model.Listener, error) {
	n, err := s.store.Lookup(p)
	if err != nil {
		return nil, err
	}
	return n.OnChanged().Connect(func(ev model.Event) {
		kind, err := KindOf(ev.Value)
		if err != nil {
			return
		}
		fn(NodeValue{Path: ev.Node.Path(), Kind: kind, Serial: ev.Serial, Value: ev.Value})
	}, opts...), nil
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

func splitParent(p string) (dir, name string) {
	p = path.Clean("/" + p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}
