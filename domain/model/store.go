package model

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"strata/infra/memory"
	"strata/infra/sequence"
)

// Change is one node written by a commit.
type Change struct {
	Node    Noder
	Serial  uint64
	Value   any
	Added   []Noder
	Removed []Noder
}

// Commit describes a successful commit. Seq is store-wide and increasing,
// but hooks of concurrent commits may observe Seq values out of order.
type Commit struct {
	Seq     uint64
	Changes []Change
}

// CommitHook runs on the committing goroutine after a commit is visible and
// before listeners are notified.
type CommitHook func(Commit)

// Store owns the node tree.
type Store struct {
	root  *Node[Folder]
	seq   *sequence.Sequencer
	alloc memory.Allocator
	log   zerolog.Logger
	hooks atomic.Pointer[[]CommitHook]
}

type Option func(*Store)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithAllocator sets the allocator backing Samples built through the store.
func WithAllocator(a memory.Allocator) Option {
	return func(s *Store) { s.alloc = a }
}

func WithSequencer(seq *sequence.Sequencer) Option {
	return func(s *Store) { s.seq = seq }
}

func WithCommitHook(h CommitHook) Option {
	return func(s *Store) { s.OnCommit(h) }
}

func NewStore(opts ...Option) *Store {
	s := &Store{log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if s.seq == nil {
		s.seq = sequence.New(0)
	}
	if s.alloc == nil {
		s.alloc = memory.Default()
	}
	s.root = newNode(s, nil, "", Folder{})
	return s
}

func (s *Store) Root() *Node[Folder]            { return s.root }
func (s *Store) Sequencer() *sequence.Sequencer { return s.seq }
func (s *Store) Allocator() memory.Allocator    { return s.alloc }
func (s *Store) Logger() zerolog.Logger         { return s.log }

// Snapshot captures the whole tree.
func (s *Store) Snapshot() *Snapshot {
	return NewSnapshot(s.root)
}

// Walk visits the whole tree as of one snapshot, parents first.
func (s *Store) Walk(fn func(path string, n Noder) error) error {
	return s.Snapshot().Walk(fn)
}

// OnCommit adds a hook. Hooks cannot be removed.
func (s *Store) OnCommit(h CommitHook) {
	for {
		old := s.hooks.Load()
		var next []CommitHook
		if old != nil {
			next = append(next, *old...)
		}
		next = append(next, h)
		if s.hooks.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Lookup resolves an absolute path against the latest published tree.
func (s *Store) Lookup(path string) (Noder, error) {
	n := s.root.n
	for _, name := range splitPath(path) {
		c := n.current().child(name)
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		n = c
	}
	return n.handle, nil
}

// LookupAs is Lookup for a node of a known value type.
func LookupAs[T any](s *Store, path string) (*Node[T], error) {
	n, err := s.Lookup(path)
	if err != nil {
		return nil, err
	}
	h, ok := n.(*Node[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKind, path)
	}
	return h, nil
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// NewChild creates a child of parent and publishes it, retrying on conflict.
func NewChild[T any](ctx context.Context, parent Noder, name string, v T) (*Node[T], error) {
	var child *Node[T]
	err := WithRetry(ctx, parent, func(tx *Transaction) error {
		var err error
		child, err = Attach(tx, parent, name, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return child, nil
}

// Release detaches child from its parent. The child and its subtree are
// released once the removal commits.
func Release(ctx context.Context, child Noder) error {
	parent := child.Parent()
	if parent == nil {
		return fmt.Errorf("%w: parent of %s", ErrNotFound, child.Path())
	}
	return WithRetry(ctx, parent, func(tx *Transaction) error {
		return tx.Remove(child)
	})
}

// MustChild walks to path from the root, creating missing folders and a
// leaf holding v. It is meant for setup code.
func MustChild[T any](ctx context.Context, s *Store, path string, v T) *Node[T] {
	parts := splitPath(path)
	if len(parts) == 0 {
		panic(fmt.Errorf("%w: %q", ErrBadName, path))
	}
	var parent Noder = s.root
	for _, name := range parts[:len(parts)-1] {
		next, err := s.ensureFolder(ctx, parent, name)
		if err != nil {
			panic(err)
		}
		parent = next
	}
	leaf, err := NewChild(ctx, parent, parts[len(parts)-1], v)
	if err != nil {
		panic(err)
	}
	return leaf
}

func (s *Store) ensureFolder(ctx context.Context, parent Noder, name string) (Noder, error) {
	if c := parent.base().current().child(name); c != nil {
		return c.handle, nil
	}
	f, err := NewChild(ctx, parent, name, Folder{})
	if err != nil {
		if c := parent.base().current().child(name); c != nil {
			return c.handle, nil
		}
		return nil, err
	}
	return f, nil
}

func (s *Store) runHooks(c Commit) {
	hooks := s.hooks.Load()
	if hooks == nil {
		return
	}
	for _, h := range *hooks {
		h(c)
	}
}
