package model

import (
	"slices"
	"strings"
	"sync/atomic"
	"weak"

	"github.com/google/uuid"
)

// Folder is the value of grouping nodes, including the store root.
type Folder struct{}

// Noder is the untyped view of a *Node[T].
type Noder interface {
	ID() uuid.UUID
	Name() string
	Path() string
	Parent() Noder
	Store() *Store
	OnChanged() *Talker
	Released() bool

	base() *node
	accepts(v any) bool
}

type node struct {
	id     uuid.UUID
	name   string
	store  *Store
	parent weak.Pointer[node]
	handle Noder

	slot     atomic.Pointer[version]
	talker   Talker
	released atomic.Bool
}

func (n *node) current() *version {
	return n.slot.Load().resolve()
}

// settle replaces a claim with the version it stands for, aborting its
// commit first if that commit is still undecided.
func (n *node) settle(claim *version) {
	claim.txn.status.CompareAndSwap(statusUndecided, statusAborted)
	n.slot.CompareAndSwap(claim, claim.resolve())
}

func (n *node) path() string {
	var parts []string
	for cur := n; ; {
		p := cur.parent.Value()
		if p == nil {
			break
		}
		parts = append(parts, cur.name)
		cur = p
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

func (n *node) markReleased() {
	n.released.Store(true)
	for _, c := range n.current().children {
		c.markReleased()
	}
}

// Node is a typed handle on one model element.
type Node[T any] struct {
	n *node
}

func newNode[T any](s *Store, parent *node, name string, v T) *Node[T] {
	h := &Node[T]{n: &node{
		id:    uuid.New(),
		name:  name,
		store: s,
	}}
	h.n.handle = h
	h.n.talker.owner = h.n
	if parent != nil {
		h.n.parent = weak.Make(parent)
	}
	h.n.slot.Store(&version{value: v, serial: 1})
	return h
}

func (h *Node[T]) ID() uuid.UUID      { return h.n.id }
func (h *Node[T]) Name() string       { return h.n.name }
func (h *Node[T]) Path() string       { return h.n.path() }
func (h *Node[T]) Store() *Store      { return h.n.store }
func (h *Node[T]) OnChanged() *Talker { return &h.n.talker }
func (h *Node[T]) Released() bool     { return h.n.released.Load() }
func (h *Node[T]) base() *node        { return h.n }

func (h *Node[T]) accepts(v any) bool {
	_, ok := v.(T)
	return ok
}

// Parent returns nil for the root and for nodes whose parent is gone.
func (h *Node[T]) Parent() Noder {
	if p := h.n.parent.Value(); p != nil {
		return p.handle
	}
	return nil
}

// Get reads the value captured by s.
func (h *Node[T]) Get(s *Snapshot) T {
	v, _ := s.version(h.n).value.(T)
	return v
}

// Load reads the latest published value without a snapshot.
func (h *Node[T]) Load() T {
	v, _ := h.n.current().value.(T)
	return v
}

// Current is the value as tx sees it, including its own uncommitted writes.
func (h *Node[T]) Current(tx *Transaction) T {
	v, _ := tx.entry(h.n).value.(T)
	return v
}

// Set stages v in tx.
func (h *Node[T]) Set(tx *Transaction, v T) {
	tx.entry(h.n).set(v)
}

func (h *Node[T]) Update(tx *Transaction, fn func(T) T) {
	e := tx.entry(h.n)
	cur, _ := e.value.(T)
	e.set(fn(cur))
}

// LoadAny returns n's latest published value and serial.
func LoadAny(n Noder) (any, uint64) {
	v := n.base().current()
	return v.value, v.serial
}
