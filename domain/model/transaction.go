package model

import (
	"bytes"
	"fmt"
	"slices"

	"strata/infra/memory"
)

type txState uint8

const (
	txOpen txState = iota
	txCommitted
	txConflicted
	txDiscarded
)

// entry is a transaction's working copy of one node.
type entry struct {
	n        *node
	base     *version
	value    any
	children []*node
	added    []*node
	removed  []*node
	dirty    bool

	// restore publishes serial (or base.serial when zero) instead of base.serial+1
	restore bool
	serial  uint64

	next *version // set once published
}

func (e *entry) set(v any) {
	e.value = v
	e.dirty = true
}

func (e *entry) nextSerial() uint64 {
	switch {
	case !e.restore:
		return e.base.serial + 1
	case e.serial != 0:
		return e.serial
	default:
		return e.base.serial
	}
}

var entryPool = memory.NewPool(
	func() *entry { return new(entry) },
	func(e *entry) { *e = entry{} },
)

// Transaction collects writes against a snapshot baseline. It is not safe
// for concurrent use and ends with Commit or Discard.
type Transaction struct {
	store   *Store
	base    *Snapshot
	created map[*node]*version
	entries map[*node]*entry
	order   []*entry
	state   txState
}

// Begin opens a transaction whose baseline is a fresh snapshot of n. Writes
// are allowed on n, its subtree, and nodes attached within the transaction.
func Begin(n Noder) *Transaction {
	tx, err := begin(n)
	if err != nil {
		panic(err)
	}
	return tx
}

func begin(n Noder) (*Transaction, error) {
	b := n.base()
	if b.released.Load() {
		return nil, fmt.Errorf("%w: %s", ErrReleased, b.path())
	}
	return &Transaction{
		store:   b.store,
		base:    NewSnapshot(n),
		entries: make(map[*node]*entry),
	}, nil
}

// Baseline is the snapshot the transaction started from.
func (tx *Transaction) Baseline() *Snapshot { return tx.base }

func (tx *Transaction) checkOpen() {
	if tx.state != txOpen {
		panic(ErrFinished)
	}
}

func (tx *Transaction) entry(n *node) *entry {
	tx.checkOpen()
	if e, ok := tx.entries[n]; ok {
		return e
	}
	v, ok := tx.created[n]
	if !ok {
		v = tx.base.version(n)
	}
	e := entryPool.Get()
	e.n = n
	e.base = v
	e.value = v.value
	e.children = v.children
	tx.entries[n] = e
	tx.order = append(tx.order, e)
	return e
}

// SetValue stages v on n, which must hold values of v's type.
func (tx *Transaction) SetValue(n Noder, v any) error {
	if !n.accepts(v) {
		return fmt.Errorf("%w: %T for %s", ErrKind, v, n.Path())
	}
	tx.entry(n.base()).set(v)
	return nil
}

// Value is the untyped form of Node.Current.
func (tx *Transaction) Value(n Noder) any {
	return tx.entry(n.base()).value
}

// Restore stages v on n with an explicit serial. It exists to rebuild a store
// from durable state; a zero serial keeps the node's current serial.
func (tx *Transaction) Restore(n Noder, v any, serial uint64) error {
	if !n.accepts(v) {
		return fmt.Errorf("%w: %T for %s", ErrKind, v, n.Path())
	}
	e := tx.entry(n.base())
	if serial != 0 && serial < e.base.serial {
		return fmt.Errorf("model: restore serial %d of %s is behind %d", serial, n.Path(), e.base.serial)
	}
	e.set(v)
	e.restore = true
	e.serial = serial
	return nil
}

// Attach creates a child of parent holding v. The child becomes visible when
// the transaction commits.
func Attach[T any](tx *Transaction, parent Noder, name string, v T) (*Node[T], error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	p := parent.base()
	e := tx.entry(p)
	for _, c := range e.children {
		if c.name == name {
			return nil, fmt.Errorf("%w: %s/%s", ErrExists, p.path(), name)
		}
	}
	child := newNode(tx.store, p, name, v)
	if tx.created == nil {
		tx.created = make(map[*node]*version)
	}
	tx.created[child.n] = child.n.slot.Load()
	e.children = append(slices.Clip(e.children), child.n)
	e.added = append(e.added, child.n)
	e.dirty = true
	return child, nil
}

// Remove detaches child from its parent's child list.
func (tx *Transaction) Remove(child Noder) error {
	c := child.base()
	p := c.parent.Value()
	if p == nil {
		return fmt.Errorf("%w: parent of %s", ErrNotFound, c.path())
	}
	e := tx.entry(p)
	i := slices.Index(e.children, c)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.path())
	}
	e.children = slices.Delete(slices.Clone(e.children), i, i+1)
	if j := slices.Index(e.added, c); j >= 0 {
		e.added = slices.Delete(e.added, j, j+1)
	} else {
		e.removed = append(e.removed, c)
	}
	e.dirty = true
	return nil
}

// Commit publishes every staged write, or none. A false result means another
// writer got there first; the transaction is finished either way.
func (tx *Transaction) Commit() bool {
	ok, err := tx.commit()
	if err != nil {
		panic(err)
	}
	return ok
}

// commit is Commit reporting a write to a released node as ErrReleased. The
// transaction is discarded in that case.
func (tx *Transaction) commit() (bool, error) {
	tx.checkOpen()
	var dirty []*entry
	for _, e := range tx.order {
		if !e.dirty {
			continue
		}
		if e.n.released.Load() {
			err := fmt.Errorf("%w: %s", ErrReleased, e.n.path())
			tx.Discard()
			return false, err
		}
		dirty = append(dirty, e)
	}

	ok := true
	switch len(dirty) {
	case 0:
	case 1:
		ok = commitOne(dirty[0])
	default:
		slices.SortFunc(dirty, func(a, b *entry) int {
			return bytes.Compare(a.n.id[:], b.n.id[:])
		})
		ok = commitMany(dirty)
	}

	if ok {
		tx.state = txCommitted
		if len(dirty) > 0 {
			tx.store.published(dirty)
		}
	} else {
		tx.state = txConflicted
	}
	recordCommit(ok, len(dirty))
	tx.recycle()
	return ok, nil
}

// Discard abandons the transaction. It is a no-op once finished, so it can
// be deferred.
func (tx *Transaction) Discard() {
	if tx.state != txOpen {
		return
	}
	tx.state = txDiscarded
	tx.recycle()
}

func (tx *Transaction) recycle() {
	for _, e := range tx.order {
		entryPool.Put(e)
	}
	tx.order = nil
	tx.entries = nil
	tx.created = nil
}

// ---- publishing ----

func commitOne(e *entry) bool {
	next := &version{value: e.value, children: e.children, serial: e.nextSerial()}
	for {
		cur := e.n.slot.Load()
		if cur.resolve() != e.base {
			return false
		}
		if cur.txn != nil {
			e.n.settle(cur)
			continue
		}
		if e.n.slot.CompareAndSwap(cur, next) {
			e.next = next
			return true
		}
	}
}

// commitMany claims every node in order, then decides all claims with one
// CAS on the shared descriptor. A competing writer that finds an undecided
// claim aborts it rather than waiting.
func commitMany(es []*entry) bool {
	d := new(descriptor)
	claims := make([]*version, 0, len(es))
	ok := true

install:
	for _, e := range es {
		next := &version{value: e.value, children: e.children, serial: e.nextSerial()}
		claim := &version{serial: next.serial, txn: d, prev: e.base, next: next}
		for {
			cur := e.n.slot.Load()
			if cur.resolve() != e.base {
				ok = false
				break install
			}
			if cur.txn != nil {
				e.n.settle(cur)
				continue
			}
			if e.n.slot.CompareAndSwap(cur, claim) {
				claims = append(claims, claim)
				break
			}
		}
	}

	if ok {
		ok = d.status.CompareAndSwap(statusUndecided, statusCommitted)
	} else {
		d.status.CompareAndSwap(statusUndecided, statusAborted)
	}
	for i, claim := range claims {
		es[i].n.settle(claim)
		if ok {
			es[i].next = claim.next
		}
	}
	return ok
}

func (s *Store) published(dirty []*entry) {
	c := Commit{Seq: s.seq.Next(), Changes: make([]Change, 0, len(dirty))}
	for _, e := range dirty {
		ch := Change{Node: e.n.handle, Serial: e.next.serial, Value: e.next.value}
		for _, a := range e.added {
			ch.Added = append(ch.Added, a.handle)
		}
		for _, r := range e.removed {
			r.markReleased()
			ch.Removed = append(ch.Removed, r.handle)
		}
		c.Changes = append(c.Changes, ch)
	}
	s.runHooks(c)
	for _, ch := range c.Changes {
		ch.Node.OnChanged().publish(Event{
			Node:   ch.Node,
			Seq:    c.Seq,
			Serial: ch.Serial,
			Value:  ch.Value,
		})
	}
	s.log.Trace().Uint64("seq", c.Seq).Int("nodes", len(c.Changes)).Msg("commit published")
}
