package model

import (
	"fmt"
	"runtime"
)

// Snapshot is a consistent view of one node and its subtree at one instant.
// It is immutable and safe to share.
type Snapshot struct {
	root     *node
	versions map[*node]*version
}

// NewSnapshot captures n and everything below it. It never blocks; under
// constant writes to the subtree it keeps collecting until two passes agree.
func NewSnapshot(n Noder) *Snapshot {
	root := n.base()
	a := make(map[*node]*version)
	collect(root, a)
	if len(a) == 1 {
		return &Snapshot{root: root, versions: a}
	}
	for attempt := 1; ; attempt++ {
		b := make(map[*node]*version, len(a))
		collect(root, b)
		if sameVersions(a, b) {
			return &Snapshot{root: root, versions: b}
		}
		recordSnapshotRetry()
		a = b
		if attempt%8 == 0 {
			runtime.Gosched()
		}
	}
}

func collect(n *node, into map[*node]*version) {
	v := n.current()
	into[n] = v
	for _, c := range v.children {
		collect(c, into)
	}
}

// Resolved versions are fresh allocations and never repeat, so equal
// pointers in two passes mean nothing changed in between.
func sameVersions(a, b map[*node]*version) bool {
	if len(a) != len(b) {
		return false
	}
	for n, v := range a {
		if b[n] != v {
			return false
		}
	}
	return true
}

func (s *Snapshot) version(n *node) *version {
	v, ok := s.versions[n]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrNotCaptured, n.path()))
	}
	return v
}

func (s *Snapshot) Root() Noder { return s.root.handle }

func (s *Snapshot) Len() int { return len(s.versions) }

func (s *Snapshot) Contains(n Noder) bool {
	_, ok := s.versions[n.base()]
	return ok
}

// Value is the untyped form of Node.Get.
func (s *Snapshot) Value(n Noder) any {
	return s.version(n.base()).value
}

// Serial is the per-node version number, starting at 1.
func (s *Snapshot) Serial(n Noder) uint64 {
	return s.version(n.base()).serial
}

func (s *Snapshot) Children(n Noder) []Noder {
	kids := s.version(n.base()).children
	out := make([]Noder, len(kids))
	for i, c := range kids {
		out[i] = c.handle
	}
	return out
}

// Lookup resolves path relative to the snapshot root.
func (s *Snapshot) Lookup(path string) (Noder, error) {
	n := s.root
	for _, name := range splitPath(path) {
		c := s.version(n).child(name)
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		n = c
	}
	return n.handle, nil
}

// Walk visits the captured tree depth first, parents before children.
func (s *Snapshot) Walk(fn func(path string, n Noder) error) error {
	return s.walk(s.root.path(), s.root, fn)
}

func (s *Snapshot) walk(path string, n *node, fn func(string, Noder) error) error {
	if err := fn(path, n.handle); err != nil {
		return err
	}
	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	for _, c := range s.version(n).children {
		if err := s.walk(prefix+c.name, c, fn); err != nil {
			return err
		}
	}
	return nil
}
