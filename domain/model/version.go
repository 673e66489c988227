package model

import "sync/atomic"

const (
	statusUndecided int32 = iota
	statusCommitted
	statusAborted
)

// descriptor is shared by the claims of one multi-node commit. Its status
// moves once, from undecided to committed or aborted.
type descriptor struct {
	status atomic.Int32
}

// version is one published state of a node. A version with txn set is a
// claim: it stands in for prev until its descriptor commits, then for next.
type version struct {
	value    any
	children []*node
	serial   uint64

	txn  *descriptor
	prev *version
	next *version
}

func (v *version) resolve() *version {
	if v.txn == nil {
		return v
	}
	if v.txn.status.Load() == statusCommitted {
		return v.next
	}
	return v.prev
}

func (v *version) child(name string) *node {
	for _, c := range v.children {
		if c.name == name {
			return c
		}
	}
	return nil
}
