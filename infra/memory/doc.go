// Package memory provides the low-level memory primitives of the model
// substrate: a chunked, segregated-size pool allocator serving short-lived
// payload buffers from mmap'd regions, and a typed object Pool used to recycle
// transaction bookkeeping.
//
// The allocator never takes an OS mutex. Chunks are claimed with a CAS on a
// per-chunk state word, and emptied chunks go back to a lock-free reserve for
// reuse by any size class.
package memory
