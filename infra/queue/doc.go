// Package queue provides the fixed-capacity, lock-free FIFOs used to hand
// work between goroutines without a mutex: Bounded moves non-zero words and
// Recycling moves copyable values through a fixed array of reusable slots.
//
// Neither queue blocks. A full queue reports ErrNoSpace and leaves
// backpressure to the caller.
package queue
