package memory

import "sync/atomic"

var defaultAllocator atomic.Pointer[PoolAllocator]

// Default returns the process-wide allocator, creating it on first use.
func Default() Allocator {
	if a := defaultAllocator.Load(); a != nil {
		return a
	}
	a, err := New(Config{})
	if err != nil {
		panic(err)
	}
	if !defaultAllocator.CompareAndSwap(nil, a) {
		return defaultAllocator.Load()
	}
	return a
}

// Shutdown tears down the process-wide allocator. A later Default call
// builds a fresh one. While buffers from it are still live it fails with
// ErrInUse and the allocator stays registered.
func Shutdown() error {
	a := defaultAllocator.Load()
	if a == nil {
		return nil
	}
	if err := a.Close(); err != nil {
		return err
	}
	defaultAllocator.CompareAndSwap(a, nil)
	return nil
}
