//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package memory

// Platforms without anonymous mmap back regions with the Go heap.
func mapRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapRegion([]byte) error {
	return nil
}
