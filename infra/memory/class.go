package memory

const (
	// Alignment is the guaranteed alignment of every pooled allocation and the
	// granularity of the variable-size pool.
	Alignment = 8

	// ChunkSize is the unit in which regions are handed to size classes.
	ChunkSize = 64 << 10

	// MaxVariableSize is the largest request served from a pool; larger
	// requests go to the Go heap.
	MaxVariableSize = ChunkSize / 4
)

// sizeClasses is the fixed-size ladder. Requests up to the last rung are
// rounded up to the next rung; the rest up to MaxVariableSize use the
// variable-size pool.
var sizeClasses = [...]int{
	8, 16, 24, 32, 48, 64, 96, 128, 192, 256, 384, 512, 768, 1024, 1536, 2048,
}

const (
	variableClass = len(sizeClasses)
	numClasses    = variableClass + 1
	classFree     = -1
)

// classFor returns the pool serving size, or -1 for the fallback allocator.
func classFor(size int) int {
	if size <= 0 || size > MaxVariableSize {
		return -1
	}
	for i, s := range sizeClasses {
		if size <= s {
			return i
		}
	}
	return variableClass
}

func roundUp(n, to int) int {
	return (n + to - 1) / to * to
}
