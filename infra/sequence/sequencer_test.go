package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerConcurrentNextIsUnique(t *testing.T) {
	s := New(10)
	const workers, per = 8, 500

	var mu sync.Mutex
	seen := make(map[uint64]bool, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*per)
	assert.EqualValues(t, 10+workers*per, s.Last())
	assert.False(t, seen[10])
}

func TestSequencerRestart(t *testing.T) {
	s := New(0)
	s.Next()
	s.Next()
	s.Restart(7)
	assert.EqualValues(t, 7, s.Last())
	assert.EqualValues(t, 8, s.Next())

	s.Mark(8)
	s.Restart(5)
	assert.EqualValues(t, 5, s.Marked(), "a rewind pulls the mark back with it")
}

func TestSequencerMarks(t *testing.T) {
	s := New(3)
	assert.EqualValues(t, 3, s.Marked())
	assert.Zero(t, s.Unmarked())

	s.Next()
	s.Next()
	assert.EqualValues(t, 2, s.Unmarked())

	s.Mark(5)
	s.Mark(4)
	assert.EqualValues(t, 5, s.Marked())
	assert.Zero(t, s.Unmarked())
}
