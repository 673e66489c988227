package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyCheckpoint(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	n := 0
	seq, err := s.Load(func(Entry) error { n++; return nil })
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Zero(t, n)
}

func TestSaveReplacesPreviousCheckpoint(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(5, []Entry{
		{Path: "/rig", Serial: 2},
		{Path: "/rig/temp", Serial: 4, Data: []byte("21.5")},
		{Path: "/old", Serial: 1, Data: []byte("x")},
	}))
	require.NoError(t, s.Save(9, []Entry{
		{Path: "/rig/temp", Serial: 6, Data: []byte("22.0")},
		{Path: "/rig", Serial: 2},
	}))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	var got []Entry
	seq, err := s.Load(func(e Entry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 9, seq)
	require.Len(t, got, 2)
	assert.Equal(t, "/rig", got[0].Path)
	assert.Equal(t, Entry{Path: "/rig/temp", Serial: 6, Data: []byte("22.0")}, got[1])
}
