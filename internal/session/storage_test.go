package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage_round_trip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := NewFileStorage(path)

	_, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok, "expected no record yet")

	vol, loop, master := 35, true, 90
	rec := Record{
		OrderedIDs:   []string{"rain", "lute"},
		Metadata:     map[string]MemberRecord{"rain": {Volume: &vol, Loop: &loop}, "lute": {}},
		MasterVolume: &master,
	}
	require.NoError(t, s.Save(rec))

	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"rain", "lute"}, got.OrderedIDs)
	require.NotNil(t, got.Metadata["rain"].Volume)
	require.NotNil(t, got.Metadata["rain"].Loop)
	assert.Equal(t, 35, *got.Metadata["rain"].Volume)
	assert.True(t, *got.Metadata["rain"].Loop)
	assert.Nil(t, got.Metadata["lute"].Volume, "absent volume should stay absent")
	require.NotNil(t, got.MasterVolume)
	assert.Equal(t, 90, *got.MasterVolume)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"orderedIds"`, `"metadata"`, `"masterVolume"`} {
		assert.Contains(t, string(raw), key)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	assert.Empty(t, matches, "temporary files left behind")
}

func TestFileStorage_malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("[1,2"), 0o644))

	_, ok, err := NewFileStorage(path).Load()
	assert.True(t, ok)
	assert.ErrorIs(t, err, ErrMalformedState)
}

func TestFileStorage_unwritable_dir(t *testing.T) {
	s := NewFileStorage(filepath.Join(t.TempDir(), "missing", "session.json"))
	assert.Error(t, s.Save(Record{}), "saving into a missing directory")
}

func TestInMemoryStorage(t *testing.T) {
	s := NewInMemoryStorage()
	_, ok, _ := s.Load()
	require.False(t, ok, "expected empty storage")

	require.NoError(t, s.Save(Record{OrderedIDs: []string{"a"}}))
	rec, ok, err := s.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a"}, rec.OrderedIDs)
}
