package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SetGetDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok := fs.Get(KeyAccessToken)
	assert.False(t, ok)

	require.NoError(t, fs.Set(KeyAccessToken, "T1"))
	require.NoError(t, fs.Set(KeyRefreshToken, "R1"))

	value, ok := fs.Get(KeyAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "T1", value)

	require.NoError(t, fs.Delete(KeyAccessToken))
	_, ok = fs.Get(KeyAccessToken)
	assert.False(t, ok)

	// Deleting again is a no-op
	require.NoError(t, fs.Delete(KeyAccessToken))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set(KeyUser, `{"id":"u1","role":"mentor"}`))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	value, ok := reopened.Get(KeyUser)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"u1","role":"mentor"}`, value)
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, ok := fs.Get(KeyAccessToken)
	assert.False(t, ok)
}

func TestFileStore_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set(KeyAccessToken, "T1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
