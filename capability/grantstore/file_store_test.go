package grantstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_GrantAndRevoke(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "grants.yaml")
	s := NewFileStore(WithPath(path))

	ok, err := s.IsGranted("notes", "plugin.temp-file")
	require.NoError(t, err)
	assert.False(t, ok, "missing file means no grants")

	require.NoError(t, s.Grant("notes", "plugin.temp-file"))
	require.NoError(t, s.Grant("notes", "plugin.temp-file"))

	ok, err = s.IsGranted("notes", "plugin.temp-file")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsGranted("other", "plugin.temp-file")
	require.NoError(t, err)
	assert.False(t, ok, "grants are per plugin")

	grants, err := s.Grants()
	require.NoError(t, err)
	assert.Equal(t, []string{"plugin.temp-file"}, grants["notes"])

	require.NoError(t, s.Revoke("notes", "plugin.temp-file"))
	require.NoError(t, s.Revoke("notes", "plugin.temp-file"))

	grants, err = s.Grants()
	require.NoError(t, err)
	assert.NotContains(t, grants, "notes")
}

func TestFileStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, NewFileStore(WithPath(path)).Grant("notes", "plugin.download-center"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ok, err := NewFileStore(WithPath(path)).IsGranted("notes", "plugin.download-center")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins: [unclosed"), 0o600))

	_, err := NewFileStore(WithPath(path)).IsGranted("notes", "plugin.storage")
	assert.Error(t, err)
}

func TestFileStore_RejectsEmpty(t *testing.T) {
	s := NewFileStore(WithPath(filepath.Join(t.TempDir(), "grants.yaml")))
	assert.Error(t, s.Grant("", "plugin.storage"))
	assert.Error(t, s.Grant("notes", ""))
}

func TestFileStore_ConcurrentGrants(t *testing.T) {
	s := NewFileStore(WithPath(filepath.Join(t.TempDir(), "grants.yaml")))

	caps := []string{"a", "b", "c", "d", "e", "f"}
	var wg sync.WaitGroup
	for _, c := range caps {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			assert.NoError(t, s.Grant("notes", c))
		}(c)
	}
	wg.Wait()

	grants, err := s.Grants()
	require.NoError(t, err)
	assert.Equal(t, caps, grants["notes"])
}

func TestWithPath_IgnoresEmpty(t *testing.T) {
	s := NewFileStore(WithPath(""))
	assert.Equal(t, DefaultPath(), s.ConfigPath())
}
