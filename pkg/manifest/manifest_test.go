package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan_FlatDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/b.txt", []byte("01234"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/data/a.txt", []byte("0123456789"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/data/nested/c.txt", []byte("x"), 0o644))

	m, err := Scan(fsys, "/data")
	require.NoError(t, err)

	require.Len(t, m.Files, 2)
	assert.Equal(t, "a.txt", m.Files[0].Name)
	assert.Equal(t, filepath.Join("/data", "a.txt"), m.Files[0].Path)
	assert.Equal(t, int64(10), m.Files[0].Size)
	assert.Equal(t, "b.txt", m.Files[1].Name)
	assert.Equal(t, int64(15), m.TotalBytes)
	assert.Equal(t, []string{"nested"}, m.Skipped)
}

func TestScan_Errors(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/empty/sub", 0o755))
	require.NoError(t, afero.WriteFile(fsys, "/file.txt", []byte("x"), 0o644))

	_, err := Scan(fsys, "/missing")
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = Scan(fsys, "/file.txt")
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = Scan(fsys, "/empty")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestScan_OsFsUsesAbsolutePaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), []byte("abc"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	m, err := Scan(afero.NewOsFs(), dir)
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.True(t, filepath.IsAbs(m.Files[0].Path))
	assert.Equal(t, int64(3), m.Files[0].Size)
}

func TestScan_FollowsSymlinksToRegularFiles(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	target := filepath.Join(outside, "target.bin")
	require.NoError(t, os.WriteFile(target, []byte("0123456789"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.bin"), []byte("ab"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(outside, "subdir"), 0o755))

	if err := os.Symlink(target, filepath.Join(dir, "link.bin")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(outside, "subdir"), filepath.Join(dir, "dirlink")))
	require.NoError(t, os.Symlink(filepath.Join(outside, "missing"), filepath.Join(dir, "dangling")))

	m, err := Scan(afero.NewOsFs(), dir)
	require.NoError(t, err)

	require.Len(t, m.Files, 2)
	assert.Equal(t, "link.bin", m.Files[0].Name)
	assert.Equal(t, int64(10), m.Files[0].Size)
	assert.Equal(t, "plain.bin", m.Files[1].Name)
	assert.Equal(t, int64(12), m.TotalBytes)
	assert.ElementsMatch(t, []string{"dangling", "dirlink"}, m.Skipped)
}
