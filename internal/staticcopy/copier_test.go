package staticcopy

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyTree_MirrorsStructure(t *testing.T) {
	src := filepath.Join(t.TempDir(), "images")
	dst := filepath.Join(t.TempDir(), "out", "images")

	writeFile(t, filepath.Join(src, "logo.png"), "png")
	writeFile(t, filepath.Join(src, "icons", "a.svg"), "<svg/>")
	writeFile(t, filepath.Join(src, "icons", "deep", "b.svg"), "<svg></svg>")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0755))

	c := New()
	n, err := c.CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(filepath.Join(dst, "icons", "deep", "b.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg></svg>", string(data))
	assert.DirExists(t, filepath.Join(dst, "empty"))

	assert.Equal(t, int64(3), c.Stats.FilesCopied)
	assert.Equal(t, int64(len("png")+len("<svg/>")+len("<svg></svg>")), c.Stats.BytesWritten)
	assert.Equal(t, c.Stats.BytesRead, c.Stats.BytesWritten)
}

func TestCopyTree_MissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")

	n, err := New().CopyTree(filepath.Join(t.TempDir(), "nope"), dst)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoDirExists(t, dst)
}

func TestCopyTree_OverwritesOnRerun(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "first")

	c := New()
	_, err := c.CopyTree(src, dst)
	require.NoError(t, err)

	writeFile(t, filepath.Join(src, "a.txt"), "second")
	n, err := c.CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestCopyTree_SymlinkLoop(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "sub", "f.txt"), "x")
	require.NoError(t, os.Symlink(src, filepath.Join(src, "sub", "loop")))
	require.NoError(t, os.Symlink(filepath.Join(src, "missing"), filepath.Join(src, "dangling")))

	n, err := New().CopyTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dst, "sub", "f.txt"))
}

func TestCopyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "robots.txt")
	writeFile(t, src, "User-agent: *")
	dst := filepath.Join(t.TempDir(), "nested", "robots.txt")

	n, err := New().CopyFile(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, dst)

	n, err = New().CopyFile(filepath.Join(t.TempDir(), "favicon.ico"), dst)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()

	ok, err := Exists(dir)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}
