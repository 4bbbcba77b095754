package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	filesystems := map[string]struct {
		fsys FileSystem
		root string
	}{
		"os":     {OSFileSystem{}, tmp},
		"memory": {NewMemoryFileSystem(), "/ckpt"},
	}

	for name, tc := range filesystems {
		t.Run(name, func(t *testing.T) {
			target := filepath.Join(tc.root, "runs", "a", "weights.json")

			require.NoError(t, WriteFileAtomic(tc.fsys, target, []byte("first"), 0o644))
			require.NoError(t, WriteFileAtomic(tc.fsys, target, []byte("second"), 0o644))

			data, err := tc.fsys.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, "second", string(data))
			assert.False(t, tc.fsys.Exists(target+".tmp"), "temp file left behind")
			assert.True(t, tc.fsys.Exists(filepath.Dir(target)))
		})
	}
}

func TestMemoryFileSystem(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()

	_, err := m.ReadFile("/missing")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.ErrorIs(t, m.Rename("/missing", "/x"), fs.ErrNotExist)
	assert.ErrorIs(t, m.Remove("/missing"), fs.ErrNotExist)

	src := []byte("abc")
	require.NoError(t, m.WriteFile("/a/../b.txt", src, 0o644))
	src[0] = 'z'
	data, err := m.ReadFile("/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data), "stored data must be a copy")

	data[1] = 'z'
	again, _ := m.ReadFile("/b.txt")
	assert.Equal(t, "abc", string(again), "returned data must be a copy")

	require.NoError(t, m.Rename("/b.txt", "/c.txt"))
	assert.False(t, m.Exists("/b.txt"))
	assert.True(t, m.Exists("/c.txt"))

	require.NoError(t, m.MkdirAll("/d/e/f", 0o755))
	assert.True(t, m.Exists("/d"))
	assert.True(t, m.Exists("/d/e/f"))
	require.NoError(t, m.Remove("/d/e/f"))
	assert.False(t, m.Exists("/d/e/f"))

	require.NoError(t, m.Remove("/c.txt"))
	assert.False(t, m.Exists("/c.txt"))
}

func TestOSFileSystemExists(t *testing.T) {
	t.Parallel()

	assert.True(t, OSFileSystem{}.Exists("filesystem.go"))
	assert.False(t, OSFileSystem{}.Exists("no_such_file.go"))
}
