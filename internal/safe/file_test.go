package safe

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c,1\n"), 0o600))

	t.Run("regular file", func(t *testing.T) {
		data, err := ReadFile(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "a,b,c,1\n", string(data))
	})

	t.Run("too large", func(t *testing.T) {
		_, err := ReadFile(path, &ReadOptions{MaxSize: 3})
		assert.ErrorContains(t, err, "exceeds maximum")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadFile(dir, nil)
		assert.ErrorContains(t, err, "not a regular file")
	})

	t.Run("symlink", func(t *testing.T) {
		link := filepath.Join(dir, "link.csv")
		require.NoError(t, os.Symlink(path, link))

		_, err := ReadFile(link, nil)
		assert.ErrorContains(t, err, "symlink")

		data, err := ReadFile(link, &ReadOptions{AllowSymlinks: true})
		require.NoError(t, err)
		assert.Equal(t, "a,b,c,1\n", string(data))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "missing"), nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.csv")

	require.NoError(t, WriteFile(path, 0, func(w io.Writer) error {
		_, err := io.WriteString(w, "first\n")
		return err
	}))
	require.NoError(t, WriteFile(path, 0, func(w io.Writer) error {
		_, err := io.WriteString(w, "second\n")
		return err
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data), "previous content is replaced")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestWriteFile_FailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.csv")
	require.NoError(t, os.WriteFile(path, []byte("kept\n"), 0o644))

	boom := errors.New("boom")
	err := WriteFile(path, 0, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "kept\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is removed")
}
