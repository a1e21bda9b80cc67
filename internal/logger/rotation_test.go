package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mnemo.log")

		w, err := NewRotatingWriter(path, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "nested", "mnemo.log")

		w, err := NewRotatingWriter(path, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("resumes size from an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mnemo.log")
		require.NoError(t, os.WriteFile(path, []byte("previous run\n"), 0644))

		w, err := NewRotatingWriter(path, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		assert.Equal(t, int64(len("previous run\n")), w.size)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")

	w, err := NewRotatingWriter(path, 10, 7, false)
	require.NoError(t, err)
	defer w.Close()

	line := []byte("saved memory abc123\n")
	n, err := w.Write(line)
	require.NoError(t, err)
	assert.Equal(t, len(line), n)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(line), string(content))
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.log")

	// maxSize 0 MB forces a rotation on every write
	w, err := NewRotatingWriter(path, 0, 7, false)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte(strings.Repeat("a", 64) + "\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("after rotation\n"))
	require.NoError(t, err)

	rotated, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after rotation\n", string(content))
}

func TestCompressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log.20240101-000000")
	require.NoError(t, os.WriteFile(path, []byte("rotated content"), 0644))

	w := &RotatingWriter{compress: true}
	require.NoError(t, w.compressFile(path))

	_, err := os.Stat(path + ".gz")
	assert.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPruneOld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnemo.log")

	stale := path + ".20200101-120000"
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := path + "." + time.Now().Format(rotatedTimestampLayout)
	require.NoError(t, os.WriteFile(fresh, []byte("fresh"), 0644))

	w, err := NewRotatingWriter(path, 10, 7, false)
	require.NoError(t, err)
	defer w.Close()

	w.pruneOld()

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
