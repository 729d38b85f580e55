package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestDescriptorReadAt(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, content)

	d, err := OpenDescriptor(path)
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.CanSeek())
	size, ok := d.Size()
	require.True(t, ok)
	require.Equal(t, int64(len(content)), size)

	buf := make([]byte, 5)
	n, err := d.ReadAt(buf, 4)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "quick", string(buf))
}

func TestDescriptorDropAndReopen(t *testing.T) {
	content := []byte("some bytes to read after dropping the handle")
	path := writeTempFile(t, content)

	d, err := OpenDescriptor(path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Drop())

	buf := make([]byte, 4)
	n, err := d.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "some", string(buf))
}

func TestDescriptorClosedRejectsReadAt(t *testing.T) {
	content := []byte("abc")
	path := writeTempFile(t, content)

	d, err := OpenDescriptor(path)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	// Idempotent close.
	require.NoError(t, d.Close())

	_, err = d.ReadAt(make([]byte, 1), 0)
	require.Error(t, err)
}

func TestDescriptorReopenFailureWrapsErrNoHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vanishing.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	d, err := OpenDescriptor(path)
	require.NoError(t, err)

	require.NoError(t, d.Drop())
	require.NoError(t, os.Remove(path))

	_, err = d.ReadAt(make([]byte, 1), 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoHandle))
}
