package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapReadAtAndSlice(t *testing.T) {
	content := []byte("mapped file contents for random access reads")
	path := filepath.Join(t.TempDir(), "mapped.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m, err := OpenMmap(path)
	require.NoError(t, err)
	defer m.Close()

	require.True(t, m.CanSeek())
	size, ok := m.Size()
	require.True(t, ok)
	require.Equal(t, int64(len(content)), size)
	require.Equal(t, path, m.Path())

	buf := make([]byte, 6)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "file c", string(buf))

	slice, err := m.Slice(0, 6)
	require.NoError(t, err)
	require.Equal(t, "mapped", string(slice))

	// Slice past EOF is truncated, not an error.
	tail, err := m.Slice(int64(len(content))-4, 100)
	require.NoError(t, err)
	require.Equal(t, content[len(content)-4:], tail)
}
