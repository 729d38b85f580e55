package source

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackReaderAtBacked(t *testing.T) {
	content := []byte("random access via io.ReaderAt")
	c := NewCallback(bytes.NewReader(content))

	require.True(t, c.CanSeek())
	buf := make([]byte, 6)
	n, err := c.ReadAt(buf, 7)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "access", string(buf))
}

// newSeekOnlyReader returns an io.Reader + io.Seeker that does not also
// implement io.ReaderAt, to exercise Callback's seek-backed random access
// path distinctly from its ReaderAt-backed path.
func newSeekOnlyReader(b []byte) io.ReadSeeker {
	br := bytes.NewReader(b)
	return struct {
		io.Reader
		io.Seeker
	}{br, br}
}

func TestCallbackSeekBacked(t *testing.T) {
	content := []byte("seek then read sequentially from that point")
	c := NewCallback(newSeekOnlyReader(content))

	require.True(t, c.CanSeek())
	buf := make([]byte, 4)
	n, err := c.ReadAt(buf, 5)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "then", string(buf))
}

type forwardOnlyReader struct {
	r   io.Reader
	pos int64
}

func (f *forwardOnlyReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	f.pos += int64(n)
	return n, err
}

func TestCallbackForwardOnly(t *testing.T) {
	content := []byte("forward only data, read once from the start")
	c := NewCallback(&forwardOnlyReader{r: bytes.NewReader(content)})

	require.False(t, c.CanSeek())

	buf := make([]byte, 7)
	n, err := c.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "forward", string(buf))

	// Reading from a non-contiguous offset now fails.
	_, err = c.ReadAt(make([]byte, 4), 20)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrForwardOnly))

	// But the next contiguous read succeeds.
	buf2 := make([]byte, 5)
	n, err = c.ReadAt(buf2, 7)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, " only", string(buf2))
}
