package gzip

import (
	"bytes"
	stdgzip "compress/gzip"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadHeaderMatchesStdlib(t *testing.T) {
	var buf bytes.Buffer
	w, err := stdgzip.NewWriterLevel(&buf, stdgzip.BestSpeed)
	require.NoError(t, err)
	w.Name = "payload.bin"
	w.Comment = "a comment"
	_, err = w.Write([]byte("hello, world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	hdr, n, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "payload.bin", hdr.Name)
	require.Equal(t, "a comment", hdr.Comment)
	require.Greater(t, n, 10)

	rest := buf.Bytes()[n:]
	r, err := stdgzip.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	decoded, err := readAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(decoded))
	_ = rest
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	_, _, err := ReadHeader(bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03}))
	require.Error(t, err)
}

func TestLooksLikeHeader(t *testing.T) {
	require.True(t, LooksLikeHeader(0x1f, 0x8b))
	require.False(t, LooksLikeHeader(0x00, 0x00))
}

func TestChecksumMatchesCRC32(t *testing.T) {
	c := Checksum(0, []byte("hello"))
	c = Checksum(c, []byte(", world"))
	require.Equal(t, crc32.ChecksumIEEE([]byte("hello, world")), c)
}

func readAll(r *stdgzip.Reader) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r)
	return buf.Bytes(), err
}
