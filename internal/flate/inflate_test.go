package flate

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func deflate(t *testing.T, p []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func drain(t *testing.T, d *Decompressor) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, status, err := d.Inflate(buf)
		require.NoError(t, err)
		if n > 0 {
			out.Write(buf[:n])
		}
		if status == StatusStreamEnd {
			return out.Bytes()
		}
	}
}

func TestRoundTrip(t *testing.T) {
	cases := map[string][]byte{
		"empty":        {},
		"short":        []byte("hello, world"),
		"repetitive":   bytes.Repeat([]byte("abcabcabcabc"), 10000),
		"random small": randomBytes(t, 1024),
		"random large": randomBytes(t, 1<<20),
	}

	for name, plain := range cases {
		plain := plain
		t.Run(name, func(t *testing.T) {
			compressed := deflate(t, plain)
			d := NewReader(bytes.NewReader(compressed))
			got := drain(t, d)
			require.Equal(t, plain, got)
		})
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(rand.Reader, b)
	require.NoError(t, err)
	return b
}

// TestCheckpointResume verifies that a Checkpoint captured at a BlockEnd
// lets a second Decompressor, seeded only with that checkpoint, reproduce
// every byte from that point onward.
func TestCheckpointResume(t *testing.T) {
	plain := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 50000)
	compressed := deflate(t, plain)

	d := NewReader(bytes.NewReader(compressed))
	buf := make([]byte, 4096)

	var produced int64
	var cp Checkpoint
	haveCheckpoint := false

	for {
		n, status, err := d.Inflate(buf)
		require.NoError(t, err)
		produced += int64(n)
		if status == StatusBlockEnd {
			c := d.Checkpoint()
			// Pick a checkpoint with a full window, deep enough into the
			// stream to exercise genuine back-references across it.
			if !haveCheckpoint && len(c.Window) == WindowSize && c.UncompressedOffset > 64*1024 {
				cp = c
				haveCheckpoint = true
			}
		}
		if status == StatusStreamEnd {
			break
		}
	}
	require.True(t, haveCheckpoint, "expected to observe a full-window checkpoint")

	resumeSrc := bytes.NewReader(compressed)
	_, err := resumeSrc.Seek(cp.CompressedOffset, io.SeekStart)
	require.NoError(t, err)

	var prevByte byte
	if cp.BitOffset > 0 {
		_, err := resumeSrc.Seek(cp.CompressedOffset-1, io.SeekStart)
		require.NoError(t, err)
		var b [1]byte
		_, err = io.ReadFull(resumeSrc, b[:])
		require.NoError(t, err)
		prevByte = b[0]
		_, err = resumeSrc.Seek(cp.CompressedOffset, io.SeekStart)
		require.NoError(t, err)
	}

	r2 := NewReader(resumeSrc)
	r2.Reset(resumeSrc, nil, cp.CompressedOffset, cp.UncompressedOffset)
	if cp.BitOffset > 0 {
		r2.Prime(cp.BitOffset, prevByte)
	}
	r2.SetDictionary(cp.Window)

	got := drain(t, r2)
	want := plain[cp.UncompressedOffset:]
	require.Equal(t, len(want), len(got))
	require.Equal(t, want, got)
}

func TestBlockEndBitOffsetInRange(t *testing.T) {
	plain := bytes.Repeat([]byte("0123456789"), 100000)
	compressed := deflate(t, plain)

	d := NewReader(bytes.NewReader(compressed))
	buf := make([]byte, 8192)
	seen := 0
	for {
		_, status, err := d.Inflate(buf)
		require.NoError(t, err)
		if status == StatusBlockEnd {
			cp := d.Checkpoint()
			require.GreaterOrEqual(t, cp.BitOffset, 0)
			require.LessOrEqual(t, cp.BitOffset, 7)
			seen++
		}
		if status == StatusStreamEnd {
			break
		}
	}
	require.Greater(t, seen, 0)
}

func TestCorruptInputErrors(t *testing.T) {
	plain := []byte("some data to compress for corruption testing, long enough to span blocks.")
	compressed := deflate(t, bytes.Repeat(plain, 1000))
	mangled := append([]byte(nil), compressed...)
	mangled[len(mangled)/2] ^= 0xff

	d := NewReader(bytes.NewReader(mangled))
	buf := make([]byte, 4096)
	var lastErr error
	for {
		_, status, err := d.Inflate(buf)
		if status == StatusError {
			lastErr = err
			break
		}
		if status == StatusStreamEnd {
			break
		}
	}
	// Mangling a byte deep inside a large compressed block overwhelmingly
	// produces either a decode error or a silently different (but still
	// well-formed) bitstream; assert we never panic and, when an error
	// surfaces, that it is a CorruptInputError.
	if lastErr != nil {
		_, ok := lastErr.(CorruptInputError)
		require.True(t, ok, "expected CorruptInputError, got %T: %v", lastErr, lastErr)
	}
}
