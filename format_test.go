package gzran

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSampleIndex(t *testing.T) *Index {
	t.Helper()
	ix := NewIndex(4096)
	require.NoError(t, ix.Append(&AccessPoint{
		UncompressedOffset: 0,
		CompressedOffset:   12,
		IsStreamStart:      true,
	}))
	for i := uint64(1); i <= 3; i++ {
		w := make([]byte, WindowSize)
		for j := range w {
			w[j] = byte(i*7 + uint64(j))
		}
		require.NoError(t, ix.Append(&AccessPoint{
			UncompressedOffset: i * 8192,
			CompressedOffset:   i*2048 + 12,
			BitOffset:          uint8(i % 8),
			Window:             w,
		}))
	}
	return ix
}

func TestWriteReadIndexRoundTrip(t *testing.T) {
	ix := buildSampleIndex(t)

	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, ix, 4096, 99999, true, 123456, true))

	got, meta, err := ReadIndex(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), meta.Spacing)
	require.Equal(t, uint64(99999), meta.CompressedSize)
	require.True(t, meta.CompressedSizeKnown)
	require.Equal(t, uint64(123456), meta.TotalUncompressed)
	require.True(t, meta.TotalUncompressedKnown)

	require.Equal(t, ix.Len(), got.Len())

	var wantPts, gotPts []*AccessPoint
	ix.Each(func(p *AccessPoint) bool { wantPts = append(wantPts, p); return true })
	got.Each(func(p *AccessPoint) bool { gotPts = append(gotPts, p); return true })
	require.Len(t, gotPts, len(wantPts))
	for i := range wantPts {
		require.Equal(t, wantPts[i].UncompressedOffset, gotPts[i].UncompressedOffset)
		require.Equal(t, wantPts[i].CompressedOffset, gotPts[i].CompressedOffset)
		require.Equal(t, wantPts[i].BitOffset, gotPts[i].BitOffset)
		require.Equal(t, wantPts[i].Window, gotPts[i].Window)
		require.Equal(t, wantPts[i].IsStreamStart, gotPts[i].IsStreamStart)
	}
}

func TestReadIndexRejectsBadMagic(t *testing.T) {
	_, _, err := ReadIndex(bytes.NewReader(bytes.Repeat([]byte{0xAA}, 64)))
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestReadIndexRejectsTruncated(t *testing.T) {
	ix := buildSampleIndex(t)
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, ix, 4096, 0, false, 0, false))

	truncated := buf.Bytes()[:buf.Len()-10]
	_, _, err := ReadIndex(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestWriteIndexTotalUncompressedUnknown(t *testing.T) {
	ix := buildSampleIndex(t)
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, ix, 4096, 0, false, 0, false))

	_, meta, err := ReadIndex(&buf)
	require.NoError(t, err)
	require.False(t, meta.TotalUncompressedKnown)
	require.False(t, meta.CompressedSizeKnown)
}
