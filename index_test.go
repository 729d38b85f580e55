package gzran

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fullWindow() []byte {
	return make([]byte, WindowSize)
}

func TestIndexAppendAndFind(t *testing.T) {
	ix := NewIndex(1024)

	require.NoError(t, ix.Append(&AccessPoint{
		UncompressedOffset: 0,
		CompressedOffset:   10,
		IsStreamStart:      true,
	}))
	require.NoError(t, ix.Append(&AccessPoint{
		UncompressedOffset: 2048,
		CompressedOffset:   500,
		Window:             fullWindow(),
	}))
	require.NoError(t, ix.Append(&AccessPoint{
		UncompressedOffset: 4096,
		CompressedOffset:   1000,
		Window:             fullWindow(),
	}))

	require.Equal(t, 3, ix.Len())

	p := ix.FindByUncompressed(3000)
	require.NotNil(t, p)
	require.Equal(t, uint64(2048), p.UncompressedOffset)

	p = ix.FindByUncompressed(0)
	require.NotNil(t, p)
	require.Equal(t, uint64(0), p.UncompressedOffset)

	p = ix.FindByCompressed(750)
	require.NotNil(t, p)
	require.Equal(t, uint64(500), p.CompressedOffset)
}

func TestIndexRejectsNonMonotonic(t *testing.T) {
	ix := NewIndex(0)
	require.NoError(t, ix.Append(&AccessPoint{UncompressedOffset: 100, CompressedOffset: 10, IsStreamStart: true}))

	err := ix.Append(&AccessPoint{UncompressedOffset: 50, CompressedOffset: 20, Window: fullWindow()})
	require.Error(t, err)

	err = ix.Append(&AccessPoint{UncompressedOffset: 200, CompressedOffset: 5, Window: fullWindow()})
	require.Error(t, err)
}

func TestIndexRejectsBadWindowLength(t *testing.T) {
	ix := NewIndex(0)
	require.NoError(t, ix.Append(&AccessPoint{UncompressedOffset: 0, CompressedOffset: 10, IsStreamStart: true}))
	err := ix.Append(&AccessPoint{UncompressedOffset: 100, CompressedOffset: 20, Window: make([]byte, 100)})
	require.Error(t, err)
}

func TestIndexRejectsBadBitOffset(t *testing.T) {
	ix := NewIndex(0)
	err := ix.Append(&AccessPoint{UncompressedOffset: 0, CompressedOffset: 10, BitOffset: 8})
	require.Error(t, err)
}

func TestIndexClear(t *testing.T) {
	ix := NewIndex(0)
	require.NoError(t, ix.Append(&AccessPoint{UncompressedOffset: 0, CompressedOffset: 10, IsStreamStart: true}))
	require.Equal(t, 1, ix.Len())
	ix.Clear()
	require.Equal(t, 0, ix.Len())
	require.Nil(t, ix.Last())
}

func TestIndexEachOrder(t *testing.T) {
	ix := NewIndex(0)
	require.NoError(t, ix.Append(&AccessPoint{UncompressedOffset: 0, CompressedOffset: 1, IsStreamStart: true}))
	require.NoError(t, ix.Append(&AccessPoint{UncompressedOffset: 10, CompressedOffset: 2, Window: fullWindow()}))
	require.NoError(t, ix.Append(&AccessPoint{UncompressedOffset: 20, CompressedOffset: 3, Window: fullWindow()}))

	var offsets []uint64
	ix.Each(func(p *AccessPoint) bool {
		offsets = append(offsets, p.UncompressedOffset)
		return true
	})
	require.Equal(t, []uint64{0, 10, 20}, offsets)
}
