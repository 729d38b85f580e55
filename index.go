package gzran

import (
	"fmt"

	"github.com/google/btree"
	"go.uber.org/zap/zapcore"
)

// WindowSize is the fixed DEFLATE sliding window size every non-initial
// access point's Window must equal.
const WindowSize = 32768

// AccessPoint is a captured decoder state at a DEFLATE block boundary: the
// byte/bit position in the compressed stream, the corresponding
// uncompressed offset, and the trailing 32 KiB of uncompressed output
// needed to resolve back-references on resume.
type AccessPoint struct {
	// UncompressedOffset is the position in the decoded stream this point
	// applies to.
	UncompressedOffset uint64
	// CompressedOffset is the byte position in the compressed stream the
	// source must be repositioned to.
	CompressedOffset uint64
	// BitOffset is the number of extra bits, from the byte preceding
	// CompressedOffset, belonging to the code unit starting the next
	// block. Always in [0,7].
	BitOffset uint8
	// Window is the last 32 KiB of uncompressed data produced immediately
	// before this point, except at the very first point where fewer bytes
	// may exist.
	Window []byte
	// IsStreamStart is true if this point is the first byte of a gzip
	// member; then BitOffset == 0 and Window is empty.
	IsStreamStart bool
}

func (p *AccessPoint) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("uncompressedOffset", p.UncompressedOffset)
	enc.AddUint64("compressedOffset", p.CompressedOffset)
	enc.AddUint8("bitOffset", p.BitOffset)
	enc.AddInt("windowLen", len(p.Window))
	enc.AddBool("isStreamStart", p.IsStreamStart)
	return nil
}

func lessByUncompressed(a, b *AccessPoint) bool {
	return a.UncompressedOffset < b.UncompressedOffset
}

func lessByCompressed(a, b *AccessPoint) bool {
	return a.CompressedOffset < b.CompressedOffset
}

// Index is the access-point table: two B-trees over the same set of
// points, one ordered by uncompressed offset and one by compressed offset,
// mirroring the teacher's single btree.NewG(8, env.Less) but duplicated
// for the second key gzran needs that the zstd teacher never did.
type Index struct {
	byUncompressed *btree.BTreeG[*AccessPoint]
	byCompressed   *btree.BTreeG[*AccessPoint]

	spacing uint64
	last    *AccessPoint
}

// NewIndex returns an empty index targeting the given point spacing. The
// spacing is recorded for logging only; Append does not check it.
func NewIndex(spacing uint64) *Index {
	return &Index{
		byUncompressed: btree.NewG(8, lessByUncompressed),
		byCompressed:   btree.NewG(8, lessByCompressed),
		spacing:        spacing,
	}
}

// Append inserts p, enforcing strict monotonicity in both offsets and the
// window-length/bit-offset invariants from the data model.
func (ix *Index) Append(p *AccessPoint) error {
	if p.BitOffset > 7 {
		return fmt.Errorf("index: bit offset %d out of range", p.BitOffset)
	}
	if p.IsStreamStart && p.BitOffset != 0 {
		return fmt.Errorf("index: stream-start point has nonzero bit offset")
	}
	if !p.IsStreamStart && ix.last != nil && len(p.Window) != WindowSize {
		return fmt.Errorf("index: non-initial point window length %d != %d", len(p.Window), WindowSize)
	}
	if ix.last != nil {
		if p.UncompressedOffset <= ix.last.UncompressedOffset {
			return fmt.Errorf("index: uncompressed offset %d not strictly increasing after %d",
				p.UncompressedOffset, ix.last.UncompressedOffset)
		}
		if p.CompressedOffset <= ix.last.CompressedOffset {
			return fmt.Errorf("index: compressed offset %d not strictly increasing after %d",
				p.CompressedOffset, ix.last.CompressedOffset)
		}
	}

	ix.byUncompressed.ReplaceOrInsert(p)
	ix.byCompressed.ReplaceOrInsert(p)
	ix.last = p
	return nil
}

// FindByUncompressed returns the greatest point with UncompressedOffset <=
// off, or nil if off precedes every known point.
func (ix *Index) FindByUncompressed(off uint64) *AccessPoint {
	var found *AccessPoint
	ix.byUncompressed.DescendLessOrEqual(&AccessPoint{UncompressedOffset: off}, func(p *AccessPoint) bool {
		found = p
		return false
	})
	return found
}

// FindByCompressed returns the greatest point with CompressedOffset <= off,
// or nil if off precedes every known point.
func (ix *Index) FindByCompressed(off uint64) *AccessPoint {
	var found *AccessPoint
	ix.byCompressed.DescendLessOrEqual(&AccessPoint{CompressedOffset: off}, func(p *AccessPoint) bool {
		found = p
		return false
	})
	return found
}

// Last returns the most recently appended point, or nil if the index is
// empty.
func (ix *Index) Last() *AccessPoint { return ix.last }

// Len returns the number of points in the index.
func (ix *Index) Len() int { return ix.byUncompressed.Len() }

// Each calls fn for every point in ascending uncompressed-offset order,
// stopping early if fn returns false.
func (ix *Index) Each(fn func(*AccessPoint) bool) {
	ix.byUncompressed.Ascend(func(p *AccessPoint) bool { return fn(p) })
}

// Clear removes every point from the index.
func (ix *Index) Clear() {
	ix.byUncompressed.Clear(false)
	ix.byCompressed.Clear(false)
	ix.last = nil
}

func (ix *Index) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("points", ix.Len())
	enc.AddUint64("spacing", ix.spacing)
	if ix.last != nil {
		return enc.AddObject("last", ix.last)
	}
	return nil
}
