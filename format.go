package gzran

/*
ZRAN_v1 index format

A self-describing binary blob with a fixed header and a packed table of
access points, modelled on the teacher's seekTableFooter/seekTableEntry
MarshalBinary/UnmarshalBinary pair.

	magic              7 bytes   "ZRAN_v1"
	version             u8
	flags              u32 le    bit0 = multi_member, bit1 = total_uncompressed_known
	compressed_size     u64 le
	uncompressed_size   u64 le   0 unless flags bit1 set
	spacing             u64 le
	window_size         u32 le   always 32768 for version >= 1
	n_points            u64 le
	points              n_points * point record

Per-point record:

	uncompressed_offset u64 le
	compressed_offset   u64 le
	bit_offset          u8
	window_length       u16 le
	window_bytes        window_length bytes
*/

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	indexMagic        = "ZRAN_v1"
	indexVersion      = 1
	flagMultiMember   = 1 << 0
	flagTotalUncompKn = 1 << 1
)

// IndexMeta carries the header fields not represented directly by Index
// itself.
type IndexMeta struct {
	CompressedSize         uint64
	CompressedSizeKnown    bool
	TotalUncompressed      uint64
	TotalUncompressedKnown bool
	Spacing                uint64
	MultiMember            bool
}

// WriteIndex serialises idx in the ZRAN_v1 format.
func WriteIndex(w io.Writer, idx *Index, spacing, compressedSize uint64, compressedSizeKnown bool, totalUncompressed uint64, totalUncompressedKnown bool) error {
	var flags uint32
	if idx.Len() > 1 {
		// A point beyond the first stream-start implies at least one more
		// member boundary was crossed only if any later point is itself a
		// stream start; conservatively flag multi-member whenever more
		// than one stream-start point exists.
		seen := 0
		idx.Each(func(p *AccessPoint) bool {
			if p.IsStreamStart {
				seen++
			}
			return seen < 2
		})
		if seen >= 2 {
			flags |= flagMultiMember
		}
	}
	if totalUncompressedKnown {
		flags |= flagTotalUncompKn
	}

	hdr := make([]byte, 0, 7+1+4+8+8+8+4+8)
	hdr = append(hdr, indexMagic...)
	hdr = append(hdr, indexVersion)

	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], flags)
	hdr = append(hdr, tmp[:4]...)

	var cs uint64
	if compressedSizeKnown {
		cs = compressedSize
	}
	binary.LittleEndian.PutUint64(tmp[:8], cs)
	hdr = append(hdr, tmp[:8]...)

	var us uint64
	if totalUncompressedKnown {
		us = totalUncompressed
	}
	binary.LittleEndian.PutUint64(tmp[:8], us)
	hdr = append(hdr, tmp[:8]...)

	binary.LittleEndian.PutUint64(tmp[:8], spacing)
	hdr = append(hdr, tmp[:8]...)

	binary.LittleEndian.PutUint32(tmp[:4], WindowSize)
	hdr = append(hdr, tmp[:4]...)

	binary.LittleEndian.PutUint64(tmp[:8], uint64(idx.Len()))
	hdr = append(hdr, tmp[:8]...)

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("gzran: write index header: %w", err)
	}

	var rerr error
	idx.Each(func(p *AccessPoint) bool {
		rec := make([]byte, 0, 8+8+1+2+len(p.Window))
		var b8 [8]byte
		binary.LittleEndian.PutUint64(b8[:], p.UncompressedOffset)
		rec = append(rec, b8[:]...)
		binary.LittleEndian.PutUint64(b8[:], p.CompressedOffset)
		rec = append(rec, b8[:]...)
		rec = append(rec, p.BitOffset)
		var b2 [2]byte
		binary.LittleEndian.PutUint16(b2[:], uint16(len(p.Window)))
		rec = append(rec, b2[:]...)
		rec = append(rec, p.Window...)
		if _, err := w.Write(rec); err != nil {
			rerr = fmt.Errorf("gzran: write access point: %w", err)
			return false
		}
		return true
	})
	return rerr
}

// ReadIndex deserialises a ZRAN_v1 blob, validating every invariant from
// §8 (strict monotonicity, bit offset range, window length) as it goes.
func ReadIndex(r io.Reader) (*Index, IndexMeta, error) {
	// The fixed prefix is 7+1+4+8+8+8 bytes (magic, version, flags,
	// compressed_size, uncompressed_size, spacing). What follows it
	// differs by version: version >= 1 has a 4-byte window_size field
	// before n_points; version 0 goes straight to n_points. Read only the
	// prefix up front and branch before consuming either tail shape.
	hdr := make([]byte, 7+1+4+8+8+8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, IndexMeta{}, fmt.Errorf("%w: truncated index header: %v", ErrCorruptData, err)
	}
	if string(hdr[:7]) != indexMagic {
		return nil, IndexMeta{}, fmt.Errorf("%w: bad magic %q", ErrCorruptData, hdr[:7])
	}
	version := hdr[7]
	if version != indexVersion && version != 0 {
		return nil, IndexMeta{}, fmt.Errorf("%w: unsupported index version %d", ErrCorruptData, version)
	}

	off := 8
	flags := binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	compressedSize := binary.LittleEndian.Uint64(hdr[off:])
	off += 8
	totalUncompressed := binary.LittleEndian.Uint64(hdr[off:])
	off += 8
	spacing := binary.LittleEndian.Uint64(hdr[off:])

	var windowSize uint32 = WindowSize
	var nPoints uint64
	if version >= 1 {
		var wsbuf [4]byte
		if _, err := io.ReadFull(r, wsbuf[:]); err != nil {
			return nil, IndexMeta{}, fmt.Errorf("%w: truncated index header: %v", ErrCorruptData, err)
		}
		windowSize = binary.LittleEndian.Uint32(wsbuf[:])
	}
	var npbuf [8]byte
	if _, err := io.ReadFull(r, npbuf[:]); err != nil {
		return nil, IndexMeta{}, fmt.Errorf("%w: truncated index header: %v", ErrCorruptData, err)
	}
	nPoints = binary.LittleEndian.Uint64(npbuf[:])

	meta := IndexMeta{
		CompressedSize:         compressedSize,
		CompressedSizeKnown:    compressedSize != 0,
		TotalUncompressed:      totalUncompressed,
		TotalUncompressedKnown: flags&flagTotalUncompKn != 0,
		Spacing:                spacing,
		MultiMember:            flags&flagMultiMember != 0,
	}

	idx := NewIndex(spacing)
	for i := uint64(0); i < nPoints; i++ {
		var fixed [8 + 8 + 1 + 2]byte
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return nil, meta, fmt.Errorf("%w: truncated access point %d: %v", ErrCorruptData, i, err)
		}
		uoff := binary.LittleEndian.Uint64(fixed[0:8])
		coff := binary.LittleEndian.Uint64(fixed[8:16])
		bitOffset := fixed[16]
		winLen := binary.LittleEndian.Uint16(fixed[17:19])

		if bitOffset > 7 {
			return nil, meta, fmt.Errorf("%w: point %d bit offset %d out of range", ErrCorruptData, i, bitOffset)
		}
		if uint32(winLen) > windowSize {
			return nil, meta, fmt.Errorf("%w: point %d window length %d exceeds %d", ErrCorruptData, i, winLen, windowSize)
		}

		window := make([]byte, winLen)
		if winLen > 0 {
			if _, err := io.ReadFull(r, window); err != nil {
				return nil, meta, fmt.Errorf("%w: truncated window for point %d: %v", ErrCorruptData, i, err)
			}
		}

		pt := &AccessPoint{
			UncompressedOffset: uoff,
			CompressedOffset:   coff,
			BitOffset:          bitOffset,
			Window:             window,
			IsStreamStart:      bitOffset == 0 && winLen == 0,
		}
		if err := idx.Append(pt); err != nil {
			return nil, meta, fmt.Errorf("%w: point %d: %v", ErrCorruptData, i, err)
		}
	}

	return idx, meta, nil
}
