// Package gzip parses RFC 1952 member framing (header and trailer) around a
// checkpoint-capable internal/flate stream, the way the standard library's
// compress/gzip does it around compress/flate -- except here the driver
// needs to observe the raw byte offsets of each member so it can record
// access points and detect member boundaries without decoding through an
// opaque io.Reader.
package gzip

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

const (
	gzipID1     = 0x1f
	gzipID2     = 0x8b
	gzipDeflate = 8

	flagText    = 1 << 0
	flagHCRC    = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4

	// HeaderMaxSize is the size of a member header with the fixed fields,
	// a maximal FEXTRA field, 64 KiB each of FNAME and FCOMMENT, and FHCRC.
	// ReadHeader does not enforce it: FNAME and FCOMMENT are read up to
	// their terminating zero byte at any length.
	HeaderMaxSize = 10 + 2 + 65535 + 65536 + 65536 + 2

	// TrailerSize is the fixed CRC32+ISIZE trailer size.
	TrailerSize = 8
)

// ErrHeader reports that the next bytes are not a valid gzip member header.
var ErrHeader = errors.New("gzip: invalid header")

// Header is the subset of RFC 1952 member header fields callers might care
// about; unlike compress/gzip's Header, Name/Comment/Extra/ModTime are kept
// only for completeness -- gzran itself never inspects them beyond skipping.
type Header struct {
	ModTime time.Time
	OS      byte
	Name    string
	Comment string
	Extra   []byte
}

// ReadHeader consumes one gzip member header from r, returning the parsed
// header and the number of bytes consumed. r must support ReadByte; wrap
// with bufio.NewReader if it doesn't.
func ReadHeader(r io.Reader) (hdr Header, n int, err error) {
	br, ok := r.(byteReader)
	if !ok {
		b := bufio.NewReader(r)
		br = b
		r = b
	}

	var buf [10]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, n, fmt.Errorf("gzip: %w: %v", ErrHeader, err)
	}
	n += 10
	if buf[0] != gzipID1 || buf[1] != gzipID2 || buf[2] != gzipDeflate {
		return Header{}, n, ErrHeader
	}
	flg := buf[3]
	hdr.ModTime = time.Unix(int64(binary.LittleEndian.Uint32(buf[4:8])), 0)
	hdr.OS = buf[9]

	if flg&flagExtra != 0 {
		var lbuf [2]byte
		if _, err := io.ReadFull(r, lbuf[:]); err != nil {
			return Header{}, n, fmt.Errorf("gzip: %w: %v", ErrHeader, err)
		}
		n += 2
		extraLen := int(binary.LittleEndian.Uint16(lbuf[:]))
		hdr.Extra = make([]byte, extraLen)
		if _, err := io.ReadFull(r, hdr.Extra); err != nil {
			return Header{}, n, fmt.Errorf("gzip: %w: %v", ErrHeader, err)
		}
		n += extraLen
	}

	if flg&flagName != 0 {
		s, rn, err := readString(br)
		n += rn
		if err != nil {
			return Header{}, n, err
		}
		hdr.Name = s
	}

	if flg&flagComment != 0 {
		s, rn, err := readString(br)
		n += rn
		if err != nil {
			return Header{}, n, err
		}
		hdr.Comment = s
	}

	if flg&flagHCRC != 0 {
		var hbuf [2]byte
		if _, err := io.ReadFull(r, hbuf[:]); err != nil {
			return Header{}, n, fmt.Errorf("gzip: %w: %v", ErrHeader, err)
		}
		n += 2
	}

	return hdr, n, nil
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

func readString(br byteReader) (string, int, error) {
	var b []byte
	n := 0
	for {
		c, err := br.ReadByte()
		if err != nil {
			return "", n, fmt.Errorf("gzip: %w: %v", ErrHeader, err)
		}
		n++
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b), n, nil
}

// Trailer is the RFC 1952 per-member CRC32 + ISIZE footer.
type Trailer struct {
	CRC32 uint32
	ISIZE uint32
}

// ReadTrailer consumes the 8-byte member trailer.
func ReadTrailer(r io.Reader) (Trailer, error) {
	var buf [TrailerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Trailer{}, fmt.Errorf("gzip: truncated trailer: %w", err)
	}
	return Trailer{
		CRC32: binary.LittleEndian.Uint32(buf[0:4]),
		ISIZE: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// Checksum accumulates running and the newly produced bytes into an updated
// CRC32, as accumulated across successive Read/Inflate calls for one member.
func Checksum(running uint32, p []byte) uint32 {
	return crc32.Update(running, crc32.IEEETable, p)
}

// LooksLikeHeader reports whether the two peeked bytes are a gzip magic,
// used by the driver to decide whether trailing bytes after a member start
// a new member or are padding.
func LooksLikeHeader(b0, b1 byte) bool {
	return b0 == gzipID1 && b1 == gzipID2
}
