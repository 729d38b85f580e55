// Package flate implements a checkpoint-capable DEFLATE (RFC 1951) decoder.
//
// It is a fork of the Go standard library's compress/flate decompressor,
// modified so that decoding can be paused at any block boundary and resumed
// later given nothing but the bit position and the last 32KiB of output.
package flate

// dictDecoder implements the LZ77 sliding window used by DEFLATE back
// references. It is a ring buffer of windowSize bytes.
type dictDecoder struct {
	hist []byte

	wrPos int
	rdPos int
	full  bool
}

// init resets the dictionary to the given size, seeding it with dict (the
// trailing min(len(dict), size) bytes of dict become the initial history).
func (d *dictDecoder) init(size int, dict []byte) {
	*d = dictDecoder{hist: d.hist}
	if cap(d.hist) < size {
		d.hist = make([]byte, size)
	}
	d.hist = d.hist[:size]

	if len(dict) > len(d.hist) {
		dict = dict[len(dict)-len(d.hist):]
	}
	d.wrPos = copy(d.hist, dict)
	if d.wrPos == len(d.hist) {
		d.wrPos = 0
		d.full = true
	}
	d.rdPos = d.wrPos
}

func (d *dictDecoder) histSize() int {
	if d.full {
		return len(d.hist)
	}
	return d.wrPos
}

func (d *dictDecoder) availRead() int {
	return d.wrPos - d.rdPos
}

func (d *dictDecoder) availWrite() int {
	return len(d.hist) - d.wrPos
}

func (d *dictDecoder) writeSlice() []byte {
	return d.hist[d.wrPos:]
}

func (d *dictDecoder) writeMark(cnt int) {
	d.wrPos += cnt
}

func (d *dictDecoder) writeByte(c byte) {
	d.hist[d.wrPos] = c
	d.wrPos++
}

// writeCopy copies a length-byte run starting dist bytes before the current
// write position, handling the case where source and destination overlap.
func (d *dictDecoder) writeCopy(dist, length int) int {
	dstBase := d.wrPos
	dstPos := dstBase
	srcPos := dstPos - dist
	endPos := dstPos + length
	if endPos > len(d.hist) {
		endPos = len(d.hist)
	}

	if srcPos < 0 {
		srcPos += len(d.hist)
		dstPos += copy(d.hist[dstPos:endPos], d.hist[srcPos:])
		srcPos = 0
	}

	for dstPos < endPos {
		dstPos += copy(d.hist[dstPos:endPos], d.hist[srcPos:dstPos])
	}

	d.wrPos = dstPos
	return dstPos - dstBase
}

// tryWriteCopy is the fast path of writeCopy: it only succeeds if the whole
// copy fits within the current, non-wrapping write region.
func (d *dictDecoder) tryWriteCopy(dist, length int) int {
	dstPos := d.wrPos
	endPos := dstPos + length
	if dstPos < dist || endPos > len(d.hist) {
		return 0
	}
	dstBase := dstPos
	srcPos := dstPos - dist

	for dstPos < endPos {
		dstPos += copy(d.hist[dstPos:endPos], d.hist[srcPos:dstPos])
	}

	d.wrPos = dstPos
	return dstPos - dstBase
}

func (d *dictDecoder) readFlush() []byte {
	toRead := d.hist[d.rdPos:d.wrPos]
	d.rdPos = d.wrPos
	if d.wrPos == len(d.hist) {
		d.wrPos, d.rdPos, d.full = 0, 0, true
	}
	return toRead
}

// window returns the trailing history in chronological order (oldest byte
// first), suitable to hand to init as a resumption dictionary. Its length is
// histSize(), not necessarily len(d.hist).
func (d *dictDecoder) window() []byte {
	if !d.full {
		out := make([]byte, d.wrPos)
		copy(out, d.hist[:d.wrPos])
		return out
	}
	out := make([]byte, len(d.hist))
	n := copy(out, d.hist[d.wrPos:])
	copy(out[n:], d.hist[:d.wrPos])
	return out
}
