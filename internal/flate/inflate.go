package flate

import (
	"bufio"
	"io"
	"strconv"
)

const (
	maxMatchOffset = 1 << 15 // the largest DEFLATE back-reference distance

	// WindowSize is the size of the DEFLATE sliding window: the number of
	// trailing uncompressed bytes a resumed decoder must be seeded with.
	WindowSize = maxMatchOffset
)

// CorruptInputError reports the presence of corrupt input at a given
// compressed-stream byte offset.
type CorruptInputError int64

func (e CorruptInputError) Error() string {
	return "flate: corrupt input before offset " + strconv.FormatInt(int64(e), 10)
}

// InternalError reports a bug in the decoder itself.
type InternalError string

func (e InternalError) Error() string { return "flate: internal error: " + string(e) }

// Status describes what happened during one call to Inflate.
type Status int

const (
	// StatusProduced indicates that n > 0 bytes of uncompressed output were
	// written to the caller's buffer.
	StatusProduced Status = iota
	// StatusBlockEnd indicates the decoder has just reached a DEFLATE block
	// boundary; Checkpoint() now reflects that exact position and may be
	// sampled as an access point.
	StatusBlockEnd
	// StatusStreamEnd indicates the final DEFLATE block has been consumed.
	StatusStreamEnd
	// StatusError indicates err is non-nil and the decoder is unusable.
	StatusError
)

// Checkpoint is a snapshot of decoder state sufficient to resume inflation
// at the exact position it was taken, given the same compressed stream.
type Checkpoint struct {
	// CompressedOffset is the compressedOffset passed to Reset plus the
	// number of compressed bytes consumed from the input reader since.
	CompressedOffset int64
	// UncompressedOffset is the uncompressedOffset passed to Reset plus
	// the number of uncompressed bytes produced since.
	UncompressedOffset int64
	// BitOffset is the number of pending bits (0..7) held over from the
	// byte preceding CompressedOffset that belong to the next block.
	BitOffset int
	// Window is the trailing history (up to WindowSize bytes, chronological
	// order) needed to resolve back-references in the next block.
	Window []byte
}

// reader is the minimal input interface Decompressor needs. Callers that
// don't already provide ReadByte get wrapped in a bufio.Reader.
type reader interface {
	io.Reader
	io.ByteReader
}

func makeReader(r io.Reader) reader {
	if rr, ok := r.(reader); ok {
		return rr
	}
	return bufio.NewReader(r)
}

// Decompressor is a resumable DEFLATE decoder. The zero value is not usable;
// construct one with NewReader.
type Decompressor struct {
	r       reader
	roffset int64
	produced int64

	b  uint32
	nb uint

	h1, h2 huffmanDecoder

	bits     [maxNumLit + maxNumDist]int
	codebits [numCodes]int

	dict dictDecoder

	buf [4]byte

	step       func(*Decompressor)
	stepState  int
	final      bool
	err        error
	toRead     []byte
	hl, hd     *huffmanDecoder
	copyLen    int
	copyDist   int
	blockEnded bool
}

func init() {
	fixedHuffmanDecoderInit()
}

// NewReader returns a Decompressor reading a fresh DEFLATE stream from r,
// with no resumption dictionary.
func NewReader(r io.Reader) *Decompressor {
	f := &Decompressor{}
	f.Reset(r, nil, 0, 0)
	return f
}

// Reset reinitializes f to decode a new DEFLATE stream from r, starting its
// position counters at compressedOffset/uncompressedOffset (the absolute
// offsets the caller considers r and the produced bytes to represent) and
// seeding the sliding window with dict. This is used both for a brand-new
// gzip member (dict == nil, counters continuing from the driver's cursor)
// and, together with Prime, for random-access resumption from an access
// point (dict == point.Window).
func (f *Decompressor) Reset(r io.Reader, dict []byte, compressedOffset, uncompressedOffset int64) {
	*f = Decompressor{
		r:        makeReader(r),
		roffset:  compressedOffset,
		produced: uncompressedOffset,
		step:     (*Decompressor).nextBlock,
	}
	f.dict.init(maxMatchOffset, dict)
}

// Prime feeds the decoder the low bitOffset bits of prevByte, the byte that
// immediately precedes the resumption point in the compressed stream. It
// must be called (when bitOffset > 0) before the first call to Inflate
// after Reset, and only once.
func (f *Decompressor) Prime(bitOffset int, prevByte byte) {
	if bitOffset <= 0 {
		return
	}
	f.b = uint32(prevByte) >> uint(8-bitOffset)
	f.nb = uint(bitOffset)
}

// SetDictionary installs window as the sliding-window history, as if that
// data had just been produced. It is equivalent to passing dict to Reset,
// and exists separately so a driver can defer the decision (e.g. after
// Reset but before knowing whether this is a random-access resume).
func (f *Decompressor) SetDictionary(window []byte) {
	f.dict.init(maxMatchOffset, window)
}

// Checkpoint captures the decoder's current position and window. It is
// only meaningful to call this immediately after Inflate has returned
// StatusBlockEnd or StatusStreamEnd.
func (f *Decompressor) Checkpoint() Checkpoint {
	return Checkpoint{
		CompressedOffset:   f.roffset,
		UncompressedOffset: f.produced,
		BitOffset:          int(f.nb),
		Window:             f.dict.window(),
	}
}

// Inflate decodes into out, returning as soon as there is something to
// report: produced bytes, a block boundary, stream end, or an error. A
// single call never silently skips a block boundary; callers that want to
// discard output while fast-forwarding should still drive Inflate in a
// loop and ignore StatusProduced results.
func (f *Decompressor) Inflate(out []byte) (n int, status Status, err error) {
	for {
		if len(f.toRead) > 0 {
			n = copy(out, f.toRead)
			f.toRead = f.toRead[n:]
			return n, StatusProduced, nil
		}
		if f.blockEnded {
			f.blockEnded = false
			return 0, StatusBlockEnd, nil
		}
		if f.err != nil {
			if f.err == io.EOF {
				return 0, StatusStreamEnd, nil
			}
			return 0, StatusError, f.err
		}
		f.step(f)
		if f.err != nil && len(f.toRead) == 0 {
			f.toRead = f.dict.readFlush()
		}
	}
}

func (f *Decompressor) nextBlock() {
	for f.nb < 1+2 {
		if f.err = f.moreBits(); f.err != nil {
			return
		}
	}
	f.final = f.b&1 == 1
	f.b >>= 1
	typ := f.b & 3
	f.b >>= 2
	f.nb -= 1 + 2
	switch typ {
	case 0:
		f.dataBlock()
	case 1:
		f.hl = &fixedHuffmanDecoder
		f.hd = nil
		f.huffmanBlock()
	case 2:
		if f.err = f.readHuffman(); f.err != nil {
			return
		}
		f.hl = &f.h1
		f.hd = &f.h2
		f.huffmanBlock()
	default:
		f.err = CorruptInputError(f.roffset)
	}
}

func (f *Decompressor) readHuffman() error {
	for f.nb < 5+5+4 {
		if err := f.moreBits(); err != nil {
			return err
		}
	}
	nlit := int(f.b&0x1F) + 257
	if nlit > maxNumLit {
		return CorruptInputError(f.roffset)
	}
	f.b >>= 5
	ndist := int(f.b&0x1F) + 1
	if ndist > maxNumDist {
		return CorruptInputError(f.roffset)
	}
	f.b >>= 5
	nclen := int(f.b&0xF) + 4
	f.b >>= 4
	f.nb -= 5 + 5 + 4

	for i := 0; i < nclen; i++ {
		for f.nb < 3 {
			if err := f.moreBits(); err != nil {
				return err
			}
		}
		f.codebits[codeOrder[i]] = int(f.b & 0x7)
		f.b >>= 3
		f.nb -= 3
	}
	for i := nclen; i < len(codeOrder); i++ {
		f.codebits[codeOrder[i]] = 0
	}
	if !f.h1.init(f.codebits[0:]) {
		return CorruptInputError(f.roffset)
	}

	for i, n := 0, nlit+ndist; i < n; {
		x, err := f.huffSym(&f.h1)
		if err != nil {
			return err
		}
		if x < 16 {
			f.bits[i] = x
			i++
			continue
		}
		var rep int
		var nb uint
		var b int
		switch x {
		default:
			return InternalError("unexpected length code")
		case 16:
			rep = 3
			nb = 2
			if i == 0 {
				return CorruptInputError(f.roffset)
			}
			b = f.bits[i-1]
		case 17:
			rep = 3
			nb = 3
			b = 0
		case 18:
			rep = 11
			nb = 7
			b = 0
		}
		for f.nb < nb {
			if err := f.moreBits(); err != nil {
				return err
			}
		}
		rep += int(f.b & uint32(1<<nb-1))
		f.b >>= nb
		f.nb -= nb
		if i+rep > n {
			return CorruptInputError(f.roffset)
		}
		for j := 0; j < rep; j++ {
			f.bits[i] = b
			i++
		}
	}

	if !f.h1.init(f.bits[0:nlit]) || !f.h2.init(f.bits[nlit:nlit+ndist]) {
		return CorruptInputError(f.roffset)
	}

	if f.h1.min < f.bits[endBlockMarker] {
		f.h1.min = f.bits[endBlockMarker]
	}

	return nil
}

func (f *Decompressor) huffmanBlock() {
	const (
		stateInit = iota
		stateDict
	)

	switch f.stepState {
	case stateInit:
		goto readLiteral
	case stateDict:
		goto copyHistory
	}

readLiteral:
	{
		v, err := f.huffSym(f.hl)
		if err != nil {
			f.err = err
			return
		}
		var n uint
		var length int
		switch {
		case v < 256:
			f.dict.writeByte(byte(v))
			f.produced++
			if f.dict.availWrite() == 0 {
				f.toRead = f.dict.readFlush()
				f.step = (*Decompressor).huffmanBlock
				f.stepState = stateInit
				return
			}
			goto readLiteral
		case v == 256:
			f.finishBlock()
			return
		case v < 265:
			length = v - (257 - 3)
			n = 0
		case v < 269:
			length = v*2 - (265*2 - 11)
			n = 1
		case v < 273:
			length = v*4 - (269*4 - 19)
			n = 2
		case v < 277:
			length = v*8 - (273*8 - 35)
			n = 3
		case v < 281:
			length = v*16 - (277*16 - 67)
			n = 4
		case v < 285:
			length = v*32 - (281*32 - 131)
			n = 5
		case v < maxNumLit:
			length = 258
			n = 0
		default:
			f.err = CorruptInputError(f.roffset)
			return
		}
		if n > 0 {
			for f.nb < n {
				if err = f.moreBits(); err != nil {
					f.err = err
					return
				}
			}
			length += int(f.b & uint32(1<<n-1))
			f.b >>= n
			f.nb -= n
		}

		var dist int
		if f.hd == nil {
			for f.nb < 5 {
				if err = f.moreBits(); err != nil {
					f.err = err
					return
				}
			}
			dist = int(reverseByte5(byte(f.b & 0x1F)))
			f.b >>= 5
			f.nb -= 5
		} else {
			if dist, err = f.huffSym(f.hd); err != nil {
				f.err = err
				return
			}
		}

		switch {
		case dist < 4:
			dist++
		case dist < maxNumDist:
			nb := uint(dist-2) >> 1
			extra := (dist & 1) << nb
			for f.nb < nb {
				if err = f.moreBits(); err != nil {
					f.err = err
					return
				}
			}
			extra |= int(f.b & uint32(1<<nb-1))
			f.b >>= nb
			f.nb -= nb
			dist = 1<<(nb+1) + 1 + extra
		default:
			f.err = CorruptInputError(f.roffset)
			return
		}

		if dist > f.dict.histSize() {
			f.err = CorruptInputError(f.roffset)
			return
		}

		f.copyLen, f.copyDist = length, dist
		goto copyHistory
	}

copyHistory:
	{
		cnt := f.dict.tryWriteCopy(f.copyDist, f.copyLen)
		if cnt == 0 {
			cnt = f.dict.writeCopy(f.copyDist, f.copyLen)
		}
		f.copyLen -= cnt
		f.produced += int64(cnt)

		if f.dict.availWrite() == 0 || f.copyLen > 0 {
			f.toRead = f.dict.readFlush()
			f.step = (*Decompressor).huffmanBlock
			f.stepState = stateDict
			return
		}
		goto readLiteral
	}
}

func (f *Decompressor) dataBlock() {
	f.nb = 0
	f.b = 0

	nr, err := io.ReadFull(f.r, f.buf[0:4])
	f.roffset += int64(nr)
	if err != nil {
		f.err = noEOF(err)
		return
	}
	n := int(f.buf[0]) | int(f.buf[1])<<8
	nn := int(f.buf[2]) | int(f.buf[3])<<8
	if uint16(nn) != uint16(^uint16(n)) {
		f.err = CorruptInputError(f.roffset)
		return
	}

	if n == 0 {
		f.toRead = f.dict.readFlush()
		f.finishBlock()
		return
	}

	f.copyLen = n
	f.copyData()
}

func (f *Decompressor) copyData() {
	buf := f.dict.writeSlice()
	if len(buf) > f.copyLen {
		buf = buf[:f.copyLen]
	}

	cnt, err := io.ReadFull(f.r, buf)
	f.roffset += int64(cnt)
	f.produced += int64(cnt)
	f.copyLen -= cnt
	f.dict.writeMark(cnt)
	if err != nil {
		f.err = noEOF(err)
		return
	}

	if f.dict.availWrite() == 0 || f.copyLen > 0 {
		f.toRead = f.dict.readFlush()
		f.step = (*Decompressor).copyData
		return
	}
	f.finishBlock()
}

func (f *Decompressor) finishBlock() {
	if f.final {
		if f.dict.availRead() > 0 {
			f.toRead = f.dict.readFlush()
		}
		f.err = io.EOF
	}
	f.blockEnded = true
	f.step = (*Decompressor).nextBlock
}

func noEOF(e error) error {
	if e == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return e
}

func (f *Decompressor) moreBits() error {
	c, err := f.r.ReadByte()
	if err != nil {
		return noEOF(err)
	}
	f.roffset++
	f.b |= uint32(c) << f.nb
	f.nb += 8
	return nil
}

func (f *Decompressor) huffSym(h *huffmanDecoder) (int, error) {
	n := uint(h.min)
	nb, b := f.nb, f.b
	for {
		for nb < n {
			c, err := f.r.ReadByte()
			if err != nil {
				f.b = b
				f.nb = nb
				return 0, noEOF(err)
			}
			f.roffset++
			b |= uint32(c) << (nb & 31)
			nb += 8
		}
		chunk := h.chunks[b&(huffmanNumChunks-1)]
		n = uint(chunk & huffmanCountMask)
		if n > huffmanChunkBits {
			chunk = h.links[chunk>>huffmanValueShift][(b>>huffmanChunkBits)&h.linkMask]
			n = uint(chunk & huffmanCountMask)
		}
		if n <= nb {
			if n == 0 {
				f.b = b
				f.nb = nb
				f.err = CorruptInputError(f.roffset)
				return 0, f.err
			}
			f.b = b >> (n & 31)
			f.nb = nb - n
			return int(chunk >> huffmanValueShift), nil
		}
	}
}

// reverseByte5 reverses the low 5 bits of b, used to decode the fixed
// Huffman distance code (RFC 1951 section 3.2.6).
func reverseByte5(b byte) byte {
	v := b & 0x1F
	var r byte
	for i := 0; i < 5; i++ {
		r <<= 1
		r |= v & 1
		v >>= 1
	}
	return r
}
