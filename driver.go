package gzran

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/climech/gzran/internal/flate"
	internalgzip "github.com/climech/gzran/internal/gzip"
	"github.com/climech/gzran/source"
)

// shortJumpFactor is the implementation-defined threshold (§9 open
// question b) above which a forward seek prefers a random-access resume
// over continued inflation: a gap of more than shortJumpFactor * spacing
// triggers a resume.
const shortJumpFactor = 1

type driverState int

const (
	stateFresh driverState = iota
	stateStreaming
	stateAtMemberBoundary
	stateEof
	stateFailed
)

// Driver is the stream-driver state machine: it builds the access-point
// index incrementally as it decodes, resumes from any recorded point,
// follows concatenated gzip members, and exposes byte-granular seek+read
// over the uncompressed space.
type Driver interface {
	// Read decodes up to len(p) bytes starting at the current cursor,
	// filling p as completely as possible short of end of stream.
	Read(p []byte) (n int, err error)

	// Seek repositions the uncompressed cursor, following io.Seeker
	// whence semantics.
	Seek(offset int64, whence int) (int64, error)

	// Tell returns the current uncompressed cursor.
	Tell() uint64

	// PRead performs an atomic seek+read, filling buf as completely as
	// possible short of end of stream.
	PRead(buf []byte, abs uint64) (int, error)

	// BuildFullIndex decodes the entire stream, recording access points
	// at the configured spacing.
	BuildFullIndex() error

	// SeekPoints returns every known access point as (compressed,
	// uncompressed) offset pairs, in ascending order.
	SeekPoints() [][2]uint64

	// ExportIndex serialises the current index in the ZRAN_v1 format.
	ExportIndex(w io.Writer) error

	// ImportIndex loads a previously exported index, replacing the
	// current one, validating it against this driver's source.
	ImportIndex(r io.Reader) error

	// Close releases the source and any buffers held by the driver.
	Close() error
}

var _ Driver = (*driverImpl)(nil)

type driverImpl struct {
	src    source.Source
	mmSrc  *source.Mmap // separate mmap handle backing ra, if useMmap was requested and honoured
	ra     *source.ReadAhead
	dh     source.DropHandler // non-nil iff drop_handles requested and supported

	infl  *flate.Decompressor
	index *Index

	opts   options
	logger *zap.Logger

	closed atomic.Bool
	state  driverState
	err    error

	cursorUncompressed uint64
	frontier           uint64 // farthest uncompressed offset ever reached

	memberCRC        uint32
	memberProduced   uint64
	memberVerifiable bool // false after a mid-member random resume

	totalUncompressed      uint64
	totalUncompressedKnown bool
	builtComplete          bool
}

// Open constructs a driver over src. The source is not read until the
// first Read/Seek/PRead/BuildFullIndex call (Fresh -> Streaming).
func Open(src source.Source, opts ...Option) (Driver, error) {
	var o options
	o.setDefault()
	for _, apply := range opts {
		if err := apply(&o); err != nil {
			return nil, fmt.Errorf("gzran: option: %w", err)
		}
	}

	readSrc := src
	var mmSrc *source.Mmap
	if o.useMmap {
		if d, ok := src.(interface{ Path() string }); ok {
			mm, err := source.OpenMmap(d.Path())
			if err == nil {
				readSrc = mm
				mmSrc = mm
			} else {
				o.logger.Warn("mmap open failed, falling back to source reads", zap.Error(err))
			}
		}
	}

	d := &driverImpl{
		src:    src,
		mmSrc:  mmSrc,
		ra:     source.NewReadAhead(readSrc, o.readbufSize),
		infl:   flate.NewReader(nil),
		index:  NewIndex(o.spacing),
		opts:   o,
		logger: o.logger,
		state:  stateFresh,
	}
	if o.dropHandles {
		if dh, ok := src.(source.DropHandler); ok {
			d.dh = dh
		}
	}
	return d, nil
}

func (d *driverImpl) fail(err error) {
	d.state = stateFailed
	d.err = err
}

func (d *driverImpl) checkUsable() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.state == stateFailed {
		return d.err
	}
	return nil
}

// ensureStarted parses the first gzip member if the driver hasn't begun
// decoding yet.
func (d *driverImpl) ensureStarted() error {
	if d.state != stateFresh {
		return nil
	}
	return d.startMember()
}

// startMember parses one gzip header at the read-ahead buffer's current
// position, appends its is_stream_start access point, and (re)initialises
// the inflater to decode it.
func (d *driverImpl) startMember() error {
	compOffsetBeforeHeader := d.ra.Pos()
	_, hn, err := internalgzip.ReadHeader(d.ra)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	headerEnd := compOffsetBeforeHeader + int64(hn)

	d.infl.Reset(d.ra, nil, headerEnd, int64(d.cursorUncompressed))
	d.memberCRC = 0
	d.memberProduced = 0
	d.memberVerifiable = true

	pt := &AccessPoint{
		UncompressedOffset: d.cursorUncompressed,
		CompressedOffset:   uint64(headerEnd),
		BitOffset:          0,
		IsStreamStart:      true,
	}
	if err := d.index.Append(pt); err != nil {
		d.logger.Debug("duplicate or out-of-order stream-start point, skipping", zap.Error(err))
	}

	d.state = stateStreaming
	if d.cursorUncompressed > d.frontier {
		d.frontier = d.cursorUncompressed
	}
	return nil
}

// maybeAppendPoint consults the placement policy right after a block_end
// signal and appends a point if due.
func (d *driverImpl) maybeAppendPoint() {
	// spacing == 0 means "only at member starts" (§3/§6.3): those points
	// are appended by startMember, never here.
	if d.opts.spacing == 0 {
		return
	}
	cp := d.infl.Checkpoint()
	last := d.index.Last()
	if last != nil && uint64(cp.UncompressedOffset)-last.UncompressedOffset < d.opts.spacing {
		return
	}
	pt := &AccessPoint{
		UncompressedOffset: uint64(cp.UncompressedOffset),
		CompressedOffset:   uint64(cp.CompressedOffset),
		BitOffset:          uint8(cp.BitOffset),
		Window:             cp.Window,
	}
	if err := d.index.Append(pt); err != nil {
		d.logger.Debug("skipping access point", zap.Error(err))
	}
}

// skipPaddingAndStartNext consumes 0x00 padding and either starts the next
// gzip member or reports io.EOF if the stream genuinely ends.
func (d *driverImpl) skipPaddingAndStartNext() error {
	for {
		b0, b1, ok := d.ra.PeekMagic()
		if !ok {
			// Fewer than two bytes remain: a single final 0x00 padding
			// byte is tolerated; any other lone byte cannot begin a member.
			if b, err := d.ra.ReadByte(); err == nil && b != 0 {
				return fmt.Errorf("%w: unexpected bytes after member trailer", ErrCorruptData)
			}
			return io.EOF
		}
		if b0 == 0 {
			if _, err := d.ra.ReadByte(); err != nil {
				return io.EOF
			}
			continue
		}
		if internalgzip.LooksLikeHeader(b0, b1) {
			return d.startMember()
		}
		return fmt.Errorf("%w: unexpected bytes after member trailer", ErrCorruptData)
	}
}

// finishMember reads the 8-byte trailer and validates CRC32/ISIZE when the
// member was decoded from its true start.
func (d *driverImpl) finishMember() error {
	trailer, err := internalgzip.ReadTrailer(d.ra)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if d.opts.skipCRCCheck || !d.memberVerifiable {
		return nil
	}
	if trailer.CRC32 != d.memberCRC {
		return fmt.Errorf("%w: have %08x want %08x", ErrCrcMismatch, d.memberCRC, trailer.CRC32)
	}
	if trailer.ISIZE != uint32(d.memberProduced) {
		return fmt.Errorf("%w: have %d want %d", ErrSizeMismatch, uint32(d.memberProduced), trailer.ISIZE)
	}
	return nil
}

// nextChunk runs the forward inflation step once: it loops internally over
// block_end/stream_end signals (which produce no caller-visible bytes) and
// returns as soon as bytes are produced, the stream truly ends, or an
// unrecoverable error occurs.
func (d *driverImpl) nextChunk(out []byte) (int, error) {
	for {
		switch d.state {
		case stateEof:
			return 0, io.EOF
		case stateFailed:
			return 0, d.err
		}

		n, status, err := d.infl.Inflate(out)
		switch status {
		case flate.StatusProduced:
			if !d.opts.skipCRCCheck {
				d.memberCRC = internalgzip.Checksum(d.memberCRC, out[:n])
			}
			d.cursorUncompressed += uint64(n)
			d.memberProduced += uint64(n)
			if d.cursorUncompressed > d.frontier {
				d.frontier = d.cursorUncompressed
			}
			return n, nil

		case flate.StatusBlockEnd:
			d.maybeAppendPoint()
			continue

		case flate.StatusStreamEnd:
			if ferr := d.finishMember(); ferr != nil {
				d.fail(ferr)
				return 0, d.err
			}
			d.state = stateAtMemberBoundary
			nerr := d.skipPaddingAndStartNext()
			if nerr == nil {
				continue
			}
			if errors.Is(nerr, io.EOF) {
				d.state = stateEof
				d.totalUncompressed = d.cursorUncompressed
				d.totalUncompressedKnown = true
				return 0, io.EOF
			}
			d.fail(nerr)
			return 0, d.err

		case flate.StatusError:
			d.fail(fmt.Errorf("%w: %v", ErrCorruptData, err))
			return 0, d.err

		default:
			d.fail(fmt.Errorf("gzran: unexpected inflate status %v", status))
			return 0, d.err
		}
	}
}

func (d *driverImpl) withHandle(fn func() error) error {
	if d.dh == nil {
		return fn()
	}
	err := fn()
	if dropErr := d.dh.Drop(); dropErr != nil {
		d.logger.Debug("drop handle failed", zap.Error(dropErr))
	}
	return err
}

// Read honours the standard io.Reader contract: io.EOF is only ever
// returned alongside zero bytes (never silently swallowed), so callers
// driving this through io.Copy/io.ReadFull terminate instead of spinning
// forever on a (0, nil) result.
func (d *driverImpl) Read(p []byte) (int, error) {
	var total int
	var hitEOF bool
	err := d.withHandle(func() error {
		if err := d.checkUsable(); err != nil {
			return err
		}
		if err := d.ensureStarted(); err != nil {
			d.fail(err)
			return err
		}
		for total < len(p) {
			n, err := d.nextChunk(p[total:])
			total += n
			if err != nil {
				if errors.Is(err, io.EOF) {
					hitEOF = true
					return nil
				}
				return err
			}
			if n == 0 {
				return nil
			}
		}
		return nil
	})
	if err == nil && hitEOF && total == 0 {
		return 0, io.EOF
	}
	return total, err
}

// restartFromZero discards all decoder state and begins decoding the
// first gzip member from the absolute start of the source.
func (d *driverImpl) restartFromZero() error {
	d.ra.Seek(0)
	d.cursorUncompressed = 0
	d.state = stateFresh
	return d.startMember()
}

// resumeAt repositions the driver's cursor and decoder state to exactly
// reproduce p, per the random-access resume algorithm: reposition the
// source, prime any residual bits, and install the captured window as the
// sliding-window dictionary.
func (d *driverImpl) resumeAt(p *AccessPoint) error {
	if !d.src.CanSeek() {
		return ErrForwardOnly
	}
	d.ra.Seek(int64(p.CompressedOffset))
	d.infl.Reset(d.ra, nil, int64(p.CompressedOffset), int64(p.UncompressedOffset))

	if p.BitOffset > 0 {
		var prevByte [1]byte
		prevOff := int64(p.CompressedOffset) - 1
		if _, err := d.src.ReadAt(prevByte[:], prevOff); err != nil {
			return fmt.Errorf("gzran: read prev byte at %d: %w", prevOff, err)
		}
		d.infl.Prime(int(p.BitOffset), prevByte[0])
	}
	if len(p.Window) > 0 {
		d.infl.SetDictionary(p.Window)
	}

	d.cursorUncompressed = p.UncompressedOffset
	d.memberCRC = 0
	d.memberProduced = 0
	d.memberVerifiable = p.IsStreamStart
	d.state = stateStreaming
	return nil
}

// seekTo implements the core seek algorithm from §4.5: resume at the
// nearest known point (or stream start) for backward or large forward
// jumps, otherwise keep inflating forward from the current position.
func (d *driverImpl) seekTo(target uint64) error {
	if err := d.ensureStarted(); err != nil {
		d.fail(err)
		return err
	}

	if !d.opts.autoBuild && target > d.frontier {
		return ErrNotCovered
	}

	needResume := target < d.cursorUncompressed ||
		target-d.cursorUncompressed > d.opts.spacing*shortJumpFactor

	if needResume {
		p := d.index.FindByUncompressed(target)
		if p == nil {
			if err := d.restartFromZero(); err != nil {
				d.fail(err)
				return err
			}
		} else if err := d.resumeAt(p); err != nil {
			return err
		}
	}

	scratch := make([]byte, 32*1024)
	for d.cursorUncompressed < target {
		want := target - d.cursorUncompressed
		buf := scratch
		if uint64(len(buf)) > want {
			buf = buf[:want]
		}
		if _, err := d.nextChunk(buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (d *driverImpl) Seek(offset int64, whence int) (int64, error) {
	if err := d.checkUsable(); err != nil {
		return 0, err
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(d.cursorUncompressed) + offset
	case io.SeekEnd:
		if !d.totalUncompressedKnown {
			if err := d.BuildFullIndex(); err != nil {
				return 0, err
			}
		}
		target = int64(d.totalUncompressed) + offset
	default:
		return 0, fmt.Errorf("gzran: unknown whence %d", whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("gzran: negative seek target %d", target)
	}

	if err := d.withHandle(func() error { return d.seekTo(uint64(target)) }); err != nil {
		return 0, err
	}
	return int64(d.cursorUncompressed), nil
}

func (d *driverImpl) Tell() uint64 { return d.cursorUncompressed }

func (d *driverImpl) PRead(buf []byte, abs uint64) (int, error) {
	if err := d.checkUsable(); err != nil {
		return 0, err
	}
	var n int
	var hitEOF bool
	err := d.withHandle(func() error {
		if err := d.seekTo(abs); err != nil {
			return err
		}
		var rerr error
		for n < len(buf) {
			var m int
			m, rerr = d.nextChunk(buf[n:])
			n += m
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					hitEOF = true
					return nil
				}
				return rerr
			}
			if m == 0 {
				return nil
			}
		}
		return nil
	})
	if err == nil && hitEOF && n == 0 {
		return 0, io.EOF
	}
	return n, err
}

func (d *driverImpl) BuildFullIndex() error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	return d.withHandle(func() error {
		d.index.Clear()
		if err := d.restartFromZero(); err != nil {
			d.fail(err)
			return err
		}
		scratch := make([]byte, 64*1024)
		for {
			_, err := d.nextChunk(scratch)
			if err != nil {
				if errors.Is(err, io.EOF) {
					d.builtComplete = true
					return nil
				}
				return err
			}
		}
	})
}

func (d *driverImpl) SeekPoints() [][2]uint64 {
	out := make([][2]uint64, 0, d.index.Len())
	d.index.Each(func(p *AccessPoint) bool {
		out = append(out, [2]uint64{p.CompressedOffset, p.UncompressedOffset})
		return true
	})
	return out
}

func (d *driverImpl) ExportIndex(w io.Writer) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	var size uint64
	var sizeKnown bool
	if sz, ok := d.src.Size(); ok {
		size, sizeKnown = uint64(sz), true
	}
	return WriteIndex(w, d.index, d.opts.spacing, size, sizeKnown, d.totalUncompressed, d.totalUncompressedKnown)
}

func (d *driverImpl) ImportIndex(r io.Reader) error {
	if err := d.checkUsable(); err != nil {
		return err
	}
	idx, meta, err := ReadIndex(r)
	if err != nil {
		return err
	}
	if size, ok := d.src.Size(); ok && meta.CompressedSize != 0 && meta.CompressedSize > uint64(size) {
		return fmt.Errorf("%w: index expects source of at least %d bytes, have %d", ErrCorruptData, meta.CompressedSize, size)
	}
	d.index = idx
	d.opts.spacing = meta.Spacing
	if meta.TotalUncompressedKnown {
		d.totalUncompressed = meta.TotalUncompressed
		d.totalUncompressedKnown = true
	}
	if last := idx.Last(); last != nil {
		d.frontier = last.UncompressedOffset
	}
	return nil
}

func (d *driverImpl) Close() error {
	if !d.closed.CAS(false, true) {
		return nil
	}
	var err error
	if d.mmSrc != nil {
		err = multierr.Append(err, d.mmSrc.Close())
	}
	err = multierr.Append(err, d.src.Close())
	return err
}
