package source

import (
	"fmt"
	"io"
	"sync"
)

// Sizer is implemented by callback sources that know their own length
// without a seek-to-end probe.
type Sizer interface {
	Size() (int64, bool)
}

// Callback wraps a caller-supplied stream. If it implements io.ReaderAt, or
// io.Seeker, random access is supported; otherwise it is treated as
// forward-only, valid only for a single pass from offset zero (build_full_index
// followed by export_index), per the design note on callback sources.
type Callback struct {
	mu sync.Mutex

	r        io.Reader
	readerAt io.ReaderAt
	seeker   io.Seeker
	sizer    Sizer

	pos int64 // next expected offset, forward-only mode only
}

// NewCallback wraps r. r's own type is introspected once for io.ReaderAt /
// io.Seeker / Sizer support.
func NewCallback(r io.Reader) *Callback {
	c := &Callback{r: r}
	if ra, ok := r.(io.ReaderAt); ok {
		c.readerAt = ra
	}
	if sk, ok := r.(io.Seeker); ok {
		c.seeker = sk
	}
	if sz, ok := r.(Sizer); ok {
		c.sizer = sz
	}
	return c
}

func (c *Callback) CanSeek() bool {
	return c.readerAt != nil || c.seeker != nil
}

func (c *Callback) Size() (int64, bool) {
	if c.sizer != nil {
		return c.sizer.Size()
	}
	return 0, false
}

func (c *Callback) ReadAt(p []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.readerAt != nil:
		return c.readerAt.ReadAt(p, off)
	case c.seeker != nil:
		if _, err := c.seeker.Seek(off, io.SeekStart); err != nil {
			return 0, fmt.Errorf("source: seek to %d: %w", off, err)
		}
		n, err := io.ReadFull(c.r, p)
		c.pos = off + int64(n)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return n, err
	default:
		if off != c.pos {
			return 0, fmt.Errorf("source: forward-only callback requires offset %d, got %d: %w", c.pos, off, ErrForwardOnly)
		}
		n, err := io.ReadFull(c.r, p)
		c.pos += int64(n)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return n, err
	}
}

func (c *Callback) Close() error {
	if closer, ok := c.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
