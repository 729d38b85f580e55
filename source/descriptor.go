package source

import (
	"fmt"
	"os"
	"sync"
)

// Descriptor is a Source backed by a regular file. With DropHandles it
// mirrors the indexed_gzip no_fds mode: the *os.File is closed between
// top-level driver operations and transparently reopened, by path, on the
// next ReadAt.
type Descriptor struct {
	mu sync.Mutex

	path   string
	f      *os.File
	size   int64
	closed bool
}

// OpenDescriptor opens path and wraps it as a Source.
func OpenDescriptor(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	return NewDescriptor(path, f)
}

// NewDescriptor wraps an already-open file. path is remembered so the file
// can be reopened after Drop.
func NewDescriptor(path string, f *os.File) (*Descriptor, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	return &Descriptor{path: path, f: f, size: fi.Size()}, nil
}

func (d *Descriptor) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, fmt.Errorf("source: descriptor for %s is closed", d.path)
	}
	if d.f == nil {
		if err := d.reopenLocked(); err != nil {
			return 0, err
		}
	}
	return d.f.ReadAt(p, off)
}

// reopenLocked retries the reopen once before surfacing ErrNoHandle, per the
// drop_handles failure semantics (a transient reopen failure -- e.g. an
// ephemeral EMFILE -- shouldn't immediately poison the driver).
func (d *Descriptor) reopenLocked() error {
	f, err := os.Open(d.path)
	if err != nil {
		f, err = os.Open(d.path)
	}
	if err != nil {
		return fmt.Errorf("source: reopen %s: %w: %w", d.path, ErrNoHandle, err)
	}
	d.f = f
	return nil
}

// Drop closes the underlying handle without invalidating the Source; the
// next ReadAt reopens it by path.
func (d *Descriptor) Drop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil || d.closed {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *Descriptor) CanSeek() bool { return true }

func (d *Descriptor) Size() (int64, bool) { return d.size, true }

// Path returns the file path this descriptor was opened with.
func (d *Descriptor) Path() string { return d.path }

func (d *Descriptor) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
