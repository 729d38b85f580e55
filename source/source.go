// Package source adapts the byte origins a stream driver can read from --
// a seekable file, a caller-supplied forward-only stream, or a memory
// mapping -- behind one narrow interface, the way the teacher's env
// package hides "read footer" / "read frame" behind env.REnvironment.
package source

import "errors"

// ErrForwardOnly is returned when a random-access ReadAt is attempted
// against a source that only supports a single forward pass.
var ErrForwardOnly = errors.New("source: forward-only source does not support random access")

// ErrNoHandle is returned when a dropped OS handle cannot be reopened.
var ErrNoHandle = errors.New("source: no usable handle")

// Source is the uniform view a driver needs over a compressed byte origin.
// Implementations that cannot support random access (CanSeek() == false)
// may still be read forward-only through ReadAt at strictly increasing,
// contiguous offsets; Callback rejects any other offset with
// ErrForwardOnly, and the driver refuses random-access resumes on them.
type Source interface {
	// ReadAt reads len(p) bytes starting at off, per io.ReaderAt semantics
	// (including its short-read-at-EOF contract).
	ReadAt(p []byte, off int64) (n int, err error)

	// CanSeek reports whether arbitrary, non-increasing offsets are valid
	// arguments to ReadAt. A false return restricts the driver to
	// build_full_index-from-zero followed by export, per the forward-only
	// source design note.
	CanSeek() bool

	// Size returns the total byte length of the source and whether it is
	// known. Forward-only sources typically return (0, false).
	Size() (int64, bool)

	// Close releases any resources (file handles, mappings) held by the
	// source. It is safe to call more than once.
	Close() error
}

// DropHandler is implemented by sources that can shed and later reacquire
// their underlying OS resource, for the drop_handles option. Sources that
// don't implement it are simply never dropped.
type DropHandler interface {
	// Drop releases the OS handle without invalidating the Source; the
	// next ReadAt must transparently reopen it.
	Drop() error
}

var (
	_ Source = (*Descriptor)(nil)
	_ Source = (*Callback)(nil)
)
