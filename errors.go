package gzran

import (
	"errors"

	"github.com/climech/gzran/source"
)

// Sentinel errors form the closed, tagged error set a driver can surface.
// They are returned wrapped (fmt.Errorf("...: %w", ...)) so errors.Is keeps
// working through the wrapping, exactly as the teacher's reader/decoder do.
var (
	// ErrCorruptData is returned when the inflater or gzip framing detects
	// malformed input. The driver transitions to Failed and stays there.
	ErrCorruptData = errors.New("gzran: corrupt compressed data")

	// ErrCrcMismatch is returned when a member's trailing CRC32 does not
	// match the accumulated checksum of its decoded bytes.
	ErrCrcMismatch = errors.New("gzran: crc32 mismatch")

	// ErrSizeMismatch is returned when a member's trailing ISIZE does not
	// match its decoded length modulo 2^32.
	ErrSizeMismatch = errors.New("gzran: isize mismatch")

	// ErrNotCovered is returned when an operation needs index coverage
	// beyond the known frontier and auto-build is disabled. It does not
	// poison the driver.
	ErrNotCovered = errors.New("gzran: offset not covered by index")

	// ErrNoHandle is returned when drop_handles mode cannot reopen the
	// source after a single retry.
	ErrNoHandle = source.ErrNoHandle

	// ErrClosed is returned by any operation on a driver or facade that has
	// already been closed.
	ErrClosed = errors.New("gzran: driver is closed")

	// ErrForwardOnly re-exports source.ErrForwardOnly for callers who only
	// import the root package.
	ErrForwardOnly = source.ErrForwardOnly
)
