package gzran

import (
	"fmt"

	"go.uber.org/zap"
)

// Option configures a driver at Open time, in the style of the teacher's
// ROption/WOption.
type Option func(*options) error

type options struct {
	logger       *zap.Logger
	spacing      uint64
	readbufSize  int
	useMmap      bool
	dropHandles  bool
	skipCRCCheck bool
	autoBuild    bool
}

// defaultSpacing is the default minimum uncompressed distance between
// access points (1 MiB), matching roughly one access point per 32 KiB of
// index memory.
const defaultSpacing = 1 << 20

func (o *options) setDefault() {
	*o = options{
		logger:      zap.NewNop(),
		spacing:     defaultSpacing,
		readbufSize: 16 * 1024,
		autoBuild:   true,
	}
}

// WithLogger installs a structured logger, defaulting to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) error {
		if l == nil {
			return fmt.Errorf("gzran: nil logger")
		}
		o.logger = l
		return nil
	}
}

// WithSpacing sets the minimum uncompressed distance between access
// points; 0 means member starts only.
func WithSpacing(n uint64) Option {
	return func(o *options) error {
		o.spacing = n
		return nil
	}
}

// WithReadBufferSize sets the compressed read-ahead buffer size; it is
// clamped to a 32 KiB floor by the read-ahead buffer itself.
func WithReadBufferSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("gzran: non-positive read buffer size %d", n)
		}
		o.readbufSize = n
		return nil
	}
}

// WithMmap requests that the read-ahead buffer be backed by a read-only
// memory mapping when the source is a regular file.
func WithMmap(enabled bool) Option {
	return func(o *options) error { o.useMmap = enabled; return nil }
}

// WithDropHandles requests that the OS handle be closed between top-level
// driver operations and reopened on demand.
func WithDropHandles(enabled bool) Option {
	return func(o *options) error { o.dropHandles = enabled; return nil }
}

// WithSkipCRCCheck disables per-member CRC32/ISIZE verification.
func WithSkipCRCCheck(enabled bool) Option {
	return func(o *options) error { o.skipCRCCheck = enabled; return nil }
}

// WithAutoBuild controls whether a Seek/PRead past the known index
// frontier silently extends the index (default true) or fails with
// ErrNotCovered.
func WithAutoBuild(enabled bool) Option {
	return func(o *options) error { o.autoBuild = enabled; return nil }
}
