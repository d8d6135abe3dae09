package ipipe

import (
	"context"
	"os"
	"time"

	"github.com/containerd/log"
)

// Cleanup selects what happens to the backing path when the owning Pipe closes.
type Cleanup int

const (
	NoDelete      Cleanup = iota
	DeleteOnClose         // remove the FIFO; no-op on Windows
)

// Config contains options for opening pipes.
type Config struct {
	// Bounds opening a FIFO on POSIX and connecting a client on Windows.
	// Zero waits forever.
	Timeout time.Duration

	// Directory for FIFOs created by WithName and Create. It's os.TempDir()
	// if empty. Unused on Windows.
	Dir string

	// Cleanup policy used by WithName and by registries.
	Cleanup Cleanup

	// Size of the input and output buffers of Windows pipe instances.
	BufferSize int32

	// Logs are written here. It's set to log.L if nil.
	Logger *log.Entry

	// Called when the backing path of a pipe cannot be removed.
	OnCleanupError func(path string, err error)
}

// An Option changes a Config.
type Option func(*Config)

// WithTimeout bounds how long opening or connecting may block.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithDir sets the directory FIFOs are created in.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithCleanup sets the cleanup policy used by WithName and registries.
func WithCleanup(cl Cleanup) Option {
	return func(c *Config) { c.Cleanup = cl }
}

// WithBufferSize sets the Windows pipe buffer size.
func WithBufferSize(n int32) Option {
	return func(c *Config) { c.BufferSize = n }
}

// WithLogger sets the log entry used for diagnostics.
func WithLogger(l *log.Entry) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCleanupErrorHandler registers fn to be told about paths that could not
// be removed.
func WithCleanupErrorHandler(fn func(path string, err error)) Option {
	return func(c *Config) { c.OnCleanupError = fn }
}

func newConfig(opts []Option) *Config {
	c := &Config{BufferSize: 65536}
	for _, o := range opts {
		o(c)
	}
	if c.Dir == "" {
		c.Dir = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = log.L
	}
	return c
}

func (c *Config) context() (context.Context, context.CancelFunc) {
	ctx := log.WithLogger(context.Background(), c.Logger)
	if c.Timeout > 0 {
		return context.WithTimeout(ctx, c.Timeout)
	}
	return context.WithCancel(ctx)
}
