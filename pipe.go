// Package ipipe provides duplex named pipes that work the same way on POSIX
// systems and on Windows.
//
// A Pipe is opened by path, by logical name or with a random name. Its read
// and write sides are established lazily and independently, so a pipe that
// is only ever read from or only ever written to never waits on the other
// direction.
//
// Each OS channel has exactly one owning Pipe. Clone returns slaves that share
// the channel but never close it or remove its path. Closing the owner tears
// the channel down, after which its slaves fail with ErrClosed.
//
// On POSIX a channel is a FIFO, and the same descriptor may serve both
// directions. On Windows readers are named pipe servers and writers are
// clients; the read side accepts a new client whenever the previous one
// disconnects, and a Read that finds the client gone returns io.EOF.
package ipipe

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/containerd/errdefs"
	"github.com/fhs/ipipe/internal/npipe"
)

// Pipe is a duplex byte stream over a named pipe.
type Pipe struct {
	path    string
	name    string
	cleanup Cleanup
	slave   bool
	cfg     *Config

	rmu sync.Mutex // serializes readers
	wmu sync.Mutex // serializes writers

	mu     sync.Mutex // guards closed and the handle slots
	closed bool
	pipeHandles
}

var (
	_ io.ReadWriteCloser = (*Pipe)(nil)
	_ io.ByteReader      = (*Pipe)(nil)
	_ io.ByteWriter      = (*Pipe)(nil)
	_ io.StringWriter    = (*Pipe)(nil)
)

// Open opens the pipe at path, creating it if it does not exist. The path is
// platform-specific: a filesystem path on POSIX, \\.\pipe\name on Windows.
// Use WithName for portable code.
func Open(path string, cleanup Cleanup, opts ...Option) (*Pipe, error) {
	return open(path, cleanup, newConfig(opts))
}

// WithName opens the pipe with the given logical name. On POSIX it lives in
// the configured directory; on Windows in the pipe namespace.
func WithName(name string, opts ...Option) (*Pipe, error) {
	cfg := newConfig(opts)
	return open(npipe.PathFor(cfg.Dir, name), cfg.Cleanup, cfg)
}

// Create opens a pipe with a unique random name.
func Create(cleanup Cleanup, opts ...Option) (*Pipe, error) {
	cfg := newConfig(opts)
	name := fmt.Sprintf("pipe_%d_%s", os.Getpid(), npipe.RandomName(randomNameLen))
	return open(npipe.PathFor(cfg.Dir, name), cleanup, cfg)
}

// Path returns the platform path of the pipe.
func (p *Pipe) Path() string { return p.path }

// Name returns the logical name of the pipe, without any platform prefix.
func (p *Pipe) Name() string { return p.name }

// IsSlave reports whether p is a clone that does not own the channel.
func (p *Pipe) IsSlave() bool { return p.slave }

// ReadByte reads a single byte.
func (p *Pipe) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := p.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ReadBytes reads at most n bytes with a single read. A negative n is an
// error.
func (p *Pipe) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, &Error{Kind: KindMisc, Op: "read", Path: p.path, Err: fmt.Errorf("negative count %d: %w", n, errdefs.ErrInvalidArgument)}
	}
	buf := make([]byte, n)
	k, err := p.Read(buf)
	return buf[:k], err
}

// ReadString reads at most n bytes with a single read and returns them as a string.
func (p *Pipe) ReadString(n int) (string, error) {
	b, err := p.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return p.text("read", b)
}

// ReadBytesWhile reads bytes for as long as pred returns true. The first byte
// for which pred is false is consumed but not returned.
func (p *Pipe) ReadBytesWhile(pred func(byte) bool) ([]byte, error) {
	var buf []byte
	for {
		c, err := p.ReadByte()
		if err != nil {
			return buf, err
		}
		if !pred(c) {
			return buf, nil
		}
		buf = append(buf, c)
	}
}

// ReadStringWhile is like ReadBytesWhile but returns a string.
func (p *Pipe) ReadStringWhile(pred func(byte) bool) (string, error) {
	b, err := p.ReadBytesWhile(pred)
	if err != nil {
		return "", err
	}
	return p.text("read", b)
}

// Bytes returns an iterator over the bytes read from p. It stops when the
// pipe is closed, at end of stream, or when a read fails.
func (p *Pipe) Bytes() iter.Seq[byte] {
	return func(yield func(byte) bool) {
		for {
			c, err := p.ReadByte()
			if err != nil {
				if !isEOF(err) && !errors.Is(err, ErrClosed) {
					p.cfg.Logger.WithError(err).WithField("path", p.path).Warn("reading pipe")
				}
				return
			}
			if !yield(c) {
				return
			}
		}
	}
}

// WriteByte writes a single byte.
func (p *Pipe) WriteByte(c byte) error {
	_, err := p.Write([]byte{c})
	return err
}

// WriteString writes the bytes of s.
func (p *Pipe) WriteString(s string) (int, error) {
	return p.Write([]byte(s))
}

func (p *Pipe) text(op string, b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", &Error{Kind: KindInvalidUTF8, Op: op, Path: p.path}
	}
	return string(b), nil
}

func (p *Pipe) teardownAll(hs ...*Handle) []error {
	var errs []error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h.teardown(); err != nil {
			p.cfg.Logger.WithError(err).WithField("path", p.path).WithField("role", h.Role()).Warn("tearing down pipe handle")
			errs = append(errs, ioError("close", p.path, err))
		}
	}
	return errs
}

func (p *Pipe) reportCleanupError(err error) {
	p.cfg.Logger.WithError(err).WithField("path", p.path).Error("failed to remove pipe")
	if p.cfg.OnCleanupError != nil {
		p.cfg.OnCleanupError(p.path, err)
	}
}
