package ipipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/containerd/errdefs"
	"github.com/fhs/ipipe/internal/npipe"
)

// Kind classifies the errors returned by this package.
type Kind int

const (
	KindInvalidPath    Kind = iota + 1 // target is not a pipe, or the path has no parent
	KindInvalidUTF8                    // a string was requested but the bytes are not UTF-8
	KindIO                             // I/O on an open channel failed
	KindNative                         // a direct system call failed
	KindNotInitialized                 // registry miss
	KindMisc                           // closed pipes, timeouts
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPath:
		return "invalid path"
	case KindInvalidUTF8:
		return "invalid utf-8"
	case KindIO:
		return "io"
	case KindNative:
		return "native"
	case KindNotInitialized:
		return "not initialized"
	case KindMisc:
		return "misc"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrInvalidPath    = fmt.Errorf("invalid path: %w", errdefs.ErrInvalidArgument)
	ErrInvalidUTF8    = fmt.Errorf("invalid utf-8: %w", errdefs.ErrDataLoss)
	ErrNotInitialized = fmt.Errorf("pipe not initialized: %w", errdefs.ErrNotFound)
	ErrClosed         = fmt.Errorf("pipe closed: %w", errdefs.ErrUnavailable)
	ErrTimeout        = fmt.Errorf("timed out: %w", context.DeadlineExceeded)
)

// Error is the error type returned by Pipe and Registry operations.
type Error struct {
	Kind Kind
	Op   string // operation, e.g. "open" or "write"
	Path string // path or registry name
	Err  error  // underlying error, may be nil
}

func (e *Error) Error() string {
	s := e.Op
	if e.Path != "" {
		s += " " + e.Path
	}
	if e.Err != nil {
		return s + ": " + e.Err.Error()
	}
	return s + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind, and through it the errdefs
// class it wraps.
func (e *Error) Is(target error) bool {
	s := e.sentinel()
	return s != nil && (s == target || errors.Is(s, target))
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindInvalidPath:
		return ErrInvalidPath
	case KindInvalidUTF8:
		return ErrInvalidUTF8
	case KindNotInitialized:
		return ErrNotInitialized
	}
	return nil
}

// Code returns the OS error code behind e, if there is one.
func (e *Error) Code() (uint32, bool) {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return uint32(errno), true
	}
	return 0, false
}

func pathError(op, path string) error {
	return &Error{Kind: KindInvalidPath, Op: op, Path: path}
}

func closedError(op, path string) error {
	return &Error{Kind: KindMisc, Op: op, Path: path, Err: ErrClosed}
}

// ioError wraps err from an I/O call. io.EOF and nil pass through unchanged.
func ioError(op, path string, err error) error {
	if err == nil || isEOF(err) {
		return err
	}
	if errors.Is(err, ErrClosed) {
		return closedError(op, path)
	}
	if errors.Is(err, os.ErrClosed) || npipe.IsClosed(err) {
		return &Error{Kind: KindMisc, Op: op, Path: path, Err: fmt.Errorf("%w: %v", ErrClosed, err)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindMisc, Op: op, Path: path, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

func isEOF(err error) bool {
	return err == io.EOF
}

func nativeError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindNative, Op: op, Path: path, Err: err}
}
