package ipipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
)

func TestErrorKinds(t *testing.T) {
	err := pathError("open", "/tmp/x")
	assert.Assert(t, errors.Is(err, ErrInvalidPath))
	assert.Assert(t, errdefs.IsInvalidArgument(err))
	assert.Assert(t, !errors.Is(err, ErrNotInitialized))
	assert.Error(t, err, "open /tmp/x: invalid path")

	err = &Error{Kind: KindNotInitialized, Op: "print", Path: "name"}
	assert.Assert(t, errors.Is(err, ErrNotInitialized))
	assert.Assert(t, errdefs.IsNotFound(err))

	err = &Error{Kind: KindInvalidUTF8, Op: "read"}
	assert.Assert(t, errors.Is(err, ErrInvalidUTF8))
	assert.Assert(t, errdefs.IsDataLoss(err))

	err = closedError("write", "p")
	assert.Assert(t, errors.Is(err, ErrClosed))
	assert.Assert(t, errdefs.IsUnavailable(err))
	assert.Assert(t, !errors.Is(err, ErrInvalidPath))
}

func TestIOError(t *testing.T) {
	assert.NilError(t, ioError("read", "p", nil))
	assert.Equal(t, ioError("read", "p", io.EOF), io.EOF)

	err := ioError("write", "p", syscall.EPIPE)
	var e *Error
	assert.Assert(t, errors.As(err, &e))
	assert.Equal(t, e.Kind, KindIO)
	code, ok := e.Code()
	assert.Assert(t, ok)
	assert.Equal(t, code, uint32(syscall.EPIPE))
	assert.Assert(t, errors.Is(err, syscall.EPIPE))

	err = ioError("connect", "p", fmt.Errorf("dial: %w", context.DeadlineExceeded))
	assert.Assert(t, errors.Is(err, ErrTimeout))
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))

	err = ioError("read", "p", ErrClosed)
	assert.Assert(t, errors.As(err, &e))
	assert.Equal(t, e.Kind, KindMisc)
	_, ok = e.Code()
	assert.Assert(t, !ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, KindNative.String(), "native")
	assert.Equal(t, Kind(0).String(), "Kind(0)")
}
