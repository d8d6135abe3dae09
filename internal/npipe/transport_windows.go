//go:build windows

package npipe

import (
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

const pipePrefix = `\\.\pipe\`

// dialRetry is how long Dial waits between attempts while no server
// instance exists yet.
const dialRetry = 10 * time.Millisecond

// PathFor returns the pipe namespace path for name. dir is ignored.
func PathFor(dir, name string) string {
	return pipePrefix + name
}

// NameOf returns the logical name of the pipe at path.
func NameOf(path string) string {
	if len(path) >= len(pipePrefix) && strings.EqualFold(path[:len(pipePrefix)], pipePrefix) {
		return path[len(pipePrefix):]
	}
	return path
}

// Listen creates the first server instance of the pipe at path. Every Accept
// on the returned listener creates and connects a further instance.
func Listen(path string, bufferSize int32) (net.Listener, error) {
	l, err := winio.ListenPipe(path, &winio.PipeConfig{
		MessageMode:      false,
		InputBufferSize:  bufferSize,
		OutputBufferSize: bufferSize,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", path)
	}
	return l, nil
}

// Dial connects to a server instance of the pipe at path as a client. It keeps
// trying while the pipe does not exist or all instances are busy, until ctx
// is done.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	for {
		conn, err := winio.DialPipeContext(ctx, path)
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, windows.ERROR_FILE_NOT_FOUND) && !errors.Is(err, windows.ERROR_PIPE_BUSY) {
			return nil, errors.Wrapf(err, "dial %s", path)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "dial %s", path)
		case <-time.After(dialRetry):
		}
	}
}

type fder interface {
	Fd() uintptr
}

// Teardown flushes the instance, disconnects it if it is a server instance,
// and closes it.
func Teardown(c io.Closer, server bool) error {
	if f, ok := c.(fder); ok {
		h := windows.Handle(f.Fd())
		if err := flushBuffers(h); err != nil {
			c.Close()
			return err
		}
		if server {
			if err := windows.DisconnectNamedPipe(h); err != nil && !IsDisconnect(err) {
				c.Close()
				return errors.Wrap(err, "disconnect")
			}
		}
	}
	return c.Close()
}

// FlushQueues waits until the peer has read everything written to rwc. The
// connection stays open.
func FlushQueues(rwc io.ReadWriteCloser) error {
	f, ok := rwc.(fder)
	if !ok {
		return nil
	}
	return flushBuffers(windows.Handle(f.Fd()))
}

func flushBuffers(h windows.Handle) error {
	// the peer may already be gone; flushing then reports a broken pipe
	if err := windows.FlushFileBuffers(h); err != nil && !IsDisconnect(err) {
		return errors.Wrap(err, "flush")
	}
	return nil
}

// IsDisconnect reports whether err means that the peer of a connected
// instance went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED) ||
		errors.Is(err, windows.ERROR_NO_DATA)
}

// IsNotConnected reports whether err means that a server instance has no
// client attached.
func IsNotConnected(err error) bool {
	return errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED)
}

// IsStaleClient reports whether a client write failed because the server end
// of its instance is gone.
func IsStaleClient(err error) bool {
	return errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, windows.ERROR_NO_DATA) ||
		errors.Is(err, windows.ERROR_BROKEN_PIPE) ||
		errors.Is(err, windows.ERROR_PIPE_NOT_CONNECTED)
}

// IsClosed reports whether err comes from using a connection or listener
// after it was closed.
func IsClosed(err error) bool {
	return errors.Is(err, winio.ErrFileClosed) || errors.Is(err, net.ErrClosed)
}
