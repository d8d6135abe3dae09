//go:build unix

package npipe

import (
	"context"
	"io"
	"path/filepath"
	"syscall"

	"github.com/containerd/fifo"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PathFor returns the FIFO path for name inside dir.
func PathFor(dir, name string) string {
	return filepath.Join(dir, name)
}

// NameOf returns the logical name of the FIFO at path.
func NameOf(path string) string {
	return filepath.Base(path)
}

// EnsureFIFO makes sure a FIFO exists at path, creating it if nothing is there.
// It fails with ErrNotFIFO if path is occupied by anything else.
func EnsureFIFO(path string) error {
	var st unix.Stat_t
	err := unix.Stat(path, &st)
	switch err {
	case nil:
		if st.Mode&unix.S_IFMT != unix.S_IFIFO {
			return ErrNotFIFO
		}
		return nil
	case unix.ENOENT:
		err = unix.Mkfifo(path, FIFOMode)
		if err == unix.EEXIST {
			// lost a race with another creator; check what won
			return EnsureFIFO(path)
		}
		return errors.Wrapf(err, "mkfifo %s", path)
	default:
		return errors.Wrapf(err, "stat %s", path)
	}
}

// Open opens the FIFO at path for reading and writing. A single descriptor
// serves both directions, so the open does not wait for a peer. ctx bounds the
// open itself.
func Open(ctx context.Context, path string) (io.ReadWriteCloser, error) {
	rwc, err := fifo.OpenFifo(ctx, path, unix.O_RDWR|unix.O_NOCTTY, FIFOMode)
	if err != nil {
		return nil, errors.Wrapf(err, "open fifo %s", path)
	}
	return rwc, nil
}

// FlushQueues discards the terminal I/O queues of the descriptor behind rwc.
// FIFOs are not terminals, so ENOTTY is not an error.
func FlushQueues(rwc io.ReadWriteCloser) error {
	sc, ok := rwc.(syscall.Conn)
	if !ok {
		return nil
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "tcflush")
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) {
		ferr = tcflush(int(fd))
	}); err != nil {
		return errors.Wrap(err, "tcflush")
	}
	if ferr == unix.ENOTTY {
		return nil
	}
	return errors.Wrap(ferr, "tcflush")
}

// Teardown closes the descriptor. POSIX has no separate disconnect step.
func Teardown(c io.Closer, server bool) error {
	return c.Close()
}

// IsClosed reports whether err comes from using a descriptor after it was
// closed.
func IsClosed(err error) bool {
	return errors.Is(err, fifo.ErrClosed) ||
		errors.Is(err, fifo.ErrCtrlClosed) ||
		errors.Is(err, fifo.ErrReadClosed) ||
		errors.Is(err, fifo.ErrWriteClosed)
}
