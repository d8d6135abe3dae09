//go:build windows

package ipipe

import (
	"errors"
	"io"
	"testing"
	"time"

	"golang.org/x/sys/windows"
	"gotest.tools/v3/assert"
)

const testTimeout = 10 * time.Second

func notNewline(c byte) bool { return c != '\n' }

// readLines reads n lines from p in the background. A client going away is
// reported as "EOF".
func readLines(p *Pipe, n int) <-chan string {
	out := make(chan string, n)
	go func() {
		defer close(out)
		for i := 0; i < n; i++ {
			s, err := p.ReadStringWhile(notNewline)
			switch {
			case err == io.EOF:
				out <- "EOF"
			case err != nil:
				out <- "error: " + err.Error()
				return
			default:
				out <- s
			}
		}
	}()
	return out
}

// pair returns a reading pipe and a second, independent pipe writing to it.
func pair(t *testing.T) (r, w *Pipe) {
	t.Helper()
	r, err := Create(NoDelete, WithTimeout(testTimeout))
	assert.NilError(t, err)
	w, err = WithName(r.Name(), WithTimeout(testTimeout))
	assert.NilError(t, err)
	return r, w
}

func TestNameHasNoPrefix(t *testing.T) {
	p, err := WithName("test_name")
	assert.NilError(t, err)
	defer p.Close()
	assert.Equal(t, p.Name(), "test_name")
	assert.Equal(t, p.Path(), `\\.\pipe\test_name`)
}

func TestOpenNotAPipe(t *testing.T) {
	_, err := Open(`C:\Windows\notepad.exe`, NoDelete)
	assert.Assert(t, errors.Is(err, ErrInvalidPath), "got %v", err)
	_, err = Open(`\\.\pipe\`, NoDelete)
	assert.Assert(t, errors.Is(err, ErrInvalidPath), "got %v", err)
}

func TestCloseIsIdempotent(t *testing.T) {
	p, err := Create(DeleteOnClose)
	assert.NilError(t, err)
	c := p.Clone()
	assert.Assert(t, c.IsSlave())
	assert.Assert(t, c.ln == p.ln)

	assert.NilError(t, p.Close())
	assert.NilError(t, p.Close())
	_, err = p.Write([]byte("x"))
	assert.Assert(t, errors.Is(err, ErrClosed), "got %v", err)

	_, err = c.Read(make([]byte, 1))
	assert.Assert(t, errors.Is(err, ErrClosed), "got %v", err)
	assert.NilError(t, c.Close())
}

func TestSlaveWriteAfterOwnerClose(t *testing.T) {
	// no timeout: a dial here would never return
	p, err := Create(NoDelete)
	assert.NilError(t, err)
	c := p.Clone()
	assert.NilError(t, p.Close())

	_, err = c.Write([]byte("x"))
	assert.Assert(t, errors.Is(err, ErrClosed), "got %v", err)
	assert.Assert(t, errors.Is(c.Flush(), ErrClosed))
	assert.NilError(t, c.Close())
}

func TestRoundTrip(t *testing.T) {
	r, w := pair(t)
	defer r.Close()
	defer w.Close()

	lines := readLines(r, 2)
	_, err := w.WriteString("ping\n")
	assert.NilError(t, err)
	_, err = w.WriteString("pong\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "ping")
	assert.Equal(t, <-lines, "pong")
	assert.Equal(t, r.read.Role(), RoleServer)
	assert.Equal(t, w.write.Role(), RoleClient)
}

func TestDuplexOnePipe(t *testing.T) {
	p, err := Create(NoDelete, WithTimeout(testTimeout))
	assert.NilError(t, err)
	defer p.Close()

	lines := readLines(p, 1)
	_, err = p.WriteString("self\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "self")
}

func TestFlushEndsWriteSession(t *testing.T) {
	r, w := pair(t)
	defer r.Close()
	defer w.Close()

	lines := readLines(r, 3)
	_, err := w.WriteString("one\n")
	assert.NilError(t, err)
	assert.NilError(t, w.Flush())
	assert.Assert(t, w.write == nil)
	assert.Equal(t, <-lines, "one")
	assert.Equal(t, <-lines, "EOF")

	_, err = w.WriteString("two\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "two")
}

func TestWriteRedialsStaleClient(t *testing.T) {
	r, w := pair(t)
	defer w.Close()

	lines := readLines(r, 1)
	_, err := w.WriteString("one\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "one")
	first := w.write
	assert.NilError(t, r.Close())

	r2, err := WithName(r.Name(), WithTimeout(testTimeout))
	assert.NilError(t, err)
	defer r2.Close()
	lines = readLines(r2, 1)
	_, err = w.WriteString("two\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "two")
	assert.Assert(t, !first.Live())
	assert.Assert(t, w.write.Live())
}

func TestDialTimeout(t *testing.T) {
	p, err := Create(NoDelete, WithTimeout(50*time.Millisecond))
	assert.NilError(t, err)
	defer p.Close()

	start := time.Now()
	_, err = p.Write([]byte("x"))
	assert.Assert(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.Assert(t, time.Since(start) < testTimeout)
}

func TestSlaveReadsAfterOwnerReconnect(t *testing.T) {
	r, w := pair(t)
	defer r.Close()
	defer w.Close()

	lines := readLines(r, 1)
	_, err := w.WriteString("one\n")
	assert.NilError(t, err)
	assert.NilError(t, w.Flush())
	assert.Equal(t, <-lines, "one")

	c := r.Clone()
	defer c.Close()
	assert.Assert(t, c.read.Equal(r.read))

	// the client is gone; the owner drops the connection c observes
	_, err = r.Read(make([]byte, 1))
	assert.Equal(t, err, io.EOF)
	assert.Assert(t, !c.read.Live())

	lines = readLines(c, 1)
	_, err = w.WriteString("two\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "two")
	assert.Assert(t, c.read.Owning())
}

func TestSlaveWritesAfterOwnerFlush(t *testing.T) {
	r, w := pair(t)
	defer r.Close()
	defer w.Close()

	lines := readLines(r, 3)
	_, err := w.WriteString("one\n")
	assert.NilError(t, err)
	c := w.Clone()
	defer c.Close()
	assert.NilError(t, w.Flush())
	assert.Equal(t, <-lines, "one")
	assert.Equal(t, <-lines, "EOF")

	_, err = c.WriteString("two\n")
	assert.NilError(t, err)
	assert.Equal(t, <-lines, "two")
	assert.Assert(t, c.write.Owning())
	assert.Assert(t, w.write == nil)
}

func TestSlaveFlushLeavesOwnerConnection(t *testing.T) {
	r, w := pair(t)
	defer r.Close()
	defer w.Close()

	lines := readLines(r, 2)
	_, err := w.WriteString("one\n")
	assert.NilError(t, err)
	c := w.Clone()
	defer c.Close()

	_, err = c.WriteString("two\n")
	assert.NilError(t, err)
	assert.NilError(t, c.Flush())
	assert.Equal(t, <-lines, "one")
	assert.Equal(t, <-lines, "two")
	assert.Assert(t, c.write == nil)
	assert.Assert(t, w.write.Live())
}

func TestReadOutcome(t *testing.T) {
	for _, tc := range []struct {
		n       int
		err     error
		retried bool
		want    readAction
	}{
		{n: 3, err: nil, want: readDone},
		{n: 0, err: windows.ERROR_ACCESS_DENIED, want: readDone},
		{n: 2, err: windows.ERROR_BROKEN_PIPE, want: readData},
		{n: 0, err: windows.ERROR_PIPE_NOT_CONNECTED, want: readReaccept},
		{n: 0, err: windows.ERROR_PIPE_NOT_CONNECTED, retried: true, want: readEOF},
		{n: 0, err: windows.ERROR_BROKEN_PIPE, want: readEOF},
		{n: 0, err: io.EOF, want: readEOF},
	} {
		assert.Equal(t, readOutcome(tc.n, tc.err, tc.retried), tc.want, "n=%d err=%v retried=%v", tc.n, tc.err, tc.retried)
	}
}

func TestRedialWrite(t *testing.T) {
	assert.Assert(t, redialWrite(0, windows.ERROR_NO_DATA, false))
	assert.Assert(t, redialWrite(0, windows.ERROR_PIPE_NOT_CONNECTED, false))
	assert.Assert(t, !redialWrite(0, windows.ERROR_NO_DATA, true))
	assert.Assert(t, !redialWrite(1, windows.ERROR_NO_DATA, false))
	assert.Assert(t, !redialWrite(0, windows.ERROR_ACCESS_DENIED, false))
	assert.Assert(t, !redialWrite(0, nil, false))
}
