//go:build windows

package ipipe

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fhs/ipipe/internal/npipe"
)

const randomNameLen = 15

// listener is the server side of a pipe, shared by an owner and its slaves.
// It is created by the first read and closed only by the owner.
type listener struct {
	mu     sync.Mutex
	l      net.Listener
	closed bool
}

func (ln *listener) accept(p *Pipe) (net.Conn, error) {
	ln.mu.Lock()
	if ln.closed {
		ln.mu.Unlock()
		return nil, ErrClosed
	}
	if ln.l == nil {
		l, err := npipe.Listen(p.path, p.cfg.BufferSize)
		if err != nil {
			ln.mu.Unlock()
			return nil, err
		}
		p.cfg.Logger.WithField("path", p.path).Debug("created pipe listener")
		ln.l = l
	}
	l := ln.l
	ln.mu.Unlock()
	return l.Accept()
}

func (ln *listener) close() error {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	ln.closed = true
	if ln.l == nil {
		return nil
	}
	return ln.l.Close()
}

func (ln *listener) isClosed() bool {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.closed
}

// pipeHandles holds the two connections of a Windows pipe: read is a server
// instance accepted from ln, write is a client connection.
type pipeHandles struct {
	ln    *listener
	read  *Handle
	write *Handle
}

func open(path string, cleanup Cleanup, cfg *Config) (*Pipe, error) {
	name := npipe.NameOf(path)
	if name == "" || name == path {
		return nil, pathError("open", path)
	}
	return &Pipe{
		path:        path,
		name:        name,
		cleanup:     cleanup,
		cfg:         cfg,
		pipeHandles: pipeHandles{ln: &listener{}},
	}, nil
}

// usable reports whether p may still establish connections. p.mu is held.
func (p *Pipe) usable() bool {
	return !p.closed && !(p.slave && p.ln.isClosed())
}

// current returns the connection in slot, forgetting it if it is an owner's
// connection that has since been torn down. p.mu is held.
func current(slot **Handle) *Handle {
	h := *slot
	if h != nil && orphaned(h) {
		*slot = nil
		return nil
	}
	return h
}

// orphaned reports whether h observes a connection its owner has dropped.
func orphaned(h *Handle) bool {
	return !h.Owning() && !h.Live()
}

func (p *Pipe) readHandle() (*Handle, error) {
	p.mu.Lock()
	if !p.usable() {
		p.mu.Unlock()
		return nil, closedError("read", p.path)
	}
	if h := current(&p.read); h != nil {
		p.mu.Unlock()
		return h, nil
	}
	ln := p.ln
	p.mu.Unlock()

	conn, err := ln.accept(p)
	if err != nil {
		return nil, ioError("accept", p.path, err)
	}
	h := newOwningHandle(conn)
	h.SetRole(RoleServer)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		h.teardown()
		return nil, closedError("read", p.path)
	}
	p.read = h
	p.cfg.Logger.WithField("path", p.path).WithField("slave", p.slave).Debug("accepted pipe client")
	return h, nil
}

func (p *Pipe) writeHandle() (*Handle, error) {
	p.mu.Lock()
	if !p.usable() {
		p.mu.Unlock()
		return nil, closedError("write", p.path)
	}
	if h := current(&p.write); h != nil {
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	ctx, cancel := p.cfg.context()
	defer cancel()
	conn, err := npipe.Dial(ctx, p.path)
	if err != nil {
		return nil, ioError("connect", p.path, err)
	}
	h := newOwningHandle(conn)
	h.SetRole(RoleClient)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.usable() {
		h.teardown()
		return nil, closedError("write", p.path)
	}
	p.write = h
	p.cfg.Logger.WithField("path", p.path).WithField("slave", p.slave).Debug("connected to pipe")
	return h, nil
}

// drop empties the slot holding h and tears h down if p owns it.
func (p *Pipe) drop(slot **Handle, h *Handle) {
	p.mu.Lock()
	if *slot == h {
		*slot = nil
	}
	p.mu.Unlock()
	p.teardownAll(h)
}

// readAction is what Read does with the result of a read on a connection.
type readAction int

const (
	readDone     readAction = iota // return the result as is
	readData                       // drop the connection, return the bytes read
	readReaccept                   // drop the connection, accept again and retry
	readEOF                        // drop the connection, report end of stream
)

func readOutcome(n int, err error, retried bool) readAction {
	switch {
	case err == nil || !npipe.IsDisconnect(err):
		return readDone
	case n > 0:
		return readData
	case npipe.IsNotConnected(err) && !retried:
		return readReaccept
	}
	return readEOF
}

// redialWrite reports whether a failed write should be retried on a new
// client connection.
func redialWrite(n int, err error, retried bool) bool {
	return err != nil && n == 0 && !retried && npipe.IsStaleClient(err)
}

// Read reads from the pipe, accepting a client on first use. When the client
// goes away the read returns io.EOF and the next Read accepts a new client.
// A slave whose owner dropped the connection it was reading accepts its own.
func (p *Pipe) Read(b []byte) (int, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	retried := false
	for {
		h, err := p.readHandle()
		if err != nil {
			return 0, err
		}
		n, err := h.Read(b)
		if err != nil && n == 0 && orphaned(h) {
			p.drop(&p.read, h)
			continue
		}
		switch readOutcome(n, err, retried) {
		case readDone:
			return n, ioError("read", p.path, err)
		case readData:
			p.drop(&p.read, h)
			return n, nil
		case readReaccept:
			p.drop(&p.read, h)
			retried = true
		case readEOF:
			p.drop(&p.read, h)
			return 0, io.EOF
		}
	}
}

// Write writes to the pipe, connecting as a client on first use. A
// connection whose server went away is replaced once. A slave whose owner
// dropped the connection it was writing to dials its own.
func (p *Pipe) Write(b []byte) (int, error) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	retried := false
	for {
		h, err := p.writeHandle()
		if err != nil {
			return 0, err
		}
		n, err := h.Write(b)
		if err != nil && n == 0 && orphaned(h) {
			p.drop(&p.write, h)
			continue
		}
		if !redialWrite(n, err, retried) {
			return n, ioError("write", p.path, err)
		}
		p.cfg.Logger.WithError(err).WithField("path", p.path).Debug("reconnecting stale pipe client")
		p.drop(&p.write, h)
		retried = true
	}
}

// Flush ends the current write session: the client connection is flushed
// and closed, and the next Write connects again. A slave writing through its
// owner's connection waits until the reader has drained it and then lets go
// of it; the owner's connection stays open.
func (p *Pipe) Flush() error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.mu.Lock()
	if !p.usable() {
		p.mu.Unlock()
		return closedError("flush", p.path)
	}
	h := current(&p.write)
	p.write = nil
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	if !h.Owning() {
		raw, ok := h.raw()
		if !ok {
			return nil
		}
		return ioError("flush", p.path, npipe.FlushQueues(raw))
	}
	return errors.Join(p.teardownAll(h)...)
}

// Clone returns a slave sharing p's connections and listener. The slave never
// closes them; connections it makes itself are closed by its own Close.
func (p *Pipe) Clone() *Pipe {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Pipe{
		path:    p.path,
		name:    p.name,
		cleanup: NoDelete,
		slave:   true,
		cfg:     p.cfg,
	}
	c.ln = p.ln
	if p.read != nil {
		c.read = p.read.downgrade()
	}
	if p.write != nil {
		c.write = p.write.downgrade()
	}
	return c
}

// Close releases the connections p owns and, for the owner, the listener.
// A closed pipe stays closed; calling Close again does nothing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	read, write := p.read, p.write
	p.read, p.write = nil, nil
	p.mu.Unlock()

	errs := p.teardownAll(read, write)
	if !p.slave {
		if err := p.ln.close(); err != nil {
			errs = append(errs, ioError("close", p.path, err))
		}
	}
	p.cfg.Logger.WithField("path", p.path).WithField("slave", p.slave).Debug("closed pipe")
	return errors.Join(errs...)
}
