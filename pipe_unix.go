//go:build unix

package ipipe

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/fhs/ipipe/internal/npipe"
)

const randomNameLen = 10

// pipeHandles holds the descriptors of a FIFO. primary is opened with the
// pipe and takes the role of its first use; secondary is opened when the
// other role is needed.
type pipeHandles struct {
	primary   *Handle
	secondary *Handle
}

func open(path string, cleanup Cleanup, cfg *Config) (*Pipe, error) {
	if path == "" || filepath.Dir(path) == path {
		return nil, pathError("open", path)
	}
	if err := npipe.EnsureFIFO(path); err != nil {
		if errors.Is(err, npipe.ErrNotFIFO) {
			return nil, pathError("open", path)
		}
		return nil, nativeError("open", path, err)
	}
	raw, err := openFIFO(cfg, path)
	if err != nil {
		return nil, ioError("open", path, err)
	}
	cfg.Logger.WithField("path", path).Debug("opened fifo")
	return &Pipe{
		path:        path,
		name:        npipe.NameOf(path),
		cleanup:     cleanup,
		cfg:         cfg,
		pipeHandles: pipeHandles{primary: newOwningHandle(raw)},
	}, nil
}

func openFIFO(cfg *Config, path string) (io.ReadWriteCloser, error) {
	ctx, cancel := cfg.context()
	defer cancel()
	return npipe.Open(ctx, path)
}

// handleFor returns the descriptor serving role, opening the secondary one
// if the primary is already used for the other role.
func (p *Pipe) handleFor(op string, role Role) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, closedError(op, p.path)
	}
	if p.slave && !p.primary.Live() {
		// the owner has torn the channel down
		return nil, closedError(op, p.path)
	}
	p.primary.SetRole(role)
	if p.primary.Role() == role {
		return p.primary, nil
	}
	if p.secondary == nil {
		raw, err := openFIFO(p.cfg, p.path)
		if err != nil {
			return nil, ioError(op, p.path, err)
		}
		h := newOwningHandle(raw)
		h.SetRole(role)
		p.secondary = h
		p.cfg.Logger.WithField("path", p.path).WithField("role", role).Debug("opened second fifo descriptor")
	}
	return p.secondary, nil
}

// Read reads from the pipe, establishing the read side on first use.
func (p *Pipe) Read(b []byte) (int, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	h, err := p.handleFor("read", RoleRead)
	if err != nil {
		return 0, err
	}
	n, err := h.Read(b)
	return n, ioError("read", p.path, err)
}

// Write writes to the pipe, establishing the write side on first use.
func (p *Pipe) Write(b []byte) (int, error) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	h, err := p.handleFor("write", RoleWrite)
	if err != nil {
		return 0, err
	}
	n, err := h.Write(b)
	return n, ioError("write", p.path, err)
}

// Flush flushes the terminal I/O queues of the write side. Pipes are not
// terminals, so on most systems this has no effect.
func (p *Pipe) Flush() error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	h, err := p.handleFor("flush", RoleWrite)
	if err != nil {
		return err
	}
	raw, ok := h.raw()
	if !ok {
		return closedError("flush", p.path)
	}
	if err := npipe.FlushQueues(raw); err != nil {
		if npipe.IsClosed(err) || !h.Live() {
			// closed while flushing
			return closedError("flush", p.path)
		}
		return nativeError("flush", p.path, err)
	}
	return nil
}

// Clone returns a slave sharing p's descriptors. The slave never closes
// them or removes the path; descriptors it opens itself are closed by its
// own Close.
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
	c.primary = p.primary.downgrade()
	if p.secondary != nil {
		c.secondary = p.secondary.downgrade()
	}
	return c
}

// Close releases the descriptors p owns and, for an owner created with
// DeleteOnClose, removes the FIFO. A closed pipe stays closed; calling Close
// again does nothing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	primary, secondary := p.primary, p.secondary
	p.mu.Unlock()

	errs := p.teardownAll(primary, secondary)
	if !p.slave && p.cleanup == DeleteOnClose {
		if err := os.Remove(p.path); err != nil {
			p.reportCleanupError(err)
			errs = append(errs, nativeError("remove", p.path, err))
		}
	}
	p.cfg.Logger.WithField("path", p.path).WithField("slave", p.slave).Debug("closed pipe")
	return errors.Join(errs...)
}
