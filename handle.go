package ipipe

import (
	"fmt"
	"io"
	"sync"

	"github.com/fhs/ipipe/internal/npipe"
)

// Role is the direction or connection side a Handle was established for.
type Role int

const (
	RoleUnknown Role = iota
	RoleRead         // POSIX read descriptor
	RoleWrite        // POSIX write descriptor
	RoleServer       // Windows server instance, the read side
	RoleClient       // Windows client connection, the write side
)

func (r Role) String() string {
	switch r {
	case RoleUnknown:
		return "unknown"
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// cell holds a raw OS endpoint shared between one owning Handle and any
// number of observing ones. raw becomes nil exactly once, when the owner
// tears it down.
type cell struct {
	mu  sync.RWMutex
	raw io.ReadWriteCloser
}

// Handle is a reference to one OS pipe endpoint. An owning Handle closes the
// endpoint on teardown; an observing Handle never does, and stops resolving
// once the owner is gone.
type Handle struct {
	c      *cell
	owning bool
	role   Role
}

func newOwningHandle(raw io.ReadWriteCloser) *Handle {
	return &Handle{c: &cell{raw: raw}, owning: true}
}

// downgrade returns an observing reference to the same endpoint.
func (h *Handle) downgrade() *Handle {
	return &Handle{c: h.c, role: h.role}
}

// raw returns the endpoint if it has not been torn down.
func (h *Handle) raw() (io.ReadWriteCloser, bool) {
	h.c.mu.RLock()
	defer h.c.mu.RUnlock()
	return h.c.raw, h.c.raw != nil
}

// Owning reports whether h is responsible for closing the endpoint.
func (h *Handle) Owning() bool { return h.owning }

// Live reports whether the endpoint is still open.
func (h *Handle) Live() bool {
	_, ok := h.raw()
	return ok
}

// Role returns the role h was established for.
func (h *Handle) Role() Role { return h.role }

// SetRole assigns the role if none is set yet. An established role is kept.
func (h *Handle) SetRole(r Role) {
	if h.role == RoleUnknown {
		h.role = r
	}
}

// Equal reports whether h and o refer to the same live endpoint in the same role.
func (h *Handle) Equal(o *Handle) bool {
	if h == nil || o == nil || h.c != o.c || h.role != o.role {
		return false
	}
	return h.Live()
}

// teardown closes the endpoint if h owns it and it is still open. Observing
// handles are left alone.
func (h *Handle) teardown() error {
	if !h.owning {
		return nil
	}
	h.c.mu.Lock()
	raw := h.c.raw
	h.c.raw = nil
	h.c.mu.Unlock()
	if raw == nil {
		return nil
	}
	return npipe.Teardown(raw, h.role == RoleServer)
}

func (h *Handle) Read(b []byte) (int, error) {
	raw, ok := h.raw()
	if !ok {
		return 0, ErrClosed
	}
	return raw.Read(b)
}

func (h *Handle) Write(b []byte) (int, error) {
	raw, ok := h.raw()
	if !ok {
		return 0, ErrClosed
	}
	return raw.Write(b)
}
