package ipipe

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/moby/locker"
	"golang.org/x/sync/errgroup"
)

// Registry maps logical names to pipes so that independent parts of a
// program can read from and write to the same channel without opening it
// again. The registry owns one Pipe per name and hands out slaves.
//
// A Registry is safe for concurrent use.
type Registry struct {
	opts  []Option
	names *locker.Locker // serializes Register and Unregister per name

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	owner *Pipe

	mu     sync.Mutex // serializes printing
	writer *Pipe
}

// NewRegistry returns an empty registry. opts are used to open every pipe.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		names:   locker.New(),
		entries: make(map[string]*entry),
	}
}

// Register opens the pipe called name if it is not registered yet and
// returns a slave of it. The caller should Close the slave when done with it;
// that does not affect the registered pipe.
func (r *Registry) Register(name string) (*Pipe, error) {
	r.names.Lock(name)
	defer r.names.Unlock(name)

	if e := r.get(name); e != nil {
		return e.owner.Clone(), nil
	}
	p, err := WithName(name, r.opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[name] = &entry{owner: p}
	r.mu.Unlock()
	p.cfg.Logger.WithField("name", name).Debug("registered pipe")
	return p.Clone(), nil
}

// Lookup returns a new slave of the pipe registered as name.
func (r *Registry) Lookup(name string) (*Pipe, bool) {
	e := r.get(name)
	if e == nil {
		return nil, false
	}
	return e.owner.Clone(), true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Unregister removes name from the registry and closes its pipe. Unknown
// names are ignored.
func (r *Registry) Unregister(name string) error {
	r.names.Lock(name)
	defer r.names.Unlock(name)

	r.mu.Lock()
	e, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.close()
}

// UnregisterAll empties the registry and closes all its pipes. It returns
// the first error encountered.
func (r *Registry) UnregisterAll() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(e.close)
	}
	return g.Wait()
}

func (r *Registry) get(name string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

func (e *entry) close() error {
	e.mu.Lock()
	w := e.writer
	e.writer = nil
	e.mu.Unlock()
	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	return errors.Join(append(errs, e.owner.Close())...)
}

func (e *entry) print(text string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		e.writer = e.owner.Clone()
	}
	return e.writer.WriteString(text)
}

// Print writes text to the pipe registered as name.
func Print(r *Registry, name, text string) (int, error) {
	e := r.get(name)
	if e == nil {
		return 0, &Error{Kind: KindNotInitialized, Op: "print", Path: name}
	}
	return e.print(text)
}

// Println writes text followed by a newline.
func Println(r *Registry, name, text string) (int, error) {
	return Print(r, name, text+"\n")
}

// Printf formats according to a format specifier and writes the result.
func Printf(r *Registry, name, format string, args ...any) (int, error) {
	return Print(r, name, fmt.Sprintf(format, args...))
}
