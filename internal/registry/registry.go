// Package registry implements the process-wide worker registry (C2): every
// long-lived actor in the daemon (serial workers, the HVAC logic loop, the
// listener) registers a Handle here instead of being tracked through a web
// of shared pointers, and the supervisor drives coordinated shutdown through
// a single stop_all call.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/logging"
)

// Kind classifies a registered worker for I/O-subset lookups.
type Kind int

const (
	// KindGeneric covers workers with no special registry treatment
	// (logic loop, listener).
	KindGeneric Kind = iota
	// KindSerialWorker marks a per-board serial I/O worker (C6), the only
	// kind get_serial_worker() will return.
	KindSerialWorker
)

// Handle is a registered worker: a name, a kind, a stop flag the worker
// polls cooperatively, and a done channel the worker closes when it has
// observed the stop flag and returned.
type Handle struct {
	Tag  string
	Kind Kind

	stopped atomic.Bool
	done    chan struct{}
}

// StopRequested reports whether the registry has raised this worker's stop
// flag. Workers poll this between blocking steps (serial poll, loop sleep).
func (h *Handle) StopRequested() bool {
	return h.stopped.Load()
}

// Done must be called by the worker's goroutine exactly once, after it has
// observed StopRequested and returned from its run loop.
func (h *Handle) Done() {
	close(h.done)
}

// Registry partitions worker handles into active and dead sets and drives
// stop_all. The zero value is not usable; construct with New.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Handle
	dead   map[string]*Handle

	stoppingAll bool

	onDeath func(tag string, kind Kind)

	log *logging.Logger
}

// New builds an empty Registry.
func New(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Default()
	}
	return &Registry{
		active: make(map[string]*Handle),
		dead:   make(map[string]*Handle),
		log:    log,
	}
}

// Register adds a new active worker under tag. It fails if stop_all is in
// progress, or if tag is already registered as an active worker; a dead
// entry under the same tag is dropped and replaced.
func (r *Registry) Register(tag string, kind Kind) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stoppingAll {
		return nil, herr.New("registry.register", herr.CodeRuntimeError, "cannot register during stop_all")
	}
	if _, exists := r.active[tag]; exists {
		return nil, herr.New("registry.register", herr.CodeInvalidArgument, "worker tag already registered: "+tag)
	}
	if _, exists := r.dead[tag]; exists {
		delete(r.dead, tag)
	}

	h := &Handle{Tag: tag, Kind: kind, done: make(chan struct{})}
	r.active[tag] = h
	return h, nil
}

// MarkDead atomically moves tag from active to dead and, if a death
// listener is installed, invokes it (outside the registry lock so the
// listener may itself call Register).
func (r *Registry) MarkDead(tag string) {
	r.mu.Lock()
	h, ok := r.active[tag]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.active, tag)
	r.dead[tag] = h
	listener := r.onDeath
	r.mu.Unlock()

	r.log.WithBoard(tag).Warn("worker marked dead")
	if listener != nil {
		listener(tag, h.Kind)
	}
}

// SetDeathListener installs the callback invoked from MarkDead so C12 can
// restart a serial worker that exits unexpectedly.
func (r *Registry) SetDeathListener(fn func(tag string, kind Kind)) {
	r.mu.Lock()
	r.onDeath = fn
	r.mu.Unlock()
}

// GetSerialWorker returns the active serial worker handle registered under
// boardTag, or false if none is active under that tag.
func (r *Registry) GetSerialWorker(boardTag string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[boardTag]
	if !ok || h.Kind != KindSerialWorker {
		return nil, false
	}
	return h, true
}

// Cleanup drops dead-list entries, returning how many were reaped. Called
// periodically by the supervisor main loop.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.dead)
	r.dead = make(map[string]*Handle)
	return n
}

// ActiveCount returns the number of currently active workers.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// StopAll raises every active worker's stop flag, then waits up to perWorker
// for each one (individually) to close its done channel. Workers that miss
// the ceiling are logged and abandoned; StopAll still returns so the
// supervisor can proceed to exit. StopAll is re-entrant: a concurrent or
// nested call observes stoppingAll and returns immediately.
func (r *Registry) StopAll(perWorker time.Duration) {
	r.mu.Lock()
	if r.stoppingAll {
		r.mu.Unlock()
		return
	}
	r.stoppingAll = true
	handles := make([]*Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.stopped.Store(true)
	}

	for _, h := range handles {
		select {
		case <-h.done:
			r.MarkDead(h.Tag)
		case <-time.After(perWorker):
			r.log.WithBoard(h.Tag).Error("worker did not acknowledge stop within ceiling; abandoning")
			r.MarkDead(h.Tag)
		}
	}

	r.mu.Lock()
	r.stoppingAll = false
	r.mu.Unlock()
}
