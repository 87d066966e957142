// Package lockutil provides the error-checked mutex and jittered sleep
// primitive (C1) used by every stateful component in the daemon: bounded,
// non-blocking lock acquisition with a caller-supplied abort predicate so
// long-lived waits cooperate with coordinated shutdown, plus a uniform
// back-off that prevents unbounded priority inversion between serial
// workers, the logic loop, and per-client dispatch.
package lockutil

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
)

func lockErr(msg string) error {
	return herr.New("lockutil", herr.CodeLockError, msg)
}

// Mutex is a non-reentrant, error-checked mutex. Unlike sync.Mutex, Release
// on an unheld lock returns an error instead of panicking, and Acquire never
// blocks indefinitely: it retries a bounded number of times with a jittered
// sleep, aborting early if the supplied predicate becomes true.
type Mutex struct {
	mu   sync.Mutex
	held atomic.Bool
}

// New creates an unlocked Mutex.
func New() *Mutex {
	return &Mutex{}
}

// Acquire attempts a non-blocking lock, retrying with jittered back-off on
// contention. abort, if non-nil, is polled between retries; when it
// returns true, Acquire gives up early and returns a lock error. Acquire
// also gives up after constants.LockRetryAttempts failed tries.
func (m *Mutex) Acquire(abort func() bool) error {
	for i := 0; i < constants.LockRetryAttempts; i++ {
		if m.mu.TryLock() {
			m.held.Store(true)
			return nil
		}
		if abort != nil && abort() {
			return lockErr("acquire aborted by predicate")
		}
		if err := Sleep(jitter()); err != nil {
			return err
		}
	}
	return lockErr("acquire exhausted retry attempts")
}

// Release releases the mutex. It fails with a lock error if the mutex is
// not currently held; which goroutine holds it is not tracked.
func (m *Mutex) Release() error {
	if !m.held.CompareAndSwap(true, false) {
		return lockErr("release of unheld lock")
	}
	m.mu.Unlock()
	return nil
}

// WithLock runs fn while holding the mutex, releasing it afterward
// regardless of fn's outcome. It is a convenience wrapper; components with
// an abort predicate to thread through should call Acquire/Release
// directly.
func (m *Mutex) WithLock(abort func() bool, fn func() error) error {
	if err := m.Acquire(abort); err != nil {
		return err
	}
	defer m.Release()
	return fn()
}

func jitter() time.Duration {
	lo := constants.LockRetryMinJitter
	hi := constants.LockRetryMaxJitter
	span := hi - lo
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(span)))
}

// Sleep sleeps for the full interval. The Go runtime's timer-based sleep
// already resumes correctly across signal delivery (there is no EINTR to
// retry against, unlike a raw nanosleep(2) call), so this is a thin,
// named wrapper kept for symmetry with Acquire/Release and so callers have
// one place to route sleep-related instrumentation through.
func Sleep(d time.Duration) error {
	time.Sleep(d)
	return nil
}
