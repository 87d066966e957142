// Package watchdog implements the liveness monitor (C3): a single ticking
// goroutine that expects periodic Reset calls from the HVAC logic loop and
// raises SIGTERM (not os.Exit) if too many ticks pass without one, so the
// process's normal signal-driven shutdown path still runs.
package watchdog

import (
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/logging"
)

// Watchdog counts ticks since the last Reset and signals the process when
// the stall limit is exceeded.
type Watchdog struct {
	period    time.Duration
	stallIters int64

	ticks atomic.Int64
	stop  chan struct{}

	signal func(syscall.Signal) error

	log *logging.Logger
}

// New builds a Watchdog using the package's default period and stall
// threshold.
func New(log *logging.Logger) *Watchdog {
	if log == nil {
		log = logging.Default()
	}
	return &Watchdog{
		period:     constants.WatchdogPeriod,
		stallIters: constants.WatchdogStallIters,
		stop:       make(chan struct{}),
		signal:     signalSelf,
		log:        log,
	}
}

func signalSelf(sig syscall.Signal) error {
	return syscall.Kill(syscall.Getpid(), sig)
}

// Reset clears the stall counter. Called by any monitored component
// (currently only the HVAC logic loop) on each healthy iteration.
func (w *Watchdog) Reset() {
	w.ticks.Store(0)
}

// Run blocks, ticking every period, until Stop is called. It runs in its
// own goroutine and is not registered with the thread registry, so
// StopAll does not stop it; only Stop does.
func (w *Watchdog) Run() {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			n := w.ticks.Add(1)
			if n >= w.stallIters {
				w.log.Error("watchdog stall limit exceeded; raising SIGTERM",
					"ticks", n, "limit", w.stallIters)
				if err := w.signal(syscall.SIGTERM); err != nil {
					w.log.WithError(err).Error("watchdog failed to signal process")
				}
				// Give the signal handler room to run; don't spin raising
				// SIGTERM every period while shutdown is in progress.
				w.ticks.Store(0)
			}
		}
	}
}

// Stop ends the Run loop. Safe to call once.
func (w *Watchdog) Stop() {
	close(w.stop)
}
