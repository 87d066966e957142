package hvac

import (
	"time"

	"github.com/bbbhvac/hvaccore/internal/constants"
)

// pmicResetState tracks the rolling PMIC reset-on-fault policy for one
// board: a bounded number of resets within a rolling window before the
// board is marked failed and left alone. Carried over from the original
// logic thread's per-board {last_reset, count, failed} bookkeeping.
type pmicResetState struct {
	lastReset time.Time
	count     int
	failed    bool
}

// shouldReset decides whether a PMIC byte should be rewritten to clear a
// reported fault, advancing or resetting the rolling window as it goes.
// It returns false only when the board is already marked failed or has
// used up its reset budget (marking it failed); it does not itself look
// at the PMIC byte.
func (p *pmicResetState) shouldReset(now time.Time) bool {
	if p.failed {
		return false
	}
	p.forgetIfStale(now)
	if p.count >= constants.MaxPMICResets {
		p.failed = true
		return false
	}
	p.count++
	p.lastReset = now
	return true
}

// forgetIfStale clears a board's reset count once the rolling window has
// elapsed with no further faults.
func (p *pmicResetState) forgetIfStale(now time.Time) {
	if !p.failed && p.count > 0 && now.Sub(p.lastReset) > constants.PMICResetWindow {
		p.count = 0
	}
}
