// Package serialio implements the per-board serial I/O worker (C6): a
// reader/reframer goroutine that drains the board's serial line and
// incrementally reassembles its mixed binary/text stream, and a writer
// goroutine that owns the outgoing command queue, coordinated through a
// registry.Handle so the supervisor can stop both cleanly.
package serialio

import (
	"sync"
	"time"

	"github.com/bbbhvac/hvaccore/internal/cache"
	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/lockutil"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/registry"
	"github.com/bbbhvac/hvaccore/internal/telemetry"
	"github.com/bbbhvac/hvaccore/internal/wire"
)

// Port is the subset of *serialport.Port a Worker depends on, so tests can
// substitute a fake without a real tty.
type Port interface {
	Read([]byte) (int, error)
	Write([]byte) (int, error)
	Close() error
}

// Opener opens (or reopens, after a detected hang) a board's serial port.
type Opener func() (Port, error)

// Worker is the per-board serial I/O worker. Construct with New and start
// its goroutines with Start.
type Worker struct {
	tag     string
	open    Opener
	log     *logging.Logger
	metrics *telemetry.Metrics

	cache   *cache.BoardCache
	cacheMu *lockutil.Mutex

	outbound chan []byte

	port   Port
	portMu sync.Mutex

	booted bool
}

// New builds a Worker for one board, identified by tag (matching the
// board tag in the configuration store). metrics may be nil, in which
// case board health is not reported.
func New(tag string, open Opener, log *logging.Logger, metrics *telemetry.Metrics) *Worker {
	if log == nil {
		log = logging.Default()
	}
	return &Worker{
		tag:      tag,
		open:     open,
		log:      log.WithBoard(tag),
		metrics:  metrics,
		cache:    cache.New(constants.DefaultCacheDepth),
		cacheMu:  lockutil.New(),
		outbound: make(chan []byte, constants.OutgoingQueueDepth),
	}
}

// Start opens the serial port, registers the worker under reg, and
// launches the reader and writer goroutines. The registry handle is
// shared by both; Done is closed once both have observed the stop flag
// and returned.
func (w *Worker) Start(reg *registry.Registry) error {
	port, err := w.open()
	if err != nil {
		return herr.Wrap("serialio.start", herr.CodeConnectionError, err)
	}
	w.port = port

	handle, err := reg.Register(w.tag, registry.KindSerialWorker)
	if err != nil {
		port.Close()
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.runReader(handle) }()
	go func() { defer wg.Done(); w.runWriter(handle) }()
	go func() { wg.Wait(); handle.Done() }()

	w.setBoardUp(true)
	w.ResetBoard()
	w.RefreshBootCount()
	return nil
}

func (w *Worker) setBoardUp(up bool) {
	if w.metrics != nil {
		w.metrics.SetBoardUp(w.tag, up)
	}
}

// runReader is the reader/reframer goroutine (§4.6.2): poll the fd with
// a short timeout, feed whatever bytes arrive into the reframer, digest
// whatever it reassembles, and fall back to refresh bursts or hang
// recovery after enough consecutive empty polls.
func (w *Worker) runReader(handle *registry.Handle) {
	buf := newReframeBuffer()
	emptyPolls := 0
	chunk := make([]byte, 256)

	for !handle.StopRequested() {
		w.portMu.Lock()
		n, err := w.port.Read(chunk)
		w.portMu.Unlock()

		if err != nil {
			w.log.WithError(err).Warn("serial read error; treating as empty poll")
			n = 0
		}

		if n == 0 {
			emptyPolls++
			if emptyPolls >= constants.EmptyPollsBeforeHang {
				w.handleHang()
				emptyPolls = 0
				continue
			}
			if w.booted && emptyPolls%constants.EmptyPollsBeforeRefresh == 0 {
				w.issueRefreshBurst()
			}
			continue
		}

		emptyPolls = 0
		entries, ferr := buf.feed(chunk[:n])
		if ferr != nil {
			w.log.WithError(ferr).Error("reframe buffer overflow; reframer state reset")
			buf = newReframeBuffer()
			continue
		}
		if w.digest(entries) {
			if !w.booted {
				w.log.Info("board reported boot")
			}
			w.booted = true
		}
	}
}

// handleHang closes and reopens the serial port after
// EmptyPollsBeforeHang consecutive empty polls, then issues a reset.
func (w *Worker) handleHang() {
	w.log.Warn("board appears hung; closing and reopening serial port")
	if w.metrics != nil {
		w.metrics.IncBoardHang(w.tag)
	}
	w.portMu.Lock()
	defer w.portMu.Unlock()

	w.port.Close()
	newPort, err := w.open()
	if err != nil {
		w.log.WithError(err).Error("failed to reopen serial port after hang")
		w.setBoardUp(false)
		return
	}
	w.port = newPort
	w.booted = false
	if w.metrics != nil {
		w.metrics.IncBoardReopen(w.tag)
	}
	w.setBoardUp(true)
	go w.ResetBoard()
}

func (w *Worker) issueRefreshBurst() {
	w.RefreshAI()
	w.RefreshDO()
	w.RefreshPMIC()
}

// runWriter is the writer goroutine: it owns the outbound queue and
// writes each command with bounded retries, never blocking the reader.
func (w *Worker) runWriter(handle *registry.Handle) {
	for {
		select {
		case cmd := <-w.outbound:
			if err := w.writeWithRetry(cmd); err != nil {
				w.log.WithError(err).Error("failed to write command to board")
			}
		case <-time.After(constants.WriterQueueTimeout):
		}
		if handle.StopRequested() {
			return
		}
	}
}

func (w *Worker) writeWithRetry(cmd []byte) error {
	w.portMu.Lock()
	defer w.portMu.Unlock()

	written := 0
	for attempt := 0; attempt < constants.WriterRetryAttempts && written < len(cmd); attempt++ {
		n, err := w.port.Write(cmd[written:])
		if err != nil {
			return herr.Wrap("serialio.write", herr.CodeConnectionError, err)
		}
		written += n
	}
	if written < len(cmd) {
		return herr.New("serialio.write", herr.CodeMessageOverflow, "exhausted write retries on partial write")
	}
	return nil
}

// enqueue pushes cmd onto the bounded outbound queue, dropping the oldest
// queued command to make room rather than blocking the caller (§9: a
// channel with drop-oldest in place of the mutex+condvar swap-queue).
func (w *Worker) enqueue(cmd []byte) {
	select {
	case w.outbound <- cmd:
		return
	default:
	}
	select {
	case <-w.outbound:
	default:
	}
	select {
	case w.outbound <- cmd:
	default:
	}
}

// Public control surface (§4.6.6).

func (w *Worker) ResetBoard()       { w.enqueue(wire.BuildCommand(wire.CmdReset, nil)) }
func (w *Worker) RefreshAI()        { w.enqueue(wire.BuildCommand(wire.CmdRefreshAI, nil)) }
func (w *Worker) RefreshDO()        { w.enqueue(wire.BuildCommand(wire.CmdRefreshDO, nil)) }
func (w *Worker) RefreshPMIC()      { w.enqueue(wire.BuildCommand(wire.CmdRefreshPMIC, nil)) }
func (w *Worker) RefreshCalL1()     { w.enqueue(wire.BuildCommand(wire.CmdRefreshCalL1, nil)) }
func (w *Worker) RefreshCalL2()     { w.enqueue(wire.BuildCommand(wire.CmdRefreshCalL2, nil)) }
func (w *Worker) RefreshBootCount() { w.enqueue(wire.BuildCommand(wire.CmdRefreshBoot, nil)) }

func (w *Worker) SetDO(bits uint8)   { w.enqueue(wire.BuildCommand(wire.CmdSetDO, []byte{bits})) }
func (w *Worker) SetPMIC(bits uint8) { w.enqueue(wire.BuildCommand(wire.CmdSetPMIC, []byte{bits})) }

func (w *Worker) SetCalL1(vals [cache.Channels]uint16) {
	w.enqueue(wire.BuildCommand(wire.CmdSetCalL1, wire.PackCalArray(vals)))
}

func (w *Worker) SetCalL2(vals [cache.Channels]uint16) {
	w.enqueue(wire.BuildCommand(wire.CmdSetCalL2, wire.PackCalArray(vals)))
}

// ForceAI and UnforceAI do not contact the board: they toggle the cache
// override directly, under the worker's lock.
func (w *Worker) ForceAI(ch int, value uint16) error {
	return w.withCache(func(c *cache.BoardCache) error { return c.ForceAI(ch, value) })
}

func (w *Worker) UnforceAI(ch int) error {
	return w.withCache(func(c *cache.BoardCache) error { return c.UnforceAI(ch) })
}

func (w *Worker) IsForced(ch int) (bool, error) {
	var forced bool
	err := w.withCache(func(c *cache.BoardCache) error {
		var ferr error
		forced, ferr = c.IsForced(ch)
		return ferr
	})
	return forced, err
}

// LatestAI, LatestDO, LatestPMIC, LatestCalL1, LatestCalL2, AIRing and
// BootCount copy the cache out under the worker's lock, per §4.6.6.

func (w *Worker) LatestAI() (row [cache.Channels]cache.Sample16, err error) {
	err = w.withCache(func(c *cache.BoardCache) error { row = c.LatestAI(); return nil })
	return row, err
}

func (w *Worker) AIRing() (ring [][cache.Channels]cache.Sample16, err error) {
	err = w.withCache(func(c *cache.BoardCache) error {
		for _, row := range c.AIRing() {
			ring = append(ring, row)
		}
		return nil
	})
	return ring, err
}

func (w *Worker) LatestDO() (sample cache.Sample8, err error) {
	err = w.withCache(func(c *cache.BoardCache) error { sample = c.LatestDO(); return nil })
	return sample, err
}

func (w *Worker) LatestPMIC() (sample cache.Sample8, err error) {
	err = w.withCache(func(c *cache.BoardCache) error { sample = c.LatestPMIC(); return nil })
	return sample, err
}

func (w *Worker) LatestCalL1() (row [cache.Channels]cache.Sample16, err error) {
	err = w.withCache(func(c *cache.BoardCache) error { row = c.LatestCalL1(); return nil })
	return row, err
}

func (w *Worker) LatestCalL2() (row [cache.Channels]cache.Sample16, err error) {
	err = w.withCache(func(c *cache.BoardCache) error { row = c.LatestCalL2(); return nil })
	return row, err
}

func (w *Worker) BootCount() (n uint32, err error) {
	err = w.withCache(func(c *cache.BoardCache) error { n = c.BootCount(); return nil })
	return n, err
}

func (w *Worker) withCache(fn func(*cache.BoardCache) error) error {
	return w.cacheMu.WithLock(nil, func() error { return fn(w.cache) })
}
