package server

import (
	"net"
	"os"
	"time"

	"github.com/bbbhvac/hvaccore/internal/config"
	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/hvac"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/protocol"
	"github.com/bbbhvac/hvaccore/internal/registry"
	"github.com/bbbhvac/hvaccore/internal/serialio"
	"github.com/bbbhvac/hvaccore/internal/telemetry"
)

// Listener binds either a Unix-domain or a TCP socket and spawns a fresh
// ConnectionCore + Dispatcher per accepted connection.
type Listener struct {
	network string
	address string

	cfg     *config.Store
	boards  *serialio.Set
	loop    *hvac.Loop
	log     *logging.Logger
	metrics *telemetry.Metrics

	ln net.Listener
}

// NewUnix builds a Listener over a Unix-domain socket at path; Start
// unlinks any stale socket file left by a prior run before binding.
// metrics may be nil.
func NewUnix(path string, cfg *config.Store, boards *serialio.Set, loop *hvac.Loop, log *logging.Logger, metrics *telemetry.Metrics) *Listener {
	if path == "" {
		path = constants.DefaultUnixSocketPath
	}
	return newListener("unix", path, cfg, boards, loop, log, metrics)
}

// NewTCP builds a Listener over a TCP address (host:port). metrics may be
// nil.
func NewTCP(address string, cfg *config.Store, boards *serialio.Set, loop *hvac.Loop, log *logging.Logger, metrics *telemetry.Metrics) *Listener {
	return newListener("tcp", address, cfg, boards, loop, log, metrics)
}

func newListener(network, address string, cfg *config.Store, boards *serialio.Set, loop *hvac.Loop, log *logging.Logger, metrics *telemetry.Metrics) *Listener {
	if log == nil {
		log = logging.Default()
	}
	return &Listener{network: network, address: address, cfg: cfg, boards: boards, loop: loop, log: log, metrics: metrics}
}

// Start binds the socket and registers the accept loop with reg.
func (l *Listener) Start(reg *registry.Registry) error {
	if l.network == "unix" {
		os.Remove(l.address)
	}
	ln, err := net.Listen(l.network, l.address)
	if err != nil {
		return herr.Wrap("server.listen", herr.CodeNetworkError, err)
	}
	l.ln = ln

	handle, err := reg.Register("listener", registry.KindGeneric)
	if err != nil {
		ln.Close()
		return err
	}

	go func() {
		defer handle.Done()
		l.acceptLoop(reg, handle)
	}()
	return nil
}

// acceptLoop polls Accept with a short deadline so the stop flag is
// observed promptly (§4.10): a net.Listener has no native stop-aware
// Accept, so a *net.TCPListener/*net.UnixListener deadline stands in for
// the poll(2) timeout the source uses directly on the listening fd.
func (l *Listener) acceptLoop(reg *registry.Registry, handle *registry.Handle) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}

	for !handle.StopRequested() {
		if dl, ok := l.ln.(deadliner); ok {
			dl.SetDeadline(time.Now().Add(constants.AcceptPollTimeout))
		}
		conn, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if handle.StopRequested() {
				return
			}
			l.log.WithError(err).Warn("accept failed")
			continue
		}
		go l.serve(conn, handle)
	}
}

func (l *Listener) serve(conn net.Conn, handle *registry.Handle) {
	if l.metrics != nil {
		l.metrics.ClientConnected()
		defer l.metrics.ClientDisconnected()
	}
	dispatcher := New(l.cfg, l.boards, l.loop, l.log)
	core := protocol.NewConnectionCore(conn, dispatcher, l.log)
	if err := core.Run(handle.StopRequested); err != nil {
		l.log.WithError(err).Warn("connection terminated")
	}
}

// Close stops accepting and unlinks a Unix-domain socket path.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	if l.network == "unix" {
		os.Remove(l.address)
	}
	return err
}
