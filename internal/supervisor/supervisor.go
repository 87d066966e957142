// Package supervisor implements the process supervisor (C12): signal
// handling, optional daemonization and privilege drop, the PID file
// protocol, and the main loop that reaps dead registry entries and drives
// coordinated shutdown via Registry.StopAll.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"os/user"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/registry"
)

// daemonizedEnvVar marks a process that has already re-exec'd itself
// detached; its presence short-circuits a second daemonization attempt.
const daemonizedEnvVar = "BBB_HVAC_DAEMONIZED"

// Supervisor owns the process-wide shutdown signal and the PID file
// written for a daemonized run.
type Supervisor struct {
	reg *registry.Registry
	log *logging.Logger

	pidFile string

	exitFlag atomic.Bool
	sigCh    chan os.Signal
}

// New builds a Supervisor driving reg's coordinated shutdown.
func New(reg *registry.Registry, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.Default()
	}
	return &Supervisor{reg: reg, log: log}
}

// Daemonize re-execs the current process detached from its controlling
// terminal: a new session via Setsid, stdin/stdout/stderr redirected to
// /dev/null, then the parent exits 0. A process that is already the
// daemonized child (daemonizedEnvVar set) returns immediately and keeps
// running in place.
func Daemonize() error {
	if os.Getenv(daemonizedEnvVar) == "1" {
		return nil
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return herr.Wrap("supervisor.daemonize", herr.CodeRuntimeError, err)
	}
	defer devNull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return herr.Wrap("supervisor.daemonize", herr.CodeRuntimeError, err)
	}
	os.Exit(0)
	return nil
}

// WritePIDFile writes the running process's PID to path (DefaultPIDFile
// if empty) with PIDFileMode (0600), and remembers path for RemovePIDFile.
func (s *Supervisor) WritePIDFile(path string) error {
	if path == "" {
		path = constants.DefaultPIDFile
	}
	body := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, body, constants.PIDFileMode); err != nil {
		return herr.Wrap("supervisor.pidfile", herr.CodeRuntimeError, err)
	}
	s.pidFile = path
	return nil
}

// RemovePIDFile unlinks the PID file written by WritePIDFile, if any.
func (s *Supervisor) RemovePIDFile() {
	if s.pidFile == "" {
		return
	}
	os.Remove(s.pidFile)
}

// ProcessAlive reports whether pid names a live process, by probing with
// signal 0 (kill(2) semantics: delivers nothing, only checks existence
// and permission).
func ProcessAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// DropPrivileges switches the process's effective and real uid/gid to
// username's, once startup's root-only steps (opening serial devices,
// binding low ports, daemonizing) have completed. It is a no-op if
// username is empty.
func DropPrivileges(username string) error {
	if username == "" {
		return nil
	}
	u, err := user.Lookup(username)
	if err != nil {
		return herr.Wrap("supervisor.drop_privileges", herr.CodeInvalidArgument, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return herr.Wrap("supervisor.drop_privileges", herr.CodeRuntimeError, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return herr.Wrap("supervisor.drop_privileges", herr.CodeRuntimeError, err)
	}

	if err := unix.Setgid(gid); err != nil {
		return herr.Wrap("supervisor.drop_privileges", herr.CodeRuntimeError, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return herr.Wrap("supervisor.drop_privileges", herr.CodeRuntimeError, err)
	}
	return nil
}

// InstallSignalHandlers installs the signal set named by §4.12: SIGINT
// and SIGTERM request an orderly shutdown; SIGHUP is treated the same
// (no config-reload distinction is specified); the crash signals
// (SEGV/BUS/ILL/ABRT/FPE) are caught so the handler can flag the exit
// and call stop_all before the process dies, rather than dropping serial
// ports and client sockets mid-write. The handler does not attempt to
// continue running after a crash signal — it stops workers and lets the
// process exit.
func (s *Supervisor) InstallSignalHandlers() {
	s.sigCh = make(chan os.Signal, 4)
	signal.Notify(s.sigCh,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP,
		syscall.SIGSEGV, syscall.SIGBUS, syscall.SIGILL,
		syscall.SIGABRT, syscall.SIGFPE,
	)

	go func() {
		for sig := range s.sigCh {
			s.log.Info("received signal; flagging shutdown", "signal", sig.String())
			s.exitFlag.Store(true)
			s.reg.StopAll(constants.WorkerStopGrace)
		}
	}()
}

// RegisterIODeathListener installs a registry death listener that rebuilds
// (tag) is the boardTag of the worker that died unexpectedly; rebuild is
// supplied by the caller since only it knows how to reopen the board's
// serial device and wire its reopened Worker back into the daemon's board
// map. Only KindSerialWorker deaths are restarted.
func (s *Supervisor) RegisterIODeathListener(rebuild func(tag string) error) {
	s.reg.SetDeathListener(func(tag string, kind registry.Kind) {
		if kind != registry.KindSerialWorker {
			return
		}
		if s.exitFlag.Load() {
			return
		}
		s.log.WithBoard(tag).Warn("serial worker died; attempting restart")
		if err := rebuild(tag); err != nil {
			s.log.WithBoard(tag).WithError(err).Error("failed to restart serial worker")
		}
	})
}

// RequestExit flags the main loop to stop, as if a shutdown signal had
// been received, so a programmatic shutdown takes the same exit path as
// a signal.
func (s *Supervisor) RequestExit() {
	s.exitFlag.Store(true)
}

// Run is the supervisor main loop (§4.12): sleep SupervisorTick, reap
// dead registry entries, and exit once the exit flag has tripped,
// stopping every remaining worker first. It returns nil on an orderly
// shutdown.
func (s *Supervisor) Run() error {
	ticker := time.NewTicker(constants.SupervisorTick)
	defer ticker.Stop()

	for range ticker.C {
		if n := s.reg.Cleanup(); n > 0 {
			s.log.Debug("reaped dead workers", "count", n)
		}
		if s.exitFlag.Load() {
			s.reg.StopAll(constants.WorkerStopGrace)
			s.RemovePIDFile()
			return nil
		}
	}
	return fmt.Errorf("supervisor: ticker channel closed unexpectedly")
}
