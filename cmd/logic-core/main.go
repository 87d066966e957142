// Command logic-core is the logic-core daemon: it opens each configured
// board's serial port, runs the 1Hz HVAC state machine, and serves an
// arbitrary number of network clients over a Unix-domain or TCP socket
// (§6). See SPEC_FULL.md for the full component breakdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"

	hvac "github.com/bbbhvac/hvaccore"
	"github.com/bbbhvac/hvaccore/internal/config"
	hvaclogic "github.com/bbbhvac/hvaccore/internal/hvac"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/registry"
	"github.com/bbbhvac/hvaccore/internal/serialio"
	"github.com/bbbhvac/hvaccore/internal/serialport"
	"github.com/bbbhvac/hvaccore/internal/server"
	"github.com/bbbhvac/hvaccore/internal/supervisor"
	"github.com/bbbhvac/hvaccore/internal/telemetry"
	"github.com/bbbhvac/hvaccore/internal/watchdog"
)

type flags struct {
	unixSocket bool
	tcpSocket  bool
	address    string
	port       int
	logFile    string
	daemonize  bool
	verbose    bool

	configPath  string
	pidFile     string
	metricsAddr string
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:           "logic-core",
		Short:         "Drives HVAC I/O boards and serves the control protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	root.Flags().BoolVarP(&f.unixSocket, "unix", "d", false, "listen on a Unix-domain socket (default)")
	root.Flags().BoolVarP(&f.tcpSocket, "tcp", "i", false, "listen on a TCP socket")
	root.Flags().StringVarP(&f.address, "address", "a", "", "TCP listen address (with -i) or Unix socket path (with -d)")
	root.Flags().IntVarP(&f.port, "port", "p", hvac.DefaultTCPPort, "TCP listen port (with -i)")
	root.Flags().StringVarP(&f.logFile, "log-file", "l", "", "log to this file instead of stderr")
	root.Flags().BoolVarP(&f.daemonize, "daemonize", "s", false, "daemonize: fork, setsid, redirect std descriptors, write a PID file")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug-level logging")
	root.Flags().StringVarP(&f.configPath, "config", "c", "/etc/bbb_hvac.conf", "configuration file path")
	root.Flags().StringVar(&f.pidFile, "pid-file", hvac.DefaultPIDFile, "PID file path (daemonized runs only)")
	root.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "optional host:port to expose Prometheus metrics on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(-1)
	}
}

func run(f *flags) error {
	if f.unixSocket && f.tcpSocket {
		return fmt.Errorf("logic-core: -d and -i are mutually exclusive")
	}
	if !f.unixSocket && !f.tcpSocket {
		f.unixSocket = true
	}

	if f.daemonize {
		if err := supervisor.Daemonize(); err != nil {
			return err
		}
	}

	log := newLogger(f)
	logging.SetDefault(log)

	cfg := config.New(log)
	if err := cfg.Load(f.configPath); err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(-1)
	}

	reg := registry.New(log)
	boards := serialio.NewSet(nil)

	var metrics *telemetry.Metrics
	if f.metricsAddr != "" {
		metrics = telemetry.New()
	}

	openBoard := func(bp *config.BoardPoint) (*serialio.Worker, error) {
		opener := func() (serialio.Port, error) {
			return serialport.Open(bp.Device, hvac.DefaultBaudRate)
		}
		w := serialio.New(bp.Tag, opener, log, metrics)
		if err := w.Start(reg); err != nil {
			return nil, err
		}
		return w, nil
	}

	for _, bp := range cfg.BoardPoints() {
		w, err := openBoard(bp)
		if err != nil {
			log.WithBoard(bp.Tag).WithError(err).Error("failed to start board worker")
			os.Exit(-1)
		}
		boards.Set(bp.Tag, w)
	}

	wd := watchdog.New(log)
	go wd.Run()

	loop := hvaclogic.New(cfg, boards, wd, log, metrics)
	if err := loop.Start(reg); err != nil {
		log.WithError(err).Error("failed to start HVAC logic loop")
		os.Exit(-1)
	}

	var listener *server.Listener
	if f.tcpSocket {
		addr := f.address
		if addr == "" {
			addr = "0.0.0.0"
		}
		listener = server.NewTCP(fmt.Sprintf("%s:%d", addr, f.port), cfg, boards, loop, log, metrics)
	} else {
		listener = server.NewUnix(f.address, cfg, boards, loop, log, metrics)
	}
	if err := listener.Start(reg); err != nil {
		log.WithError(err).Error("failed to start listener")
		os.Exit(-1)
	}

	sup := supervisor.New(reg, log)
	if f.daemonize {
		if err := sup.WritePIDFile(f.pidFile); err != nil {
			log.WithError(err).Error("failed to write PID file")
			os.Exit(-1)
		}
	}
	sup.RegisterIODeathListener(func(tag string) error {
		bp, ok := cfg.BoardPoints()[tag]
		if !ok {
			return fmt.Errorf("logic-core: no configuration for board %q", tag)
		}
		w, err := openBoard(bp)
		if err != nil {
			return err
		}
		boards.Set(tag, w)
		return nil
	})
	sup.InstallSignalHandlers()
	installDiagnosticDump(log)

	var metricsCancel context.CancelFunc
	if metrics != nil {
		var ctx context.Context
		ctx, metricsCancel = context.WithCancel(context.Background())
		go func() {
			if err := telemetry.Serve(ctx, f.metricsAddr, metrics); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	err := sup.Run()
	if metricsCancel != nil {
		metricsCancel()
	}
	listener.Close()
	wd.Stop()
	if err != nil {
		log.WithError(err).Error("supervisor main loop exited abnormally")
		os.Exit(-1)
	}
	log.Info("logic-core shut down cleanly")
	return nil
}

func newLogger(f *flags) *logging.Logger {
	cfg := logging.DefaultConfig()
	if f.verbose {
		cfg.Level = logging.LevelDebug
	}
	if f.logFile != "" {
		out, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logic-core: failed to open log file %s: %v\n", f.logFile, err)
			os.Exit(-1)
		}
		cfg.Output = out
		cfg.NoColor = true
	}
	return logging.NewLogger(cfg)
}

// installDiagnosticDump installs the teacher's SIGUSR1 goroutine-stack dump,
// useful for diagnosing a stuck board worker or connection handler in the
// field without killing the process.
func installDiagnosticDump(log *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			filename := fmt.Sprintf("logic-core-stacks-%d.txt", os.Getpid())
			f, err := os.Create(filename)
			if err != nil {
				log.WithError(err).Warn("failed to write stack dump")
				continue
			}
			fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
			f.Write(buf[:n])
			fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
			pprof.Lookup("goroutine").WriteTo(f, 2)
			f.Close()
			log.Info("stack trace written to file", "file", filename)
		}
	}()
}
