// Package serialport implements the raw-mode serial port lifecycle
// described in §4.6.3: open with NOCTTY/NONBLOCK, raw 8N1 with hardware
// flow control, a PID lock file to guarantee exclusive access per board,
// and teardown that restores the original termios.
package serialport

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	serial "github.com/daedaluz/goserial"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
)

// Port wraps a raw serial device, owning its PID lock file alongside the
// open file descriptor.
type Port struct {
	device   string
	lockPath string
	port     *serial.Port
	original *serial.Termios2
}

// Open opens device at baud, applying raw 8N1 with CRTSCTS hardware flow
// control, and acquires an exclusive PID lock file at
// /var/lock/LCK..<basename>. If a stale lock file is found (its PID is not
// a live process), it is removed and reacquired; if the owning process is
// alive, Open fails with a ConnectionError.
func Open(device string, baud int) (*Port, error) {
	lockPath := lockFilePath(device)
	if err := acquireLock(lockPath); err != nil {
		return nil, err
	}

	opts := serial.NewOptions()
	opts.OpenMode = syscall.O_RDWR | syscall.O_NOCTTY | syscall.O_NONBLOCK
	raw, err := serial.Open(device, opts)
	if err != nil {
		releaseLock(lockPath)
		return nil, herr.Wrap("serialport.open", herr.CodeRuntimeError, err)
	}

	original, err := raw.GetAttr2()
	if err != nil {
		raw.Close()
		releaseLock(lockPath)
		return nil, herr.Wrap("serialport.open", herr.CodeRuntimeError, err)
	}

	attrs := *original
	attrs.MakeRaw()
	attrs.SetSpeed(baudFlag(baud))
	attrs.Cflag |= serial.CRTSCTS

	if err := raw.SetAttr2(serial.TCSANOW, &attrs); err != nil {
		raw.Close()
		releaseLock(lockPath)
		return nil, herr.Wrap("serialport.open", herr.CodeRuntimeError, err)
	}
	raw.SetReadTimeout(constants.ReaderPollTimeout)

	return &Port{device: device, lockPath: lockPath, port: raw, original: original}, nil
}

// Read reads into buf with the port's configured poll timeout, returning
// (0, nil) on a timeout with no data available.
func (p *Port) Read(buf []byte) (int, error) {
	n, err := p.port.Read(buf)
	if err != nil {
		return n, herr.Wrap("serialport.read", herr.CodeRuntimeError, err)
	}
	return n, nil
}

// Write writes buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	n, err := p.port.Write(buf)
	if err != nil {
		return n, herr.Wrap("serialport.write", herr.CodeRuntimeError, err)
	}
	return n, nil
}

// Close restores the original termios, flushes buffers, closes the fd, and
// unlinks the PID lock file.
func (p *Port) Close() error {
	if p.original != nil {
		_ = p.port.SetAttr2(serial.TCSANOW, p.original)
	}
	_ = p.port.Flush(serial.TCIOFLUSH)
	err := p.port.Close()
	releaseLock(p.lockPath)
	if err != nil {
		return herr.Wrap("serialport.close", herr.CodeRuntimeError, err)
	}
	return nil
}

func baudFlag(baud int) serial.CFlag {
	switch baud {
	case 9600:
		return serial.B9600
	default:
		return serial.B19200
	}
}

func lockFilePath(device string) string {
	base := device
	if idx := strings.LastIndexByte(device, '/'); idx >= 0 {
		base = device[idx+1:]
	}
	return "/var/lock/LCK.." + base
}

// acquireLock implements the §4.6.3 PID lock-file protocol: create the
// file with our PID if absent; if present, check whether the recorded PID
// is a live process via /proc; if dead, unlink and relock; if alive,
// refuse to start.
func acquireLock(path string) error {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return herr.Wrap("serialport.lock", herr.CodeRuntimeError, err)
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return herr.Wrap("serialport.lock", herr.CodeRuntimeError, readErr)
		}
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && processAlive(pid) {
			return herr.New("serialport.lock", herr.CodeConnectionError,
				fmt.Sprintf("serial port locked by live process %d", pid))
		}

		// Stale lock: remove and retry.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return herr.Wrap("serialport.lock", herr.CodeRuntimeError, rmErr)
		}
	}
}

func processAlive(pid int) bool {
	_, err := os.Stat("/proc/" + strconv.Itoa(pid))
	return err == nil
}

func releaseLock(path string) {
	_ = os.Remove(path)
}
