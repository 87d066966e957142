package hvac

import (
	"io"
	"sync"
	"time"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/registry"
	"github.com/bbbhvac/hvaccore/internal/serialio"
)

// MockSerialPort is a serialio.Port double for exercising board workers
// without a real tty: scripted reads are served from a FIFO queue (an
// empty queue behaves like a poll timeout, returning (0, nil)), and every
// write is recorded for inspection. Safe for concurrent reader/writer
// goroutine use, the same way a real Worker drives it.
type MockSerialPort struct {
	mu      sync.Mutex
	toRead  [][]byte
	written [][]byte
	closed  bool
}

// NewMockSerialPort builds an empty MockSerialPort.
func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{}
}

// PushRead queues a chunk of bytes to be returned by a future Read.
func (p *MockSerialPort) PushRead(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toRead = append(p.toRead, b)
}

// Written returns every chunk previously passed to Write, in order.
func (p *MockSerialPort) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// Read implements serialio.Port.
func (p *MockSerialPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.EOF
	}
	if len(p.toRead) == 0 {
		p.mu.Unlock()
		time.Sleep(constants.ReaderPollTimeout)
		return 0, nil
	}
	chunk := p.toRead[0]
	p.toRead = p.toRead[1:]
	n := copy(buf, chunk)
	p.mu.Unlock()
	return n, nil
}

// Write implements serialio.Port.
func (p *MockSerialPort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.written = append(p.written, cp)
	return len(buf), nil
}

// Close implements serialio.Port.
func (p *MockSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ serialio.Port = (*MockSerialPort)(nil)

// NewMockBoard builds and starts a serialio.Worker backed by a fresh
// MockSerialPort, for embedders writing integration tests against the
// public API without a real board attached. The Worker is registered
// under tag and already running; the returned MockSerialPort lets the
// test script reads and inspect writes the same way the internal test
// suites do.
func NewMockBoard(tag string, reg *registry.Registry, log *logging.Logger) (*serialio.Worker, *MockSerialPort, error) {
	port := NewMockSerialPort()
	w := serialio.New(tag, func() (serialio.Port, error) { return port, nil }, log, nil)
	if err := w.Start(reg); err != nil {
		return nil, nil, err
	}
	return w, port, nil
}
