package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bbbhvac/hvaccore/internal/config"
	"github.com/bbbhvac/hvaccore/internal/protocol"
	"github.com/bbbhvac/hvaccore/internal/serialio"
)

// harness wires a Dispatcher to one end of a net.Pipe and drives the real
// ConnectionCore event loop, the same way a live client would see it.
type harness struct {
	t            *testing.T
	clientConn   net.Conn
	clientReader *bufio.Reader
	core         *protocol.ConnectionCore
	done         chan error
}

func newHarness(t *testing.T, d *Dispatcher) *harness {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	core := protocol.NewConnectionCore(serverConn, d, nil)
	h := &harness{
		t:            t,
		clientConn:   clientConn,
		clientReader: bufio.NewReader(clientConn),
		core:         core,
		done:         make(chan error, 1),
	}
	go func() { h.done <- core.Run(func() bool { return false }) }()

	if _, err := h.clientReader.ReadBytes('\n'); err != nil {
		t.Fatalf("failed to read HELLO: %v", err)
	}
	if _, err := clientConn.Write([]byte(protocol.Build(protocol.TypeHello, "VERSION", "1"))); err != nil {
		t.Fatalf("failed to negotiate: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })
	return h
}

func (h *harness) send(typ protocol.Type, parts ...string) {
	h.t.Helper()
	if _, err := h.clientConn.Write([]byte(protocol.Build(typ, parts...))); err != nil {
		h.t.Fatalf("write failed: %v", err)
	}
}

func (h *harness) recv() *protocol.Message {
	h.t.Helper()
	h.clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := h.clientReader.ReadBytes('\n')
	if err != nil {
		h.t.Fatalf("read failed: %v", err)
	}
	msg, err := protocol.Parse(line)
	if err != nil {
		h.t.Fatalf("parse failed: %v", err)
	}
	return msg
}

func testConfig(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bbb_hvac.conf")
	body := "BOARD\tboard1\t/dev/ttyS0\t0\n" +
		"DO\tboard1\t0\tAHU_FAN output\n" +
		"AI\tboard1\t0\tspace temp\t420\t0\t100\n" +
		"SP\tSPACE TEMP\t72\n" +
		"MAP\tAHU_FAN\tboard1\t0\tDO\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	cfg := config.New(nil)
	if err := cfg.Load(path); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestDispatcherPingReturnsPong(t *testing.T) {
	d := New(testConfig(t), serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.send(protocol.TypePing)
	reply := h.recv()
	if reply.Type != protocol.TypePong {
		t.Fatalf("reply type = %v, want PONG", reply.Type)
	}
}

func TestDispatcherUnknownWireTypeRepliesError(t *testing.T) {
	d := New(testConfig(t), serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.clientConn.Write([]byte("14|NOSUCHTYPE\n"))
	reply := h.recv()
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %v, want ERROR", reply.Type)
	}
}

func TestDispatcherGetLabelsUnknownKindRepliesError(t *testing.T) {
	d := New(testConfig(t), serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.send(protocol.TypeGetLabels, "BOGUS", "board1")
	reply := h.recv()
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %v, want ERROR", reply.Type)
	}
}

func TestDispatcherGetLabelsDOFiltersByBoard(t *testing.T) {
	d := New(testConfig(t), serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.send(protocol.TypeGetLabels, "DO", "board1")
	reply := h.recv()
	if reply.Type != protocol.TypeGetLabels {
		t.Fatalf("reply type = %v, want GET_LABELS", reply.Type)
	}
	if len(reply.Parts) < 2 || reply.Parts[0] != "DO" {
		t.Fatalf("reply parts = %v, want kind echoed first", reply.Parts)
	}
	if !strings.Contains(strings.Join(reply.Parts, "|"), "board1:0") {
		t.Fatalf("reply parts = %v, want board1:0 label", reply.Parts)
	}
}

func TestDispatcherSetSPUpdatesStore(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg, serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.send(protocol.TypeSetSP, "SPACE TEMP", "75.5")
	reply := h.recv()
	if reply.Type != protocol.TypeSetSP {
		t.Fatalf("reply type = %v, want SET_SP", reply.Type)
	}

	value, err := cfg.SPValue("SPACE TEMP")
	if err != nil {
		t.Fatalf("SPValue: %v", err)
	}
	if value != 75.5 {
		t.Fatalf("SPACE TEMP = %v, want 75.5", value)
	}
}

func TestDispatcherSetSPUnknownNameRepliesError(t *testing.T) {
	d := New(testConfig(t), serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.send(protocol.TypeSetSP, "NO SUCH POINT", "1")
	reply := h.recv()
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %v, want ERROR", reply.Type)
	}
}

func TestDispatcherReadStatusUnknownBoardRepliesError(t *testing.T) {
	d := New(testConfig(t), serialio.NewSet(nil), nil, nil)
	h := newHarness(t, d)

	h.send(protocol.TypeReadStatus, "NOSUCHBOARD")
	reply := h.recv()
	if reply.Type != protocol.TypeError {
		t.Fatalf("reply type = %v, want ERROR", reply.Type)
	}
}
