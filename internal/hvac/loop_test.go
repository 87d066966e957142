package hvac

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bbbhvac/hvaccore/internal/config"
	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/registry"
	"github.com/bbbhvac/hvaccore/internal/serialio"
	"github.com/bbbhvac/hvaccore/internal/wire"
)

// fakePort is a minimal serialio.Port double: it never produces unsolicited
// data and simply records what was written, pacing empty reads the way a
// real poll loop would.
type fakePort struct {
	mu      sync.Mutex
	toRead  [][]byte
	written [][]byte
	closed  bool
}

func (p *fakePort) pushRead(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toRead = append(p.toRead, b)
}

func (p *fakePort) Read(buf []byte) (int, error) {
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

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.written = append(p.written, cp)
	return len(buf), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func doRefreshRecord(bits uint8) []byte {
	return []byte{wire.IncomingMarker, byte(wire.CmdRefreshDO), byte(wire.StatusOK), 0x00, 0x01, bits}
}

func newTestBoard(t *testing.T, tag string) (*serialio.Worker, *fakePort, *registry.Registry) {
	t.Helper()
	port := &fakePort{}
	reg := registry.New(nil)
	w := serialio.New(tag, func() (serialio.Port, error) { return port, nil }, nil, nil)
	if err := w.Start(reg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { reg.StopAll(time.Second) })
	return w, port, reg
}

func waitForDO(t *testing.T, w *serialio.Worker, want uint8) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sample, err := w.LatestDO()
		if err == nil && sample.Value == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for DO cache to reach 0x%02x", want)
}

func testMapConfig(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bbb_hvac.conf")
	body := "BOARD\tboard1\t/dev/ttyS0\t0\n" +
		"DO\tboard1\t0\tAHU_FAN output\n" +
		"DO\tboard1\t1\tAC_COMPRESSOR output\n" +
		"DO\tboard1\t2\tAHU_HEATER output\n" +
		"MAP\tAHU_FAN\tboard1\t0\tDO\n" +
		"MAP\tAC_COMPRESSOR\tboard1\t1\tDO\n" +
		"MAP\tAHU_HEATER\tboard1\t2\tDO\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	cfg := config.New(nil)
	if err := cfg.Load(path); err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestLoopDriveOutputSetsAndClearsBits(t *testing.T) {
	board, port, _ := newTestBoard(t, "board1")
	port.pushRead(doRefreshRecord(0x00))
	waitForDO(t, board, 0x00)

	cfg := testMapConfig(t)
	l := New(cfg, serialio.NewSet(map[string]*serialio.Worker{"board1": board}), nil, nil, nil)

	l.driveOutput("AHU_FAN", true)
	port.pushRead(doRefreshRecord(0x01))
	waitForDO(t, board, 0x01)

	l.driveOutput("AC_COMPRESSOR", true)
	port.pushRead(doRefreshRecord(0x03))
	waitForDO(t, board, 0x03)

	l.driveOutput("AHU_FAN", false)
	port.pushRead(doRefreshRecord(0x02))
	waitForDO(t, board, 0x02)
}

func TestLoopSnapshotReportsDOBits(t *testing.T) {
	board, port, _ := newTestBoard(t, "board1")
	port.pushRead(doRefreshRecord(0x05))
	waitForDO(t, board, 0x05)

	cfg := testMapConfig(t)
	l := New(cfg, serialio.NewSet(map[string]*serialio.Worker{"board1": board}), nil, nil, nil)

	snap := l.Snapshot()
	if snap["AHU_FAN"] != "1" {
		t.Fatalf("AHU_FAN = %q, want \"1\"", snap["AHU_FAN"])
	}
	if snap["AC_COMPRESSOR"] != "0" {
		t.Fatalf("AC_COMPRESSOR = %q, want \"0\"", snap["AC_COMPRESSOR"])
	}
	if snap["AHU_HEATER"] != "1" {
		t.Fatalf("AHU_HEATER = %q, want \"1\"", snap["AHU_HEATER"])
	}
}

func TestLoopPickStateEntersCoolingWhenHot(t *testing.T) {
	cfg := config.New(nil)
	l := New(cfg, serialio.NewSet(nil), nil, nil, nil)

	sp := setpoints()
	l.pickState(ProcessValues{SpaceTemp: 80}, sp)

	if l.state != StateCooling {
		t.Fatalf("state = %v, want StateCooling", l.state)
	}
	if l.mode != ModeDelayOn {
		t.Fatalf("mode = %v, want ModeDelayOn", l.mode)
	}
}

// TestLoopStepStateAdvancesThroughDelayOnToOperating reproduces spec.md's
// scenario 5 literally: SPACE TEMP=70, DELTA LOW=-2, HEATING DEADBAND=1,
// PRE HEATING=3, POST HEATING=2. AI at 67°F. On iteration k the loop
// transitions None->Heating/DelayOn; it must reach Operating on k+3, not
// k+4.
func TestLoopStepStateAdvancesThroughDelayOnToOperating(t *testing.T) {
	cfg := config.New(nil)
	l := New(cfg, serialio.NewSet(nil), nil, nil, nil)
	sp := setpoints()
	sp["SPACE TEMP"] = 70
	sp["SPACE TEMP DELTA LOW"] = -2
	sp["HEATING DEADBAND"] = 1
	sp["AHU FAN DELAY PRE HEATING"] = 3
	sp["AHU FAN DELAY POST HEATING"] = 2

	pv := ProcessValues{SpaceTemp: 67}

	// Iteration k: None -> Heating/DelayOn.
	l.pickState(pv, sp)
	if l.state != StateHeating || l.mode != ModeDelayOn {
		t.Fatalf("state=%v mode=%v at k, want Heating/DelayOn", l.state, l.mode)
	}

	// Iterations k+1 and k+2: still DelayOn, pre_delay not yet exhausted.
	l.stepState(pv, sp)
	if l.mode != ModeDelayOn {
		t.Fatalf("mode = %v at k+1, want still ModeDelayOn", l.mode)
	}
	l.stepState(pv, sp)
	if l.mode != ModeDelayOn {
		t.Fatalf("mode = %v at k+2, want still ModeDelayOn", l.mode)
	}

	// Iteration k+3: must reach Operating, per spec.md's literal scenario.
	l.stepState(pv, sp)
	if l.mode != ModeOperating {
		t.Fatalf("mode = %v at k+3, want ModeOperating", l.mode)
	}

	// AI reaches 69°F: action decider reports off (70-2+1=69 off-threshold
	// reached), so Operating -> DelayOff at this same iteration.
	pv.SpaceTemp = 69
	l.stepState(pv, sp)
	if l.mode != ModeDelayOff {
		t.Fatalf("mode = %v after AI reached 69, want ModeDelayOff", l.mode)
	}

	// One further iteration: post_delay=2 means DelayOff persists for one
	// more step, then returns to None on the second.
	l.stepState(pv, sp)
	if l.mode != ModeDelayOff {
		t.Fatalf("mode = %v one iteration after DelayOff, want still ModeDelayOff", l.mode)
	}
	l.stepState(pv, sp)
	if l.state != StateNone || l.mode != ModeNone {
		t.Fatalf("state=%v mode=%v two iterations after DelayOff, want None/None", l.state, l.mode)
	}
}

func TestLoopErrorFlagForcesStateNone(t *testing.T) {
	cfg := config.New(nil)
	l := New(cfg, serialio.NewSet(nil), nil, nil, nil)
	l.state = StateCooling
	l.mode = ModeOperating
	l.errorFlag = true

	l.advanceStateMachine(ProcessValues{SpaceTemp: 80}, setpoints())

	if l.state != StateNone || l.mode != ModeNone {
		t.Fatalf("state=%v mode=%v, want both None under the AI-failure fallback", l.state, l.mode)
	}
}
