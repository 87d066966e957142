// Package hvac implements the 1Hz HVAC logic loop (C11): per-iteration
// PMIC reset policy, AI engineering-unit precomputation, and the
// heating/cooling/dehumidification state machine that drives DO outputs
// from mapped setpoints.
package hvac

import (
	"strconv"
	"time"

	"github.com/bbbhvac/hvaccore/internal/cache"
	"github.com/bbbhvac/hvaccore/internal/config"
	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/lockutil"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/registry"
	"github.com/bbbhvac/hvaccore/internal/serialio"
	"github.com/bbbhvac/hvaccore/internal/telemetry"
	"github.com/bbbhvac/hvaccore/internal/watchdog"
)

// Fault bit conventions for the PMIC reset policy: the board firmware
// reports an AI or DO fault in the top bit of the PMIC or DO status byte
// respectively; rewriting the PMIC byte as-is clears the faulted rail.
const (
	doFaultBit   uint8 = 0x80
	pmicFaultBit uint8 = 0x80
)

// Loop owns the one-second HVAC state machine.
type Loop struct {
	cfg      *config.Store
	boards   *serialio.Set
	watchdog *watchdog.Watchdog
	log      *logging.Logger
	metrics  *telemetry.Metrics
	mu       *lockutil.Mutex

	handle *registry.Handle

	pmicStates   map[string]*pmicResetState
	aiFailCounts map[string]int
	errorFlag    bool

	state               State
	mode                Mode
	modeCounter         int
	modeSwitchCooldown  int
	actionOn            bool

	iteration int
}

// New builds a Loop over the given boards and configuration store. metrics
// may be nil, in which case PMIC/AI-failure/iteration events are not
// reported.
func New(cfg *config.Store, boards *serialio.Set, wd *watchdog.Watchdog, log *logging.Logger, metrics *telemetry.Metrics) *Loop {
	if log == nil {
		log = logging.Default()
	}
	return &Loop{
		cfg:          cfg,
		boards:       boards,
		watchdog:     wd,
		log:          log,
		metrics:      metrics,
		mu:           lockutil.New(),
		pmicStates:   make(map[string]*pmicResetState),
		aiFailCounts: make(map[string]int),
	}
}

// Start registers the loop with reg and launches its goroutine.
func (l *Loop) Start(reg *registry.Registry) error {
	handle, err := reg.Register("hvac-logic", registry.KindGeneric)
	if err != nil {
		return err
	}
	l.handle = handle
	go func() {
		defer handle.Done()
		l.run(handle)
	}()
	return nil
}

func (l *Loop) run(handle *registry.Handle) {
	ticker := time.NewTicker(constants.LogicLoopPeriod)
	defer ticker.Stop()
	for !handle.StopRequested() {
		<-ticker.C
		if handle.StopRequested() {
			return
		}
		l.runIteration()
	}
}

// runIteration executes one pass of §4.11's nine steps.
func (l *Loop) runIteration() {
	if l.watchdog != nil {
		l.watchdog.Reset()
	}

	abort := func() bool { return l.handle != nil && l.handle.StopRequested() }
	if err := l.mu.Acquire(abort); err != nil {
		l.log.WithError(err).Error("failed to acquire logic loop lock")
		return
	}
	defer l.mu.Release()

	start := time.Now()
	if l.metrics != nil {
		defer func() { l.metrics.ObserveLogicIteration(time.Since(start)) }()
	}

	now := start
	l.boards.Range(func(tag string, board *serialio.Worker) {
		l.applyPMICPolicy(tag, board, now)
	})

	pv := ProcessValues{}
	pv.SpaceTemp, _ = l.readMappedAI("SPACE_1_TEMP")
	pv.SpaceRH, _ = l.readMappedAI("SPACE_1_RH")

	sp := l.snapshotSetpoints()
	l.advanceStateMachine(pv, sp)

	l.iteration++
	if l.iteration%constants.ConfigSaveEveryNIterations == 0 {
		if err := l.cfg.Save(); err != nil {
			l.log.WithError(err).Error("failed to persist configuration overlay")
		}
	}
}

func (l *Loop) applyPMICPolicy(tag string, board *serialio.Worker, now time.Time) {
	do, err := board.LatestDO()
	if err != nil {
		return
	}
	pmic, err := board.LatestPMIC()
	if err != nil {
		return
	}

	st := l.pmicState(tag)
	st.forgetIfStale(now)

	if do.Value&doFaultBit == 0 && pmic.Value&pmicFaultBit == 0 {
		return
	}
	if st.shouldReset(now) {
		board.SetPMIC(pmic.Value)
		l.log.WithBoard(tag).Warn("PMIC fault detected; reissuing PMIC byte to reset faulted rail")
		if l.metrics != nil {
			l.metrics.IncPMICReset(tag)
		}
	} else if st.failed {
		l.log.WithBoard(tag).Error("PMIC reset budget exhausted; board marked failed")
		if l.metrics != nil {
			l.metrics.IncPMICResetDenied(tag)
		}
	}
}

func (l *Loop) pmicState(tag string) *pmicResetState {
	st, ok := l.pmicStates[tag]
	if !ok {
		st = &pmicResetState{}
		l.pmicStates[tag] = st
	}
	return st
}

// readMappedAI reads and converts one mapped AI point, tracking the
// consecutive-FLOAT_MIN failure count that gates the AI-failure fallback.
func (l *Loop) readMappedAI(mapName string) (float64, bool) {
	mp, ok := l.cfg.PointMap()[mapName]
	if !ok || mp.Type != "AI" {
		return 0, false
	}
	board, ok := l.boards.Get(mp.Board)
	if !ok {
		return 0, false
	}
	point, ok := l.cfg.AIPoint(mp.Board, mp.Index)
	if !ok {
		return 0, false
	}
	row, err := board.LatestAI()
	if err != nil || mp.Index < 0 || mp.Index >= cache.Channels {
		return 0, false
	}

	value := computeAIValue(point, row[mp.Index].Value)
	if value == constants.FloatMin {
		l.aiFailCounts[mapName]++
		if l.aiFailCounts[mapName] == constants.AIFailureIterations+1 {
			l.errorFlag = true
			if l.metrics != nil {
				l.metrics.IncAIFailure(mapName)
			}
		}
		return value, false
	}

	l.aiFailCounts[mapName] = 0
	if l.allAIFailuresClear() {
		l.errorFlag = false
	}
	return value, true
}

func (l *Loop) allAIFailuresClear() bool {
	for _, n := range l.aiFailCounts {
		if n > 0 {
			return false
		}
	}
	return true
}

func (l *Loop) snapshotSetpoints() map[string]float64 {
	out := make(map[string]float64)
	for name, sp := range l.cfg.SPPoints() {
		out[name] = sp.Value
	}
	return out
}

// advanceStateMachine runs one step of §4.11.1: the AI-failure fallback
// takes priority over everything else; otherwise a state is picked (from
// None) or stepped (within a non-None state), then outputs are driven.
func (l *Loop) advanceStateMachine(pv ProcessValues, sp map[string]float64) {
	if l.modeSwitchCooldown > 0 {
		l.modeSwitchCooldown--
	}

	if l.errorFlag {
		l.state = StateNone
		l.mode = ModeNone
		l.actionOn = false
		l.applyOutputs()
		return
	}

	if l.state == StateNone {
		l.pickState(pv, sp)
	} else {
		l.stepState(pv, sp)
	}
	l.applyOutputs()
}

func (l *Loop) pickState(pv ProcessValues, sp map[string]float64) {
	for _, candidate := range statePriority {
		h := handlers[candidate]
		if !h.action.Decide(pv, sp, false) {
			continue
		}
		if l.modeSwitchCooldown > 0 {
			continue
		}
		l.state = candidate
		l.mode = ModeDelayOn
		// modeCounter is the number of *further* stepState calls still
		// needed, not the configured delay itself: this iteration already
		// counts as the first of pre_delay, so pre_delay=3 must reach
		// Operating on the third subsequent call, not the fourth.
		l.modeCounter = h.delay.PreDelay(sp) - 1
		l.actionOn = true
		return
	}
}

func (l *Loop) stepState(pv ProcessValues, sp map[string]float64) {
	h := handlers[l.state]
	switch l.mode {
	case ModeDelayOn:
		if l.modeCounter > 0 {
			l.modeCounter--
			return
		}
		l.mode = ModeOperating
	case ModeOperating:
		if !h.action.Decide(pv, sp, true) {
			l.mode = ModeDelayOff
			// Same off-by-one correction as the DelayOn seed above.
			l.modeCounter = h.delay.PostDelay(sp) - 1
			l.actionOn = false
		}
	case ModeDelayOff:
		if l.modeCounter > 0 {
			l.modeCounter--
			return
		}
		l.state = StateNone
		l.mode = ModeNone
		l.modeSwitchCooldown = int(sp["MODE SWITCH DELAY"])
	}
}

func (l *Loop) applyOutputs() {
	var out Outputs
	if l.state != StateNone {
		out = handlers[l.state].outputs.Outputs(l.mode)
	}
	l.driveOutput("AHU_HEATER", out.Heater)
	l.driveOutput("AC_COMPRESSOR", out.Compressor)
	l.driveOutput("AHU_FAN", out.Fan)
}

func (l *Loop) driveOutput(mapName string, on bool) {
	mp, ok := l.cfg.PointMap()[mapName]
	if !ok || mp.Type != "DO" {
		return
	}
	board, ok := l.boards.Get(mp.Board)
	if !ok {
		return
	}
	current, err := board.LatestDO()
	if err != nil {
		return
	}
	bit := uint8(1) << uint(mp.Index)
	next := current.Value &^ bit
	if on {
		next |= bit
	}
	if next != current.Value {
		board.SetDO(next)
	}
}

// Snapshot returns a key=value view of every mapped point's current
// value, answering READ_LOGIC_STATUS.
func (l *Loop) Snapshot() map[string]string {
	out := make(map[string]string)
	for name, mp := range l.cfg.PointMap() {
		board, ok := l.boards.Get(mp.Board)
		if !ok {
			continue
		}
		switch mp.Type {
		case "AI":
			point, ok := l.cfg.AIPoint(mp.Board, mp.Index)
			if !ok || mp.Index < 0 || mp.Index >= cache.Channels {
				continue
			}
			row, err := board.LatestAI()
			if err != nil {
				continue
			}
			value := computeAIValue(point, row[mp.Index].Value)
			out[name] = strconv.FormatFloat(value, 'g', -1, 64)
		case "DO":
			do, err := board.LatestDO()
			if err != nil {
				continue
			}
			bit := (do.Value >> uint(mp.Index)) & 1
			out[name] = strconv.Itoa(int(bit))
		}
	}
	return out
}

// State and Mode report the loop's current position for diagnostics.
func (l *Loop) State() State { return l.state }
func (l *Loop) Mode() Mode   { return l.mode }
