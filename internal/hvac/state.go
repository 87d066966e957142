package hvac

// State is the HVAC loop's top-level mode: which equipment family, if
// any, currently owns the outputs.
type State int

const (
	StateNone State = iota
	StateHeating
	StateCooling
	StateDehum
)

func (s State) String() string {
	switch s {
	case StateHeating:
		return "Heating"
	case StateCooling:
		return "Cooling"
	case StateDehum:
		return "Dehumidifying"
	default:
		return "None"
	}
}

// Mode is the sub-state within a non-None State: fan pre-roll, steady
// operation, or fan post-roll.
type Mode int

const (
	ModeNone Mode = iota
	ModeDelayOn
	ModeOperating
	ModeDelayOff
)

func (m Mode) String() string {
	switch m {
	case ModeDelayOn:
		return "DelayOn"
	case ModeOperating:
		return "Operating"
	case ModeDelayOff:
		return "DelayOff"
	default:
		return "None"
	}
}

// ProcessValues holds the process variables a decider reads.
type ProcessValues struct {
	SpaceTemp float64
	SpaceRH   float64
}

// Outputs is the digital output pattern an OutputSwitcher wants driven
// for a given mode.
type Outputs struct {
	Heater     bool
	Compressor bool
	Fan        bool
}

// ActionDecider decides whether a state's primary action (compressor,
// heater, or dehumidification equipment) should be energized, given the
// current process values, the current setpoint snapshot, and whether the
// action is already on — the hysteresis band depends on which direction
// it is currently crossing.
type ActionDecider interface {
	Decide(pv ProcessValues, sp map[string]float64, actionOn bool) bool
}

// DelayDecider reports how many iterations the DelayOn/DelayOff modes
// should persist (fan pre/post-roll) for a state, given the current
// setpoint snapshot.
type DelayDecider interface {
	PreDelay(sp map[string]float64) int
	PostDelay(sp map[string]float64) int
}

// OutputSwitcher drives DO outputs for one state's (mode) combination.
type OutputSwitcher interface {
	Outputs(mode Mode) Outputs
}

type stateHandlers struct {
	action  ActionDecider
	delay   DelayDecider
	outputs OutputSwitcher
}

type coolingAction struct{}

func (coolingAction) Decide(pv ProcessValues, sp map[string]float64, actionOn bool) bool {
	onThreshold := sp["SPACE TEMP"] + sp["SPACE TEMP DELTA HIGH"]
	offThreshold := onThreshold - sp["COOLING DEADBAND"]
	if actionOn {
		return pv.SpaceTemp > offThreshold
	}
	return pv.SpaceTemp >= onThreshold
}

type heatingAction struct{}

func (heatingAction) Decide(pv ProcessValues, sp map[string]float64, actionOn bool) bool {
	onThreshold := sp["SPACE TEMP"] + sp["SPACE TEMP DELTA LOW"]
	offThreshold := onThreshold + sp["HEATING DEADBAND"]
	if actionOn {
		return pv.SpaceTemp < offThreshold
	}
	return pv.SpaceTemp <= onThreshold
}

type dehumAction struct{}

func (dehumAction) Decide(pv ProcessValues, sp map[string]float64, actionOn bool) bool {
	rhSetpoint := sp["SPACE RH"]
	rhDelta := sp["SPACE RH DELTA"]
	tempSetpoint := sp["SPACE TEMP"]
	rhTempDelta := sp["SPACE RH TEMP DELTA"]
	dehumMinTemp := tempSetpoint - rhTempDelta

	offCondition := pv.SpaceRH <= rhSetpoint || pv.SpaceTemp <= dehumMinTemp
	if actionOn {
		return !offCondition
	}
	return pv.SpaceRH >= rhSetpoint+rhDelta && pv.SpaceTemp > dehumMinTemp
}

type coolingDelay struct{}

func (coolingDelay) PreDelay(sp map[string]float64) int  { return int(sp["AHU FAN DELAY PRE COOLING"]) }
func (coolingDelay) PostDelay(sp map[string]float64) int { return int(sp["AHU FAN DELAY POST COOLING"]) }

type heatingDelay struct{}

func (heatingDelay) PreDelay(sp map[string]float64) int  { return int(sp["AHU FAN DELAY PRE HEATING"]) }
func (heatingDelay) PostDelay(sp map[string]float64) int { return int(sp["AHU FAN DELAY POST HEATING"]) }

// coolingOutputs is also used for Dehum: §4.11.1 specifies dehumidifying
// drives the same compressor+fan path as cooling.
type coolingOutputs struct{}

func (coolingOutputs) Outputs(mode Mode) Outputs {
	switch mode {
	case ModeOperating:
		return Outputs{Compressor: true, Fan: true}
	case ModeDelayOn, ModeDelayOff:
		return Outputs{Fan: true}
	default:
		return Outputs{}
	}
}

type heatingOutputs struct{}

func (heatingOutputs) Outputs(mode Mode) Outputs {
	switch mode {
	case ModeOperating:
		return Outputs{Heater: true, Fan: true}
	case ModeDelayOn, ModeDelayOff:
		return Outputs{Fan: true}
	default:
		return Outputs{}
	}
}

var handlers = map[State]stateHandlers{
	StateCooling: {action: coolingAction{}, delay: coolingDelay{}, outputs: coolingOutputs{}},
	StateHeating: {action: heatingAction{}, delay: heatingDelay{}, outputs: heatingOutputs{}},
	StateDehum:   {action: dehumAction{}, delay: coolingDelay{}, outputs: coolingOutputs{}},
}

// statePriority is the fixed evaluation order used to pick a new state
// out of StateNone: whichever candidate's action decider first reports
// action-on wins the iteration.
var statePriority = []State{StateCooling, StateHeating, StateDehum}
