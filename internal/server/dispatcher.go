// Package server implements the client-facing command dispatch (C9) and
// the connection-accepting listener (C10): every GET_*/READ_*/SET_*/
// FORCE_*/UNFORCE_* message a connected client can send, routed to the
// board serial workers, the configuration store, or the HVAC logic loop.
package server

import (
	"strconv"
	"strings"

	"github.com/bbbhvac/hvaccore/internal/cache"
	"github.com/bbbhvac/hvaccore/internal/config"
	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/hvac"
	"github.com/bbbhvac/hvaccore/internal/logging"
	"github.com/bbbhvac/hvaccore/internal/protocol"
	"github.com/bbbhvac/hvaccore/internal/serialio"
)

// Dispatcher implements protocol.Dispatcher for the server side of the
// control protocol: it never calls SendAndWait (there are no local
// waiters on this side of the connection), it only replies.
type Dispatcher struct {
	cfg    *config.Store
	boards *serialio.Set
	loop   *hvac.Loop
	log    *logging.Logger
}

// New builds a server-side Dispatcher.
func New(cfg *config.Store, boards *serialio.Set, loop *hvac.Loop, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Default()
	}
	return &Dispatcher{cfg: cfg, boards: boards, loop: loop, log: log}
}

// Dispatch handles one message already cleared by ConnectionCore's base
// HELLO/PONG bookkeeping. Per §4.9, unknown types reply ERROR and the
// connection stays open; only a send failure (a dead socket) is returned
// as an error that tears the connection down.
func (d *Dispatcher) Dispatch(core *protocol.ConnectionCore, msg *protocol.Message) error {
	switch msg.Type {
	case protocol.TypeHello, protocol.TypePong:
		return nil // fully handled by ConnectionCore's base handler.
	case protocol.TypePing:
		return core.Send(protocol.TypePong)
	case protocol.TypeGetLabels:
		return d.handleGetLabels(core, msg)
	case protocol.TypeReadStatus:
		return d.handleReadStatus(core, msg)
	case protocol.TypeReadStatusRawAnalog:
		return d.handleReadStatusRawAnalog(core, msg)
	case protocol.TypeSetStatus:
		return d.handleSetStatus(core, msg)
	case protocol.TypeSetPMICStatus:
		return d.handleSetPMICStatus(core, msg)
	case protocol.TypeSetL1CalVals:
		return d.handleSetCal(core, msg, (*serialio.Worker).SetCalL1)
	case protocol.TypeSetL2CalVals:
		return d.handleSetCal(core, msg, (*serialio.Worker).SetCalL2)
	case protocol.TypeForceAIValue:
		return d.handleForceAI(core, msg)
	case protocol.TypeUnforceAIValue:
		return d.handleUnforceAI(core, msg)
	case protocol.TypeReadLogicStatus:
		return d.handleReadLogicStatus(core, msg)
	case protocol.TypeSetSP:
		return d.handleSetSP(core, msg)
	case protocol.TypeError:
		d.log.Warn("client reported error", "parts", strings.Join(msg.Parts, "|"))
		return nil
	default:
		return d.replyError(core, "UNKNOWN_TYPE", "unhandled message type "+string(msg.Type))
	}
}

func (d *Dispatcher) replyError(core *protocol.ConnectionCore, code, detail string) error {
	return core.Send(protocol.TypeError, code, detail)
}

func (d *Dispatcher) board(core *protocol.ConnectionCore, tag string) (*serialio.Worker, bool) {
	w, ok := d.boards.Get(tag)
	if !ok {
		d.replyError(core, "UNKNOWN_BOARD", tag)
	}
	return w, ok
}

// handleGetLabels replies with the configured labels of the requested
// kind. DO and AI are board-scoped (msg.Parts[1] selects the board,
// per-channel labels are "board:index", since the configuration format
// carries no standalone channel name); SP and MAP are global and ignore
// the board argument.
func (d *Dispatcher) handleGetLabels(core *protocol.ConnectionCore, msg *protocol.Message) error {
	kind := msg.Parts[0]
	board := msg.Parts[1]
	var labels []string
	switch kind {
	case "DO":
		for _, p := range d.cfg.DOPoints() {
			if p.Board != board {
				continue
			}
			labels = append(labels, p.Board+":"+strconv.Itoa(p.Index))
		}
	case "AI":
		for _, p := range d.cfg.AIPoints() {
			if p.Board != board {
				continue
			}
			labels = append(labels, p.Board+":"+strconv.Itoa(p.Index))
		}
	case "SP":
		for name := range d.cfg.SPPoints() {
			labels = append(labels, name)
		}
	case "MAP":
		for name := range d.cfg.PointMap() {
			labels = append(labels, name)
		}
	default:
		return d.replyError(core, "UNKNOWN_LABEL_KIND", kind)
	}
	return core.Send(protocol.TypeGetLabels, append([]string{kind}, labels...)...)
}

// handleReadStatus composes the packed per-board snapshot: 8 AI entries,
// the DO entry, the PMIC entry, 8 L1-cal entries, 8 L2-cal entries, and
// the boot-count entry, in that fixed order.
func (d *Dispatcher) handleReadStatus(core *protocol.ConnectionCore, msg *protocol.Message) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}

	ai, err := w.LatestAI()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}
	do, err := w.LatestDO()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}
	pmic, err := w.LatestPMIC()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}
	calL1, err := w.LatestCalL1()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}
	calL2, err := w.LatestCalL2()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}
	bootCount, err := w.BootCount()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}

	parts := make([]string, 0, cache.Channels*3+3)
	parts = append(parts, msg.Parts[0])
	for _, s := range ai {
		parts = append(parts, strconv.FormatUint(uint64(s.Value), 10))
	}
	parts = append(parts, strconv.FormatUint(uint64(do.Value), 10))
	parts = append(parts, strconv.FormatUint(uint64(pmic.Value), 10))
	for _, s := range calL1 {
		parts = append(parts, strconv.FormatUint(uint64(s.Value), 10))
	}
	for _, s := range calL2 {
		parts = append(parts, strconv.FormatUint(uint64(s.Value), 10))
	}
	parts = append(parts, strconv.FormatUint(uint64(bootCount), 10))

	return core.Send(protocol.TypeReadStatus, parts...)
}

// handleReadStatusRawAnalog replies with the entire AI ring in scan
// order, flattened channel-major within each row.
func (d *Dispatcher) handleReadStatusRawAnalog(core *protocol.ConnectionCore, msg *protocol.Message) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}
	ring, err := w.AIRing()
	if err != nil {
		return d.replyError(core, "READ_FAILED", err.Error())
	}

	parts := make([]string, 0, 1+len(ring)*cache.Channels)
	parts = append(parts, msg.Parts[0])
	for _, row := range ring {
		for _, s := range row {
			parts = append(parts, strconv.FormatUint(uint64(s.Value), 10))
		}
	}
	return core.Send(protocol.TypeReadStatusRawAnalog, parts...)
}

func (d *Dispatcher) parseUint8(core *protocol.ConnectionCore, s string) (uint8, bool) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		d.replyError(core, "BAD_VALUE", s)
		return 0, false
	}
	return uint8(v), true
}

func (d *Dispatcher) handleSetStatus(core *protocol.ConnectionCore, msg *protocol.Message) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}
	bits, ok := d.parseUint8(core, msg.Parts[1])
	if !ok {
		return nil
	}
	w.SetDO(bits)
	return core.Send(protocol.TypeSetStatus, msg.Parts[0], "OK")
}

func (d *Dispatcher) handleSetPMICStatus(core *protocol.ConnectionCore, msg *protocol.Message) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}
	bits, ok := d.parseUint8(core, msg.Parts[1])
	if !ok {
		return nil
	}
	w.SetPMIC(bits)
	return core.Send(protocol.TypeSetPMICStatus, msg.Parts[0], "OK")
}

// handleSetCal parses 8 calibration values and applies them via set,
// shared between SET_L1_CAL_VALS and SET_L2_CAL_VALS.
func (d *Dispatcher) handleSetCal(core *protocol.ConnectionCore, msg *protocol.Message, set func(*serialio.Worker, [cache.Channels]uint16)) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}
	if len(msg.Parts) < 1+cache.Channels {
		return d.replyError(core, "ARITY", "calibration record needs 8 values")
	}

	var vals [cache.Channels]uint16
	for i := 0; i < cache.Channels; i++ {
		v, err := strconv.ParseUint(msg.Parts[1+i], 10, 16)
		if err != nil {
			return d.replyError(core, "BAD_VALUE", msg.Parts[1+i])
		}
		vals[i] = uint16(v)
	}
	set(w, vals)
	return core.Send(msg.Type, msg.Parts[0], "OK")
}

func (d *Dispatcher) handleForceAI(core *protocol.ConnectionCore, msg *protocol.Message) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}
	ch, err := strconv.Atoi(msg.Parts[1])
	if err != nil {
		return d.replyError(core, "BAD_VALUE", msg.Parts[1])
	}
	val, err := strconv.ParseUint(msg.Parts[2], 10, 16)
	if err != nil {
		return d.replyError(core, "BAD_VALUE", msg.Parts[2])
	}
	if err := w.ForceAI(ch, uint16(val)); err != nil {
		return d.replyError(core, errorCode(err), err.Error())
	}
	return core.Send(protocol.TypeForceAIValue, msg.Parts[0], msg.Parts[1], "OK")
}

func (d *Dispatcher) handleUnforceAI(core *protocol.ConnectionCore, msg *protocol.Message) error {
	w, ok := d.board(core, msg.Parts[0])
	if !ok {
		return nil
	}
	ch, err := strconv.Atoi(msg.Parts[1])
	if err != nil {
		return d.replyError(core, "BAD_VALUE", msg.Parts[1])
	}
	if err := w.UnforceAI(ch); err != nil {
		return d.replyError(core, errorCode(err), err.Error())
	}
	return core.Send(protocol.TypeUnforceAIValue, msg.Parts[0], msg.Parts[1], "OK")
}

func (d *Dispatcher) handleReadLogicStatus(core *protocol.ConnectionCore, msg *protocol.Message) error {
	if d.loop == nil {
		return core.Send(protocol.TypeReadLogicStatus)
	}
	snap := d.loop.Snapshot()
	parts := make([]string, 0, len(snap))
	for name, value := range snap {
		parts = append(parts, name+"="+value)
	}
	return core.Send(protocol.TypeReadLogicStatus, parts...)
}

func (d *Dispatcher) handleSetSP(core *protocol.ConnectionCore, msg *protocol.Message) error {
	name := msg.Parts[0]
	value, err := strconv.ParseFloat(msg.Parts[1], 64)
	if err != nil {
		return d.replyError(core, "BAD_VALUE", msg.Parts[1])
	}
	if err := d.cfg.SetSP(name, value); err != nil {
		return d.replyError(core, errorCode(err), err.Error())
	}
	return core.Send(protocol.TypeSetSP, name, "OK")
}

func errorCode(err error) string {
	if herr.Is(err, herr.CodeOutOfRange) {
		return "OUT_OF_RANGE"
	}
	if herr.Is(err, herr.CodeInvalidArgument) {
		return "INVALID_ARGUMENT"
	}
	return "ERROR"
}
