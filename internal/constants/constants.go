// Package constants collects the timing and sizing constants shared across
// the logic-core daemon's components. Values follow §3/§4 of the system
// specification; each constant documents the component that owns its
// meaning.
package constants

import "time"

// Lock & sleep primitive (C1).
const (
	// LockRetryAttempts bounds acquire() retries before giving up with a
	// LockError.
	LockRetryAttempts = 400

	// LockRetryMinJitter and LockRetryMaxJitter bound the sleep interval
	// between acquire() retries.
	LockRetryMinJitter = 1 * time.Microsecond
	LockRetryMaxJitter = 1 * time.Millisecond
)

// Watchdog (C3).
const (
	WatchdogPeriod       = 500 * time.Millisecond
	WatchdogStallIters   = 8 // ~4s of no reset() before SIGTERM
)

// Board state cache (C5).
const (
	// AIChannelsPerBoard is the fixed channel count per board for AI, DO
	// bit fields, and calibration tables.
	AIChannelsPerBoard = 8

	// DefaultCacheDepth is the default ring buffer depth for AI readings.
	DefaultCacheDepth = 16
)

// Serial I/O worker (C6).
const (
	DefaultBaudRate = 19200

	// ReaderPollTimeout is the poll(2) timeout used while draining the
	// serial fd.
	ReaderPollTimeout = 1 * time.Millisecond

	// EmptyPollsBeforeRefresh triggers an AI/DO/PMIC refresh burst after
	// this many consecutive empty polls.
	EmptyPollsBeforeRefresh = 250

	// EmptyPollsBeforeHang treats the board as hung after this many
	// consecutive empty polls and triggers close/reopen/reset.
	EmptyPollsBeforeHang = 1000

	// WriterQueueTimeout bounds how long the writer goroutine blocks
	// waiting for new outgoing messages before re-checking its abort flag.
	WriterQueueTimeout = 2 * time.Second

	// WriterRetryAttempts bounds bounded-retry writes to the serial fd.
	WriterRetryAttempts = 3

	// OutgoingQueueDepth is the default bounded capacity of a board's
	// outgoing write queue.
	OutgoingQueueDepth = 32

	// LineTableSlots and LineTableSlotSize size the per-board reassembly
	// table (§4.6.5).
	LineTableSlots   = 128
	LineTableSlotSize = 1024
)

// Message codec / connection context (C7/C8).
const (
	// ConnRingDepth is the default bounded capacity of a connection's
	// inbound/outbound message rings.
	ConnRingDepth = 32

	// SendRetryAttempts bounds bounded-retry writes to a client socket.
	SendRetryAttempts = 100

	// SelectBase and SelectDivider compose T_select = 1s + 1/5s.
	SelectBase    = 1 * time.Second
	SelectDivider = 5

	// KeepaliveTimeoutCount is the number of consecutive select timeouts
	// before keepalive bookkeeping runs (divider - 1 = 4).
	KeepaliveTimeoutCount = 4

	// MaxPingPongTimeout is the maximum age of an outstanding PING or the
	// last PONG before a connection is dropped.
	MaxPingPongTimeout = 5 * time.Second

	// SendAndWaitTimeout bounds the client-side request/response wait.
	SendAndWaitTimeout = 2 * time.Second

	// ProtocolMaxVersion is the highest protocol version this build
	// negotiates in HELLO.
	ProtocolMaxVersion = 1
)

// Listener (C10).
const (
	AcceptPollTimeout = 100 * time.Millisecond

	DefaultUnixSocketPath = "/tmp/bbb_hvac"
	DefaultTCPPort        = 6666
)

// HVAC logic loop (C11).
const (
	LogicLoopPeriod = 1 * time.Second

	// ConfigSaveEveryNIterations persists the configuration overlay every
	// N_save iterations.
	ConfigSaveEveryNIterations = 10

	// PMICResetWindow and MaxPMICResets bound the PMIC reset policy.
	PMICResetWindow = 60 * time.Second
	MaxPMICResets   = 3

	// AIFailureIterations is T_ai_fail: consecutive FLOAT_MIN readings
	// before a required AI input is considered failed.
	AIFailureIterations = 5

	VRefMax  = 5.0
	ADCSteps = 4096

	// CurrentLoopOhms is the sense resistor value used to convert a
	// 4-20mA current-loop voltage reading into milliamps.
	CurrentLoopOhms = 240.0

	// ICTDGainDivisor undoes the board's x10 op-amp gain stage.
	ICTDGainDivisor = 10.0
	// ICTDKelvinOffset converts Kelvin to Celsius.
	ICTDKelvinOffset = 273.15
)

// FloatMin is the sentinel reported for a 4-20mA input reading 0V (no
// sensor attached).
const FloatMin = -3.4e38

// Process supervisor (C12).
const (
	SupervisorTick        = 1 * time.Second
	WorkerStopGrace       = 1 * time.Second
	DefaultPIDFile        = "/tmp/bbb_hvac.pid"
	PIDFileMode           = 0600
)
