// Package cache implements the per-board state cache (C5): fixed-depth ring
// buffers of AI/DO/PMIC/calibration snapshots, with per-channel AI force
// override and level-1/level-2 calibration value packing.
package cache

import (
	"time"

	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
)

// Channels is the fixed AI/DO/cal channel count per board.
const Channels = constants.AIChannelsPerBoard

// Sample16 is a 16-bit value cache entry (AI reading, calibration value).
type Sample16 struct {
	Timestamp time.Time
	Value     uint16
}

// Sample8 is an 8-bit value cache entry (DO bits, PMIC bits).
type Sample8 struct {
	Timestamp time.Time
	Value     uint8
}

// aiRow holds one ring slot's worth of AI readings across all channels.
type aiRow [Channels]Sample16

// calRow holds one ring slot's worth of calibration values across all
// channels.
type calRow [Channels]Sample16

// BoardCache holds all ring buffers and override state for one board. All
// operations are O(1). The zero value is not usable; construct with New.
type BoardCache struct {
	depth int

	aiRing  []aiRow
	aiHead  int
	aiCol   int // next channel to be written within the head row, 0..7

	doRing []Sample8
	doHead int

	pmicRing []Sample8
	pmicHead int

	calL1Ring []calRow
	calL1Head int
	calL2Ring []calRow
	calL2Head int

	bootCount uint32

	forced      [Channels]bool
	forcedValue [Channels]uint16
}

// New builds a BoardCache with the given ring depth (typically
// constants.DefaultCacheDepth).
func New(depth int) *BoardCache {
	if depth <= 0 {
		depth = constants.DefaultCacheDepth
	}
	return &BoardCache{
		depth:     depth,
		aiRing:    make([]aiRow, depth),
		doRing:    make([]Sample8, depth),
		pmicRing:  make([]Sample8, depth),
		calL1Ring: make([]calRow, depth),
		calL2Ring: make([]calRow, depth),
	}
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= Channels {
		return herr.ErrChannelOutOfRange
	}
	return nil
}

// AddAI writes a new AI reading for channel ch at the current write head.
// If the channel is forced, the previous slot's forced value is copied
// forward with a fresh timestamp instead of the live reading. The ring
// advances to the next slot only once channel 7 (the last channel) has
// been written, so a full 8-channel scan produces exactly one ring
// advance.
func (c *BoardCache) AddAI(ch int, value uint16) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	now := time.Now()

	if c.forced[ch] {
		value = c.forcedValue[ch]
	}
	c.aiRing[c.aiHead][ch] = Sample16{Timestamp: now, Value: value}

	if ch == Channels-1 {
		c.aiHead = (c.aiHead + 1) % c.depth
	}
	return nil
}

// prevAIRow returns the index of the ring slot just behind the write head
// (the most recently completed row).
func (c *BoardCache) prevAIRow() int {
	return (c.aiHead - 1 + c.depth) % c.depth
}

// ForceAI overrides channel ch to value, visible on the next read. Forcing
// writes into the previous ring slot directly so LatestAI reflects it
// immediately, without waiting for the next full scan.
func (c *BoardCache) ForceAI(ch int, value uint16) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	c.forced[ch] = true
	c.forcedValue[ch] = value
	c.aiRing[c.prevAIRow()][ch] = Sample16{Timestamp: time.Now(), Value: value}
	return nil
}

// UnforceAI clears the force override for channel ch. The next live AI
// sample for that channel is reported normally.
func (c *BoardCache) UnforceAI(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	c.forced[ch] = false
	return nil
}

// IsForced reports whether channel ch currently has a force override.
func (c *BoardCache) IsForced(ch int) (bool, error) {
	if err := checkChannel(ch); err != nil {
		return false, err
	}
	return c.forced[ch], nil
}

// LatestAI returns a snapshot of the most recently completed AI row (8
// channels). The returned slice is a copy: callers may not alias the
// cache's internal ring storage.
func (c *BoardCache) LatestAI() [Channels]Sample16 {
	return c.aiRing[c.prevAIRow()]
}

// AIRing returns the entire AI ring in scan order (oldest to newest), for
// READ_STATUS_RAW_ANALOG. The returned slice is a fresh copy.
func (c *BoardCache) AIRing() []aiRow {
	out := make([]aiRow, c.depth)
	for i := 0; i < c.depth; i++ {
		out[i] = c.aiRing[(c.aiHead+i)%c.depth]
	}
	return out
}

// AddDO records a new DO snapshot and advances the DO ring.
func (c *BoardCache) AddDO(bits uint8) {
	c.doRing[c.doHead] = Sample8{Timestamp: time.Now(), Value: bits}
	c.doHead = (c.doHead + 1) % c.depth
}

// LatestDO returns the most recently written DO snapshot.
func (c *BoardCache) LatestDO() Sample8 {
	return c.doRing[(c.doHead-1+c.depth)%c.depth]
}

// AddPMIC records a new PMIC snapshot and advances the PMIC ring.
func (c *BoardCache) AddPMIC(bits uint8) {
	c.pmicRing[c.pmicHead] = Sample8{Timestamp: time.Now(), Value: bits}
	c.pmicHead = (c.pmicHead + 1) % c.depth
}

// LatestPMIC returns the most recently written PMIC snapshot.
func (c *BoardCache) LatestPMIC() Sample8 {
	return c.pmicRing[(c.pmicHead-1+c.depth)%c.depth]
}

// AddCalL1 records a new level-1 calibration row and advances the ring.
func (c *BoardCache) AddCalL1(values [Channels]uint16) {
	now := time.Now()
	var row calRow
	for i, v := range values {
		row[i] = Sample16{Timestamp: now, Value: v}
	}
	c.calL1Ring[c.calL1Head] = row
	c.calL1Head = (c.calL1Head + 1) % c.depth
}

// LatestCalL1 returns the most recently written level-1 calibration row.
func (c *BoardCache) LatestCalL1() calRow {
	return c.calL1Ring[(c.calL1Head-1+c.depth)%c.depth]
}

// AddCalL2 records a new level-2 calibration row and advances the ring.
func (c *BoardCache) AddCalL2(values [Channels]uint16) {
	now := time.Now()
	var row calRow
	for i, v := range values {
		row[i] = Sample16{Timestamp: now, Value: v}
	}
	c.calL2Ring[c.calL2Head] = row
	c.calL2Head = (c.calL2Head + 1) % c.depth
}

// LatestCalL2 returns the most recently written level-2 calibration row.
func (c *BoardCache) LatestCalL2() calRow {
	return c.calL2Ring[(c.calL2Head-1+c.depth)%c.depth]
}

// SetBootCount overwrites the monotonically increasing boot counter reported
// by the board.
func (c *BoardCache) SetBootCount(n uint32) {
	c.bootCount = n
}

// BootCount returns the last-reported boot counter.
func (c *BoardCache) BootCount() uint32 {
	return c.bootCount
}

// PackCal encodes a signed calibration adjustment into the board's u16 wire
// format: a positive adjustment occupies the high byte ("adds"), a negative
// adjustment's magnitude occupies the low byte ("subtracts"); the two are
// never both nonzero.
func PackCal(adjustment int16) uint16 {
	if adjustment >= 0 {
		return uint16(adjustment) << 8
	}
	return uint16(-adjustment) & 0xFF
}

// UnpackCal decodes a calibration u16 back into its signed adjustment.
func UnpackCal(packed uint16) int16 {
	high := int16(packed >> 8)
	low := int16(packed & 0xFF)
	if high != 0 {
		return high
	}
	return -low
}
