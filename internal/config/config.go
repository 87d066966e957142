// Package config implements the configuration store (C4): a tab-separated
// primary file plus a same-named .overlay file, typed point views, and
// runtime mutation of setpoints with dirty-tracking back into the overlay.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/logging"
)

// AISubtype distinguishes the two analog input signal conditioning paths.
type AISubtype int

const (
	AISubtypeCurrentLoop AISubtype = iota // 4-20mA current loop
	AISubtypeICTD                          // integrated-circuit temperature device
)

// TemperatureUnit is the display unit for an ICTD-subtype AI point.
type TemperatureUnit int

const (
	UnitCelsius TemperatureUnit = iota
	UnitFahrenheit
)

// BoardPoint describes a BOARD record: tag, device path, and whether the
// board's serial worker runs in debug mode (verbose wire logging).
type BoardPoint struct {
	Tag    string
	Device string
	Debug  bool
}

// DOPoint describes a DO record: a digital output on a board.
type DOPoint struct {
	Board       string
	Index       int
	Description string
}

// AIPoint describes an AI record: an analog input on a board, with its
// signal-conditioning subtype.
type AIPoint struct {
	Board       string
	Index       int
	Description string
	Subtype     AISubtype

	// Current-loop fields (Subtype == AISubtypeCurrentLoop).
	Min int
	Max int

	// ICTD fields (Subtype == AISubtypeICTD).
	Unit TemperatureUnit
}

// SetPoint describes an SP record: a persistent tunable value.
type SetPoint struct {
	Name  string
	Value float64
	dirty bool
}

// MapPoint describes a MAP record: the globally unique name the logic layer
// uses to refer to a board+index point.
type MapPoint struct {
	Name  string
	Board string
	Index int
	Type  string // "DO" or "AI"
}

// Store is the in-memory configuration store, backed by a primary file and
// an overlay file. Typed views returned by the accessor methods are stable
// for the lifetime of the Store: entries are mutated in place, never
// reallocated, so references taken by callers (e.g. a *SetPoint from
// SetPoints) remain valid across saves.
type Store struct {
	mu sync.RWMutex

	primaryPath string
	overlayPath string

	boards map[string]*BoardPoint
	dos    map[string]*DOPoint // keyed by "board\x00index"
	ais    map[string]*AIPoint
	sps    map[string]*SetPoint
	maps   map[string]*MapPoint

	log *logging.Logger
}

// New builds an empty Store. Use Load to populate it from disk.
func New(log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default()
	}
	return &Store{
		boards: make(map[string]*BoardPoint),
		dos:    make(map[string]*DOPoint),
		ais:    make(map[string]*AIPoint),
		sps:    make(map[string]*SetPoint),
		maps:   make(map[string]*MapPoint),
		log:    log,
	}
}

// Load parses the primary file at path and its overlay (path+".overlay"),
// creating the overlay if it does not yet exist. Malformed lines are logged
// and skipped, not fatal.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.primaryPath = path
	s.overlayPath = path + ".overlay"

	if err := s.parseFile(s.primaryPath, false); err != nil {
		return herr.Wrap("config.load", herr.CodeRuntimeError, err)
	}

	if _, err := os.Stat(s.overlayPath); os.IsNotExist(err) {
		f, err := os.OpenFile(s.overlayPath, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return herr.Wrap("config.load", herr.CodeRuntimeError, err)
		}
		f.Close()
	} else if err := s.parseFile(s.overlayPath, true); err != nil {
		return herr.Wrap("config.load", herr.CodeRuntimeError, err)
	}

	return nil
}

func (s *Store) parseFile(path string, overlay bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if err := s.parseRecord(line, overlay); err != nil {
			s.log.Warn("skipping malformed configuration line",
				"file", path, "line", lineNo, "error", err.Error())
		}
	}
	return scanner.Err()
}

// parseRecord parses one tab-separated record and installs it into the
// store. The fields after the type token go to the matching per-type
// parser; parseBoard reads its optional flags through the final field.
func (s *Store) parseRecord(line string, overlay bool) error {
	fields := strings.Split(line, "\t")
	if len(fields) < 2 {
		return fmt.Errorf("too few fields: %q", line)
	}
	kind := fields[0]
	rest := fields[1:]

	switch kind {
	case "BOARD":
		return s.parseBoard(rest)
	case "AI":
		return s.parseAI(rest)
	case "DO":
		return s.parseDO(rest)
	case "SP":
		return s.parseSP(rest, overlay)
	case "MAP":
		return s.parseMap(rest)
	default:
		return fmt.Errorf("unknown record type %q", kind)
	}
}

func (s *Store) parseBoard(f []string) error {
	if len(f) < 2 {
		return fmt.Errorf("BOARD needs tag and device, got %v", f)
	}
	bp := &BoardPoint{Tag: f[0], Device: f[1]}
	for i := 2; i < len(f); i++ {
		if f[i] == "DEBUG" {
			bp.Debug = true
		}
	}
	s.boards[bp.Tag] = bp
	return nil
}

func (s *Store) parseAI(f []string) error {
	if len(f) < 4 {
		return fmt.Errorf("AI needs at least 4 fields, got %v", f)
	}
	board := f[0]
	index, err := strconv.Atoi(f[1])
	if err != nil {
		return fmt.Errorf("AI index: %w", err)
	}
	desc := f[2]
	subtypeTok := f[3]

	ai := &AIPoint{Board: board, Index: index, Description: desc}
	switch subtypeTok {
	case "420":
		if len(f) < 6 {
			return fmt.Errorf("AI 420 needs min/max, got %v", f)
		}
		min, err := strconv.Atoi(f[4])
		if err != nil {
			return fmt.Errorf("AI min: %w", err)
		}
		max, err := strconv.Atoi(f[5])
		if err != nil {
			return fmt.Errorf("AI max: %w", err)
		}
		ai.Subtype = AISubtypeCurrentLoop
		ai.Min, ai.Max = min, max
	case "ICTD":
		if len(f) < 5 {
			return fmt.Errorf("AI ICTD needs unit, got %v", f)
		}
		ai.Subtype = AISubtypeICTD
		switch f[4] {
		case "C":
			ai.Unit = UnitCelsius
		case "F":
			ai.Unit = UnitFahrenheit
		default:
			return fmt.Errorf("unknown ICTD unit %q", f[4])
		}
	default:
		return fmt.Errorf("unknown AI subtype %q", subtypeTok)
	}

	s.ais[aiKey(board, index)] = ai
	return nil
}

func (s *Store) parseDO(f []string) error {
	if len(f) < 3 {
		return fmt.Errorf("DO needs board, index, description, got %v", f)
	}
	board := f[0]
	index, err := strconv.Atoi(f[1])
	if err != nil {
		return fmt.Errorf("DO index: %w", err)
	}
	s.dos[doKey(board, index)] = &DOPoint{Board: board, Index: index, Description: f[2]}
	return nil
}

func (s *Store) parseSP(f []string, overlay bool) error {
	if len(f) < 2 {
		return fmt.Errorf("SP needs name and value, got %v", f)
	}
	value, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return fmt.Errorf("SP value: %w", err)
	}
	if existing, ok := s.sps[f[0]]; ok && overlay {
		existing.Value = value
		existing.dirty = true
		return nil
	}
	s.sps[f[0]] = &SetPoint{Name: f[0], Value: value, dirty: overlay}
	return nil
}

func (s *Store) parseMap(f []string) error {
	if len(f) < 4 {
		return fmt.Errorf("MAP needs name, board, index, type, got %v", f)
	}
	index, err := strconv.Atoi(f[2])
	if err != nil {
		return fmt.Errorf("MAP index: %w", err)
	}
	s.maps[f[0]] = &MapPoint{Name: f[0], Board: f[1], Index: index, Type: f[3]}
	return nil
}

func aiKey(board string, index int) string { return board + "\x00" + strconv.Itoa(index) }
func doKey(board string, index int) string { return board + "\x00" + strconv.Itoa(index) }

// DOPoints returns the typed view of all DO points, keyed by the board tag
// and index joined with a NUL byte ("board\x00index").
func (s *Store) DOPoints() map[string]*DOPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*DOPoint, len(s.dos))
	for k, v := range s.dos {
		out[k] = v
	}
	return out
}

// AIPoints returns the typed view of all AI points, keyed by the board tag
// and index joined with a NUL byte ("board\x00index").
func (s *Store) AIPoints() map[string]*AIPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*AIPoint, len(s.ais))
	for k, v := range s.ais {
		out[k] = v
	}
	return out
}

// SPPoints returns the typed view of all setpoints, keyed by name.
func (s *Store) SPPoints() map[string]*SetPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*SetPoint, len(s.sps))
	for k, v := range s.sps {
		out[k] = v
	}
	return out
}

// BoardPoints returns the typed view of all boards, keyed by tag.
func (s *Store) BoardPoints() map[string]*BoardPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*BoardPoint, len(s.boards))
	for k, v := range s.boards {
		out[k] = v
	}
	return out
}

// AIPoint returns the AI point configured at board/index, if any. Used by
// the logic layer to resolve a mapped AI name's signal-conditioning
// subtype before converting its raw reading to engineering units.
func (s *Store) AIPoint(board string, index int) (*AIPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.ais[aiKey(board, index)]
	return p, ok
}

// DOPoint returns the DO point configured at board/index, if any.
func (s *Store) DOPoint(board string, index int) (*DOPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.dos[doKey(board, index)]
	return p, ok
}

// PointMap returns the name -> MapPoint view used by the logic layer to
// resolve board+index from a map name.
func (s *Store) PointMap() map[string]*MapPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*MapPoint, len(s.maps))
	for k, v := range s.maps {
		out[k] = v
	}
	return out
}

// SetSP mutates the in-memory setpoint and marks it dirty for the next
// Save. Fails with a not-found error if name is unknown.
func (s *Store) SetSP(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.sps[name]
	if !ok {
		return herr.Wrap("config.set_sp", herr.CodeInvalidArgument, herr.ErrNotFound)
	}
	sp.Value = value
	sp.dirty = true
	return nil
}

// SPValue returns the current value of setpoint name.
func (s *Store) SPValue(name string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.sps[name]
	if !ok {
		return 0, herr.Wrap("config.sp_value", herr.CodeInvalidArgument, herr.ErrNotFound)
	}
	return sp.Value, nil
}

// Save writes a complete overlay of all dirty setpoint entries.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlayPath == "" {
		return herr.New("config.save", herr.CodeRuntimeError, "store not loaded")
	}

	f, err := os.Create(s.overlayPath)
	if err != nil {
		return herr.Wrap("config.save", herr.CodeRuntimeError, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, sp := range s.sps {
		if !sp.dirty {
			continue
		}
		fmt.Fprintf(w, "SP\t%s\t%s\n", sp.Name, strconv.FormatFloat(sp.Value, 'g', -1, 64))
	}
	return w.Flush()
}
