package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `# comment line
BOARD	BOARD1	/dev/ttyS0
AI	BOARD1	0	Space Temp	ICTD	C
AI	BOARD1	1	Supply Current	420	4	20
DO	BOARD1	0	Heater Relay
SP	SPACE TEMP	70
MAP	SPACE_1_TEMP	BOARD1	0	AI
MAP	AHU_HEATER	BOARD1	0	DO
not a valid record at all
`
	path := filepath.Join(dir, "hvac.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadParsesAllRecordTypes(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	s := New(nil)
	if err := s.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	boards := s.BoardPoints()
	if _, ok := boards["BOARD1"]; !ok {
		t.Fatal("expected BOARD1 to be loaded")
	}

	ais := s.AIPoints()
	ai0, ok := ais[aiKey("BOARD1", 0)]
	if !ok || ai0.Subtype != AISubtypeICTD || ai0.Unit != UnitCelsius {
		t.Fatalf("expected ICTD/Celsius AI on channel 0, got %+v", ai0)
	}
	ai1, ok := ais[aiKey("BOARD1", 1)]
	if !ok || ai1.Subtype != AISubtypeCurrentLoop || ai1.Min != 4 || ai1.Max != 20 {
		t.Fatalf("expected 4-20mA AI with min=4 max=20, got %+v", ai1)
	}

	dos := s.DOPoints()
	if _, ok := dos[doKey("BOARD1", 0)]; !ok {
		t.Fatal("expected DO point on BOARD1 channel 0")
	}

	sps := s.SPPoints()
	if sp, ok := sps["SPACE TEMP"]; !ok || sp.Value != 70 {
		t.Fatalf("expected SPACE TEMP=70, got %+v", sp)
	}

	pm := s.PointMap()
	if mp, ok := pm["SPACE_1_TEMP"]; !ok || mp.Board != "BOARD1" || mp.Index != 0 {
		t.Fatalf("expected SPACE_1_TEMP to map to BOARD1:0, got %+v", mp)
	}

	if _, err := os.Stat(path + ".overlay"); err != nil {
		t.Fatalf("expected overlay file to be created: %v", err)
	}
}

func TestSetSPAndSPValueRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	s := New(nil)
	if err := s.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := s.SetSP("SPACE TEMP", 72.5); err != nil {
		t.Fatalf("SetSP failed: %v", err)
	}
	v, err := s.SPValue("SPACE TEMP")
	if err != nil {
		t.Fatalf("SPValue failed: %v", err)
	}
	if v != 72.5 {
		t.Fatalf("expected 72.5, got %v", v)
	}
}

func TestSetSPMissingNameFails(t *testing.T) {
	s := New(nil)
	s.sps = make(map[string]*SetPoint)
	if err := s.SetSP("NO SUCH SP", 1.0); err == nil {
		t.Fatal("expected error for unknown setpoint name")
	}
}

func TestSaveWritesOnlyDirtyEntriesAndOverlayReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	s := New(nil)
	if err := s.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := s.SetSP("SPACE TEMP", 68); err != nil {
		t.Fatalf("SetSP failed: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := New(nil)
	if err := reloaded.Load(path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	v, err := reloaded.SPValue("SPACE TEMP")
	if err != nil {
		t.Fatalf("SPValue failed: %v", err)
	}
	if v != 68 {
		t.Fatalf("expected overlay to restore SPACE TEMP=68, got %v", v)
	}
}

func TestTypedViewsStableAcrossSave(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	s := New(nil)
	if err := s.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sps := s.SPPoints()
	ref := sps["SPACE TEMP"]
	if err := s.SetSP("SPACE TEMP", 55); err != nil {
		t.Fatalf("SetSP failed: %v", err)
	}
	if ref.Value != 55 {
		t.Fatal("expected previously taken reference to observe the mutation in place")
	}
}
