package serialio

import (
	"bytes"
	"testing"

	"github.com/bbbhvac/hvaccore/internal/wire"
)

func TestReframeBufferSplitsTextLines(t *testing.T) {
	r := newReframeBuffer()
	entries, err := r.feed([]byte("hello\r\nworld\n"))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 text entries, got %d", len(entries))
	}
	if entries[0].kind != entryText || string(entries[0].data) != "hello" {
		t.Fatalf("entry 0 = %+v, want text \"hello\"", entries[0])
	}
	if entries[1].kind != entryText || string(entries[1].data) != "world" {
		t.Fatalf("entry 1 = %+v, want text \"world\"", entries[1])
	}
}

func TestReframeBufferIgnoresEmptyRuns(t *testing.T) {
	r := newReframeBuffer()
	entries, err := r.feed([]byte("\r\n\r\n\n"))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries from back-to-back terminators, got %d", len(entries))
	}
}

func TestReframeBufferParsesCompleteBinaryRecord(t *testing.T) {
	// An incoming-shaped record: marker, cmd, status, len hi/lo, payload.
	record := []byte{wire.IncomingMarker, byte(wire.CmdRefreshAI), byte(wire.StatusOK), 0x00, 0x02, 0xAB, 0xCD}

	r := newReframeBuffer()
	entries, err := r.feed(record)
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(entries) != 1 || entries[0].kind != entryBinary {
		t.Fatalf("expected 1 binary entry, got %+v", entries)
	}
	if !bytes.Equal(entries[0].data, record) {
		t.Fatalf("entry data = %x, want %x", entries[0].data, record)
	}
}

func TestReframeBufferWaitsForIncompleteBinaryRecord(t *testing.T) {
	r := newReframeBuffer()
	partial := []byte{wire.IncomingMarker, byte(wire.CmdRefreshAI), byte(wire.StatusOK), 0x00, 0x02, 0xAB}
	entries, err := r.feed(partial)
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries while record is incomplete, got %d", len(entries))
	}

	entries, err = r.feed([]byte{0xCD})
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(entries) != 1 || entries[0].kind != entryBinary {
		t.Fatalf("expected the completed record to surface, got %+v", entries)
	}
}

func TestReframeBufferHandlesMixedBurst(t *testing.T) {
	r := newReframeBuffer()
	binary := []byte{wire.IncomingMarker, byte(wire.CmdRefreshDO), byte(wire.StatusOK), 0x00, 0x01, 0x0F}
	burst := append([]byte("NOTICE\n"), binary...)
	burst = append(burst, []byte("trailing\n")...)

	entries, err := r.feed(burst)
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].kind != entryText || string(entries[0].data) != "NOTICE" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[1].kind != entryBinary {
		t.Fatalf("entry 1 = %+v, want binary", entries[1])
	}
	if entries[2].kind != entryText || string(entries[2].data) != "trailing" {
		t.Fatalf("entry 2 = %+v", entries[2])
	}
}
