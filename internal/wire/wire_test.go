package wire

import (
	"bytes"
	"testing"
)

func TestBuildCommandSetStatusMatchesWireExample(t *testing.T) {
	// SET_STATUS(BOARD1, 5) is framed as '@', a zero byte, a big-endian
	// length of 1, CmdSetDO, then the 0x05 payload.
	got := BuildCommand(CmdSetDO, []byte{0x05})
	want := []byte{'@', 0x00, 0x00, 0x01, byte(CmdSetDO), 0x05}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestParseResponseRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	record := []byte{byte(CmdRefreshAI), byte(StatusOK), 0x00, 0x04}
	record = append(record, payload...)

	resp, consumed, err := ParseResponse(record)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if consumed != len(record) {
		t.Fatalf("expected to consume %d bytes, got %d", len(record), consumed)
	}
	if resp.Cmd != CmdRefreshAI || resp.Status != StatusOK {
		t.Fatalf("unexpected cmd/status: %v/%v", resp.Cmd, resp.Status)
	}
	if !bytes.Equal(resp.Payload, payload) {
		t.Fatalf("expected payload %x, got %x", payload, resp.Payload)
	}
}

func TestParseResponseIncompleteReturnsUnderflow(t *testing.T) {
	record := []byte{byte(CmdRefreshAI), byte(StatusOK), 0x00, 0x04, 0x01}
	_, _, err := ParseResponse(record)
	if err == nil {
		t.Fatal("expected an error for an incomplete payload")
	}
}

func TestAISamplesDecodesPairs(t *testing.T) {
	payload := []byte{0x00, 0x01, 0x02, 0x00}
	samples := AISamples(payload)
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0] != 1 || samples[1] != 0x0200 {
		t.Fatalf("unexpected decoded samples: %v", samples)
	}
}

func TestPackCalArrayRoundTrip(t *testing.T) {
	values := [8]uint16{1, 2, 3, 4, 5, 6, 7, 8}
	buf := PackCalArray(values)
	decoded := AISamples(buf)
	for i, v := range values {
		if decoded[i] != v {
			t.Fatalf("channel %d: expected %d, got %d", i, v, decoded[i])
		}
	}
}

func TestIsProtocolNoticeChecksFifthByte(t *testing.T) {
	if !IsProtocolNotice([]byte("FROMP.IOCONTROLLER UP")) {
		t.Fatal("expected line with 'P' at index 4 to be a protocol notice")
	}
	if IsProtocolNotice([]byte("hello world")) {
		t.Fatal("did not expect plain text to be a protocol notice")
	}
}

func TestIsBootNoticeDetectsIOControllerUp(t *testing.T) {
	if !IsBootNotice([]byte("FROM.IOCONTROLLER.IOCONTROLLER UP")) {
		t.Fatal("expected boot notice to be detected")
	}
	if IsBootNotice([]byte("FROM.IOCONTROLLER.SOME OTHER EVENT")) {
		t.Fatal("did not expect unrelated notice to be detected as boot")
	}
}
