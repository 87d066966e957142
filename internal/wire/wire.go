// Package wire implements the binary board protocol framing (§4.6.1, §6):
// outgoing commands and incoming binary responses exchanged with an I/O
// board over the serial line, marshaled/unmarshaled by hand the way the
// bbb-hvac wire structs always have been — fixed layout, no reflection.
package wire

import (
	"encoding/binary"

	"github.com/bbbhvac/hvaccore/internal/herr"
)

// OutgoingMarker and IncomingMarker are the leading bytes that distinguish
// a host-to-board command from a board-to-host binary response.
const (
	OutgoingMarker byte = '@'
	IncomingMarker byte = 0x10
)

// Command codes. The numeric values are the board firmware's own command
// IDs; only the subset this daemon issues is enumerated.
type Command uint8

const (
	CmdRefreshAI      Command = 0x01
	CmdRefreshDO      Command = 0x02
	CmdRefreshPMIC    Command = 0x03
	CmdRefreshCalL1   Command = 0x04
	CmdRefreshCalL2   Command = 0x05
	CmdRefreshBoot    Command = 0x06
	CmdSetDO          Command = 0x10
	CmdSetPMIC        Command = 0x11
	CmdSetCalL1       Command = 0x12
	CmdSetCalL2       Command = 0x13
	CmdReset          Command = 0x1F
)

// Status codes reported in an incoming response header.
type Status uint8

const (
	StatusOK    Status = 0x00
	StatusError Status = 0x01
)

// BuildCommand frames an outgoing command: marker, a reserved zero byte,
// big-endian payload length, command byte, then the payload.
//
//	@\x00<len_hi><len_lo><cmd>[<payload>]
func BuildCommand(cmd Command, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, OutgoingMarker, 0x00)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, byte(cmd))
	buf = append(buf, payload...)
	return buf
}

// Response is a parsed incoming binary command response.
type Response struct {
	Cmd     Command
	Status  Status
	Payload []byte
}

// ParseResponse parses a complete binary response record (marker already
// stripped by the reframer): {cmd_code, status, length hi/lo, payload}.
// Returns the number of bytes consumed from data, or an error if data does
// not yet contain a complete record.
func ParseResponse(data []byte) (*Response, int, error) {
	// data here is the record *after* the 0x10 marker.
	if len(data) < 4 {
		return nil, 0, herr.New("wire.parse_response", herr.CodeMessageUnderflow, "short binary header")
	}
	cmd := Command(data[0])
	status := Status(data[1])
	length := binary.BigEndian.Uint16(data[2:4])
	total := 4 + int(length)
	if len(data) < total {
		return nil, 0, herr.New("wire.parse_response", herr.CodeMessageUnderflow, "incomplete binary payload")
	}
	payload := make([]byte, length)
	copy(payload, data[4:total])
	return &Response{Cmd: cmd, Status: status, Payload: payload}, total, nil
}

// AISamples decodes an AI refresh response payload into u16 samples,
// big-endian, payload_len/2 of them as specified in §4.6.5; no cap at 8
// channels is applied here.
func AISamples(payload []byte) []uint16 {
	n := len(payload) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(payload[i*2 : i*2+2])
	}
	return out
}

// PackCalArray encodes 8 calibration values for a SET_CAL_L1/L2 payload,
// big-endian u16 each.
func PackCalArray(values [8]uint16) []byte {
	buf := make([]byte, 16)
	for i, v := range values {
		binary.BigEndian.PutUint16(buf[i*2:i*2+2], v)
	}
	return buf
}

// IsProtocolNotice reports whether a reassembled text line is a board
// protocol notice: its 5th byte (index 4) is 'P'.
func IsProtocolNotice(line []byte) bool {
	return len(line) >= 5 && line[4] == 'P'
}

// IsBootNotice reports whether a protocol notice line declares the board
// has (re)booted: the dot-separated tokens contain "IOCONTROLLER UP".
func IsBootNotice(line []byte) bool {
	return contains(line, []byte("IOCONTROLLER UP"))
}

func contains(haystack, needle []byte) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return true
		}
	}
	return false
}
