// Package protocol implements the client-facing message codec (C7) and
// connection core (C8): a framed length-prefixed text protocol over a
// Unix-domain or TCP socket, with HELLO negotiation and PING/PONG
// keepalive.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bbbhvac/hvaccore/internal/herr"
)

// Type enumerates every protocol message type understood by the daemon and
// its reference client.
type Type string

const (
	TypeHello              Type = "HELLO"
	TypePing               Type = "PING"
	TypePong               Type = "PONG"
	TypeGetLabels          Type = "GET_LABELS"
	TypeReadStatus         Type = "READ_STATUS"
	TypeReadStatusRawAnalog Type = "READ_STATUS_RAW_ANALOG"
	TypeSetStatus          Type = "SET_STATUS"
	TypeSetPMICStatus      Type = "SET_PMIC_STATUS"
	TypeSetL1CalVals       Type = "SET_L1_CAL_VALS"
	TypeSetL2CalVals       Type = "SET_L2_CAL_VALS"
	TypeForceAIValue       Type = "FORCE_AI_VALUE"
	TypeUnforceAIValue     Type = "UNFORCE_AI_VALUE"
	TypeReadLogicStatus    Type = "READ_LOGIC_STATUS"
	TypeSetSP              Type = "SET_SP"
	TypeError              Type = "ERROR"
)

// minArity is the minimum number of parts (excluding the type token itself)
// each message type requires. Types not listed here are unknown to the
// codec and are rejected during Parse. SET_CAL_L1/L2 and GET_LABELS arities
// follow the message type enum in the original logic library's
// message_lib.cpp, which the distilled spec elides behind "…".
var minArity = map[Type]int{
	TypeHello:               2,
	TypePing:                0,
	TypePong:                0,
	TypeGetLabels:           2,
	TypeReadStatus:          1,
	TypeReadStatusRawAnalog: 1,
	TypeSetStatus:           2,
	TypeSetPMICStatus:       2,
	TypeSetL1CalVals:        1,
	TypeSetL2CalVals:        1,
	TypeForceAIValue:        3,
	TypeUnforceAIValue:      2,
	TypeReadLogicStatus:     0,
	TypeSetSP:               2,
	TypeError:               2,
}

// Message is a single parsed protocol message: its type, ordered string
// parts, and the three lifecycle timestamps.
type Message struct {
	Type  Type
	Parts []string

	Created  time.Time
	Sent     time.Time
	Received time.Time
}

// Parse reads one complete line (including its trailing newline) and
// returns the decoded Message. It verifies the leading length field
// against the actual line length, splits on '|', validates the type is
// known, and checks arity.
func Parse(line []byte) (*Message, error) {
	s := string(line)
	parts := strings.Split(strings.TrimRight(s, "\r\n"), "|")
	if len(parts) < 2 {
		return nil, herr.ErrArityMismatch
	}

	declaredLen, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, herr.Wrap("protocol.parse", herr.CodeProtocolError, err)
	}
	if declaredLen != len(s) {
		return nil, herr.ErrLengthMismatch
	}

	typ := Type(parts[1])
	want, known := minArity[typ]
	if !known {
		return nil, herr.ErrUnknownType
	}

	rest := parts[2:]
	if len(rest) < want {
		return nil, herr.ErrArityMismatch
	}

	return &Message{
		Type:    typ,
		Parts:   rest,
		Created: time.Now(),
	}, nil
}

// Build serializes typ and parts into a complete wire line, computing the
// leading length with the two-pass technique: guess the length field's
// digit width, compute the total, then re-check the digit width against
// that total — the length prefix, the "|" separator, the body, and the
// trailing newline all contribute to the very count the prefix encodes.
// The check repeats until the width is stable; a tail of 98 bytes takes
// three passes (totals 99, 101, then 101 confirmed at width three).
func Build(typ Type, parts ...string) string {
	body := string(typ)
	for _, p := range parts {
		body += "|" + p
	}
	// tail = "|" + body + "\n"
	tailLen := 1 + len(body) + 1

	width := 1
	for {
		total := width + tailLen
		if digitWidth(total) == width {
			return fmt.Sprintf("%d|%s\n", total, body)
		}
		width = digitWidth(total)
	}
}

func digitWidth(n int) int {
	if n == 0 {
		return 1
	}
	w := 0
	for n > 0 {
		w++
		n /= 10
	}
	return w
}
