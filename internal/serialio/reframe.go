package serialio

import (
	"github.com/bbbhvac/hvaccore/internal/constants"
	"github.com/bbbhvac/hvaccore/internal/herr"
	"github.com/bbbhvac/hvaccore/internal/wire"
)

type entryKind int

const (
	entryBinary entryKind = iota
	entryText
)

// entry is one reassembled message handed from the reframer to digest:
// either a complete binary response record (marker included) or a
// terminated text line.
type entry struct {
	kind entryKind
	data []byte
}

// reframeBuffer implements the incremental reassembly state machine of
// the board's mixed binary/text stream: a single growing byte buffer
// scanned forward from a scan index, tracking where the current text run
// started. A fixed-size preallocated line table with blank-slot
// compaction would do the same job in C; a capped, periodically
// compacted slice is the natural Go shape for it.
type reframeBuffer struct {
	buf       []byte
	scanIdx   int
	textStart int
}

func newReframeBuffer() *reframeBuffer {
	return &reframeBuffer{buf: make([]byte, 0, constants.LineTableSlotSize*constants.LineTableSlots)}
}

// feed appends newly read bytes and returns every complete message that
// can now be reassembled, in arrival order. An incomplete trailing
// record is left in the buffer for the next call; it never blocks.
func (r *reframeBuffer) feed(data []byte) ([]entry, error) {
	if len(r.buf)+len(data) > cap(r.buf) {
		// Buffer overflow is a bug in practice (it implies the board is
		// producing faster than we drain, or a record claims an absurd
		// length): log and reset, accepting data loss rather than growing
		// without bound.
		r.buf = r.buf[:0]
		r.scanIdx, r.textStart = 0, 0
		return nil, herr.New("serialio.reframe", herr.CodeProtocolError, "reframe buffer overflow")
	}
	r.buf = append(r.buf, data...)
	writeIdx := len(r.buf)

	var out []entry
scan:
	for r.scanIdx < writeIdx && len(out) < constants.LineTableSlots {
		b := r.buf[r.scanIdx]
		switch {
		case b == wire.IncomingMarker:
			record, consumed, err := tryBinaryRecord(r.buf[r.scanIdx:writeIdx])
			if err != nil {
				// Incomplete record: wait for more bytes on the next poll.
				break scan
			}
			out = append(out, entry{kind: entryBinary, data: record})
			r.scanIdx += consumed
			r.textStart = r.scanIdx
		case b == '\n' || b == '\r':
			if r.scanIdx == r.textStart {
				r.scanIdx++
				r.textStart = r.scanIdx
			} else {
				line := make([]byte, r.scanIdx-r.textStart)
				copy(line, r.buf[r.textStart:r.scanIdx])
				out = append(out, entry{kind: entryText, data: line})
				r.scanIdx++
				r.textStart = r.scanIdx
			}
		default:
			r.scanIdx++
		}
	}

	if r.scanIdx >= writeIdx {
		r.buf = r.buf[:0]
		r.scanIdx, r.textStart = 0, 0
	} else if r.textStart > 0 {
		remaining := r.buf[r.textStart:writeIdx]
		copy(r.buf, remaining)
		r.buf = r.buf[:len(remaining)]
		r.scanIdx -= r.textStart
		r.textStart = 0
	}

	return out, nil
}

// tryBinaryRecord attempts to parse one complete binary response record
// starting at data[0] (the 0x10 marker). It returns the full record bytes
// (marker included) and how many bytes it consumed, or a MessageUnderflow
// error if data does not yet hold a complete record.
func tryBinaryRecord(data []byte) ([]byte, int, error) {
	if len(data) < 5 {
		return nil, 0, herr.New("serialio.reframe", herr.CodeMessageUnderflow, "short binary header")
	}
	_, consumed, err := wire.ParseResponse(data[1:])
	if err != nil {
		return nil, 0, err
	}
	total := 1 + consumed
	record := make([]byte, total)
	copy(record, data[:total])
	return record, total, nil
}
