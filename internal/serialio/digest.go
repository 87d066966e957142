package serialio

import (
	"encoding/binary"

	"github.com/bbbhvac/hvaccore/internal/cache"
	"github.com/bbbhvac/hvaccore/internal/wire"
)

// digest applies one batch of freshly reassembled entries against the
// board cache, dispatching on the wire command and recognizing boot
// notices. It reports whether any entry in the batch was a boot notice.
func (w *Worker) digest(entries []entry) (bootSeen bool) {
	for _, e := range entries {
		switch e.kind {
		case entryBinary:
			w.digestBinary(e.data)
		case entryText:
			if wire.IsProtocolNotice(e.data) && wire.IsBootNotice(e.data) {
				bootSeen = true
			}
		}
	}
	return bootSeen
}

// digestBinary applies one complete binary response record (marker
// included). Set-commands and reset produce no processable payload.
func (w *Worker) digestBinary(record []byte) {
	resp, _, err := wire.ParseResponse(record[1:])
	if err != nil {
		w.log.WithError(err).Warn("dropping unparsable binary record")
		return
	}

	err = w.withCache(func(c *cache.BoardCache) error {
		switch resp.Cmd {
		case wire.CmdRefreshAI:
			for ch, v := range wire.AISamples(resp.Payload) {
				if aerr := c.AddAI(ch, v); aerr != nil {
					return aerr
				}
			}
		case wire.CmdRefreshDO:
			if len(resp.Payload) >= 1 {
				c.AddDO(resp.Payload[0])
			}
		case wire.CmdRefreshPMIC:
			if len(resp.Payload) >= 1 {
				c.AddPMIC(resp.Payload[0])
			}
		case wire.CmdRefreshCalL1:
			c.AddCalL1(decodeCalRow(resp.Payload))
		case wire.CmdRefreshCalL2:
			c.AddCalL2(decodeCalRow(resp.Payload))
		case wire.CmdRefreshBoot:
			if len(resp.Payload) >= 4 {
				c.SetBootCount(binary.BigEndian.Uint32(resp.Payload))
			}
		case wire.CmdSetDO, wire.CmdSetPMIC, wire.CmdSetCalL1, wire.CmdSetCalL2, wire.CmdReset:
			// Acknowledgement only.
		}
		return nil
	})
	if err != nil {
		w.log.WithError(err).Warn("failed to apply binary record to cache")
	}
}

func decodeCalRow(payload []byte) [cache.Channels]uint16 {
	var row [cache.Channels]uint16
	samples := wire.AISamples(payload)
	for i := 0; i < len(samples) && i < cache.Channels; i++ {
		row[i] = samples[i]
	}
	return row
}
