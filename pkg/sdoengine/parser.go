package sdoengine

import (
	"github.com/wujihand/wujihandgo/pkg/protocol"
	"github.com/wujihand/wujihandgo/pkg/storage"
)

// HandleFrame parses one inbound SDO frame's payload (frame[protocol.HeaderSize:])
// and walks its back-to-back responses until it runs out of bytes, hits
// zero padding, or finds a control byte it doesn't recognize (§4.3). The CRC
// trailer has no reserved marker of its own; it is expected to either look
// like zero padding or to fail every known control-byte shape, at which
// point the remainder of the frame — CRC and padding alike — is dropped.
func (e *Engine) HandleFrame(frame []byte) {
	if len(frame) < protocol.HeaderSize {
		e.logger.Error("sdo frame shorter than header", "length", len(frame))
		return
	}
	buf := frame[protocol.HeaderSize:]

	for len(buf) > 0 {
		control := buf[0]

		if control == protocol.SDOControlPadding {
			return
		}

		if width, ok := protocol.WidthForSDOReadOK(control); ok {
			need := 4 + width
			if len(buf) < need {
				e.logger.Error("sdo read-success response truncated", "have", len(buf), "need", need)
				return
			}
			header, err := protocol.ReadSDOResponseHeader(buf)
			if err != nil {
				e.logger.Error("sdo response header decode failed", "error", err)
				return
			}
			value, err := protocol.ReadSDOValue(buf[4:], width)
			if err != nil {
				e.logger.Error("sdo read value decode failed", "error", err)
				return
			}
			e.handleReadSuccess(header.Index, header.SubIndex, value, width)
			buf = buf[need:]
			continue
		}

		switch control {
		case protocol.SDOControlReadFailed:
			need := 4 + protocol.SDOErrorCodeSize
			if len(buf) < need {
				e.logger.Error("sdo read-failure response truncated", "have", len(buf), "need", need)
				return
			}
			buf = buf[need:]

		case protocol.SDOControlWriteOK:
			if len(buf) < 4 {
				e.logger.Error("sdo write-success response truncated", "have", len(buf))
				return
			}
			header, err := protocol.ReadSDOResponseHeader(buf)
			if err != nil {
				e.logger.Error("sdo response header decode failed", "error", err)
				return
			}
			e.handleWriteSuccess(header.Index, header.SubIndex)
			buf = buf[4:]

		case protocol.SDOControlWriteFailed:
			need := 4 + protocol.SDOErrorCodeSize
			if len(buf) < need {
				e.logger.Error("sdo write-failure response truncated", "have", len(buf), "need", need)
				return
			}
			buf = buf[need:]

		default:
			e.logger.Error("unrecognized sdo control byte, dropping remainder", "control", control)
			return
		}
	}
}

// handleReadSuccess routes a successful read response first to the raw SDO
// pool, falling back to the registered storage unit (§4.3.1): the raw pool
// is consulted first because a raw debug request targets a (index, sub) pair
// that may or may not also be a registered object.
func (e *Engine) handleReadSuccess(index uint16, sub uint8, value uint64, width int) {
	raw := make([]byte, width)
	for i := 0; i < width; i++ {
		raw[i] = byte(value >> (8 * uint(i)))
	}
	if e.rawPool.TryCompleteRead(index, sub, raw) {
		return
	}

	unit, ok := e.table.Lookup(index, sub)
	if !ok {
		return
	}
	op := unit.LoadOperation()
	switch op.State {
	case storage.StateReading:
		unit.StoreRaw(value)
		unit.BumpVersion()
		op.State = storage.StateSuccess
		unit.StoreOperation(op)

	case storage.StateWritingConfirming:
		if value == unit.RawValue() {
			op.State = storage.StateSuccess
		} else {
			op.State = storage.StateWriting
		}
		unit.StoreOperation(op)
	}
}

// handleWriteSuccess routes a successful write-acknowledge response first to
// the raw SDO pool, falling back to the registered storage unit. A
// registered unit's tick already advanced WRITING to WRITING_CONFIRMING at
// the moment it sent the write (§4.4 step 7), so by the time this ack
// arrives the state is normally already WRITING_CONFIRMING and this is a
// no-op for it; the write-verify read that follows is what actually decides
// success. Raw SDO writes have no confirm phase, so for them this response
// is the real completion signal (handled by TryCompleteWrite above).
func (e *Engine) handleWriteSuccess(index uint16, sub uint8) {
	if e.rawPool.TryCompleteWrite(index, sub) {
		return
	}

	unit, ok := e.table.Lookup(index, sub)
	if !ok {
		return
	}
	op := unit.LoadOperation()
	if op.State == storage.StateWriting {
		op.State = storage.StateSuccess
		unit.StoreOperation(op)
	}
}
