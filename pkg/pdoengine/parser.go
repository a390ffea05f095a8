package pdoengine

import (
	"math"

	"github.com/wujihand/wujihandgo/pkg/protocol"
)

// HandleFrame parses one inbound PDO frame's payload and updates the
// lock-free snapshot arrays, or forwards to the attached latency tester
// (§4.3). Unlike the SDO channel, a PDO frame carries exactly one payload
// shape selected by its read_id.
func (e *Engine) HandleFrame(frame []byte) {
	if len(frame) < protocol.HeaderSize {
		e.logger.Error("pdo frame shorter than header", "length", len(frame))
		return
	}
	buf := frame[protocol.HeaderSize:]

	header, err := protocol.ReadPDOHeader(buf)
	if err != nil {
		e.logger.Error("pdo header decode failed", "error", err)
		return
	}
	body := buf[protocol.PDOHeaderSize:]

	switch header.ReadID {
	case protocol.PDOReadIDPositionsOnly:
		e.handlePositionsOnly(body)

	case protocol.PDOReadIDPosCurErr:
		e.handlePosCurErr(body)

	case protocol.PDOReadIDLatencyTest:
		e.mu.Lock()
		tester := e.latencyTester
		e.mu.Unlock()
		if tester != nil {
			tester.handleResponse(body)
		}

	default:
		e.logger.Warn("unrecognized pdo read_id", "read_id", header.ReadID)
	}
}

func (e *Engine) handlePositionsOnly(body []byte) {
	positions, err := protocol.ReadPositionsOnly(body)
	if err != nil {
		e.logger.Error("positions-only pdo payload decode failed", "error", err)
		return
	}
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			e.positions[finger][joint].Store(positions[finger][joint])
		}
	}
	e.rxVersion.Add(1)
}

func (e *Engine) handlePosCurErr(body []byte) {
	joints, err := protocol.ReadPosCurErr(body)
	if err != nil {
		e.logger.Error("pos/cur/err pdo payload decode failed", "error", err)
		return
	}
	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			j := joints[finger][joint]
			e.positions[finger][joint].Store(j.Position)
			e.effortsIq[finger][joint].Store(math.Float32bits(j.IqAmps))
			e.errorCodes[finger][joint].Store(j.ErrorCode)
			e.monitors[finger][joint].Update(j.ErrorCode)
		}
	}
	e.rxVersion.Add(1)
}
