package protocol

import "encoding/binary"

// LatencyTestSize is the payload size of a latency-test round trip frame:
// a single uint32 sequence/timestamp counter echoed back by the firmware.
const LatencyTestSize = 4

// PutLatencyTestRequest encodes a latency probe carrying seq.
func PutLatencyTestRequest(buf []byte, readID uint8, seq uint32) {
	buf[0] = 0x01
	buf[1] = readID
	binary.LittleEndian.PutUint32(buf[PDOHeaderSize:PDOHeaderSize+4], seq)
}

// ReadLatencyTestResult decodes the echoed sequence counter.
func ReadLatencyTestResult(buf []byte) (uint32, error) {
	if len(buf) < LatencyTestSize {
		return 0, errTruncated("latency test result")
	}
	return binary.LittleEndian.Uint32(buf[:4]), nil
}

func errTruncated(what string) error {
	return &truncatedError{what: what}
}

type truncatedError struct{ what string }

func (e *truncatedError) Error() string { return "protocol: " + e.what + " truncated" }
