// Package protocol defines the wire layout of the frame, SDO and PDO
// payloads exchanged with the hand over the USB bulk endpoints. It holds
// only data shapes and (de)serialization helpers — no transport or engine
// behavior lives here.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wujihand/wujihandgo/internal/crc"
)

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

// Frame-level constants (§6).
const (
	Magic            uint16 = 0x55AA
	AddressHost      uint8  = 0x00
	AddressDevice    uint8  = 0xA0
	FrameTypeSDO     uint8  = 0x21
	FrameTypePDO     uint8  = 0x11
	MaxReceiveWindow uint16 = 0x100

	HeaderSize = 8
	CRCSize    = 2
	FrameUnit  = 16
)

// SDO control specifiers (§6).
const (
	SDOControlRead         uint8 = 0x30
	SDOControlWrite1       uint8 = 0x20
	SDOControlWrite2       uint8 = 0x22
	SDOControlWrite4       uint8 = 0x24
	SDOControlWrite8       uint8 = 0x28
	SDOControlReadOK1      uint8 = 0x35
	SDOControlReadOK2      uint8 = 0x37
	SDOControlReadOK4      uint8 = 0x39
	SDOControlReadOK8      uint8 = 0x3D
	SDOControlReadFailed   uint8 = 0x33
	SDOControlWriteOK      uint8 = 0x21
	SDOControlWriteFailed  uint8 = 0x23
	SDOControlPadding      uint8 = 0x00
	sdoReadRequestSize           = 4 // control + index + sub_index
	sdoHeaderSize                = 4 // control + index + sub_index (shared by all response shapes)
)

// PDO read identifiers (§4.3).
const (
	PDOReadIDPositionsOnly uint8 = 0x01
	PDOReadIDPosCurErr     uint8 = 0x02
	PDOReadIDLatencyTest   uint8 = 0xD0
)

// WidthForSDOWriteControl maps a write control byte back to its payload width.
func WidthForSDOWriteControl(control uint8) (int, bool) {
	switch control {
	case SDOControlWrite1:
		return 1, true
	case SDOControlWrite2:
		return 2, true
	case SDOControlWrite4:
		return 4, true
	case SDOControlWrite8:
		return 8, true
	default:
		return 0, false
	}
}

// SDOWriteControlForWidth returns the write control byte for a value width.
func SDOWriteControlForWidth(width int) (uint8, error) {
	switch width {
	case 1:
		return SDOControlWrite1, nil
	case 2:
		return SDOControlWrite2, nil
	case 4:
		return SDOControlWrite4, nil
	case 8:
		return SDOControlWrite8, nil
	default:
		return 0, fmt.Errorf("protocol: unsupported value width %d", width)
	}
}

// WidthForSDOReadOK maps a read-success control byte to its payload width.
func WidthForSDOReadOK(control uint8) (int, bool) {
	switch control {
	case SDOControlReadOK1:
		return 1, true
	case SDOControlReadOK2:
		return 2, true
	case SDOControlReadOK4:
		return 4, true
	case SDOControlReadOK8:
		return 8, true
	default:
		return 0, false
	}
}

// PutHeader writes the 8-byte frame header into buf[0:8].
func PutHeader(buf []byte, frameType uint8, frameLengthUnits uint16) {
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = AddressHost
	buf[3] = AddressDevice
	description := (MaxReceiveWindow&0x3FF)<<6 | ((frameLengthUnits - 1) & 0x3F)
	binary.BigEndian.PutUint16(buf[4:6], description)
	buf[6] = frameType
	buf[7] = 0x00
}

// HeaderType reads the frame type byte out of a received buffer.
func HeaderType(buf []byte) (uint8, error) {
	if len(buf) < HeaderSize {
		return 0, fmt.Errorf("protocol: header truncated: got %d bytes, need %d", len(buf), HeaderSize)
	}
	if got := binary.BigEndian.Uint16(buf[0:2]); got != Magic {
		return 0, fmt.Errorf("protocol: bad magic 0x%04X", got)
	}
	return buf[6], nil
}

// LengthUnitsFor returns the frame-length-in-16-byte-units field for a frame
// whose header+payload occupies size bytes, before the CRC trailer is added.
func LengthUnitsFor(size int) uint16 {
	withCRC := size + CRCSize
	return uint16((withCRC + FrameUnit - 1) / FrameUnit)
}

// PadAndCRC rounds size up to the next 16-byte unit, writes the CRC-16/CCITT
// of buf[:size] just after the payload, zeroes the remaining padding, and
// returns the total padded length plus the frame-length-in-units field.
func PadAndCRC(buf []byte, size int) (paddedLen int, lengthUnits uint16) {
	checksum := crc.Compute(buf[:size])
	lengthUnits = LengthUnitsFor(size)
	binary.BigEndian.PutUint16(buf[size:size+CRCSize], checksum)

	paddedLen = int(lengthUnits) * FrameUnit
	total := size + CRCSize
	for i := total; i < paddedLen; i++ {
		buf[i] = 0
	}
	return paddedLen, lengthUnits
}

// SDOReadRequestSize is the byte size of an SDO read request.
func SDOReadRequestSize() int { return sdoReadRequestSize }

// PutSDOReadRequest encodes a read request into buf[:4].
func PutSDOReadRequest(buf []byte, index uint16, subIndex uint8) {
	buf[0] = SDOControlRead
	binary.BigEndian.PutUint16(buf[1:3], index)
	buf[3] = subIndex
}

// SDOWriteRequestSize is the byte size of a write request of the given value width.
func SDOWriteRequestSize(width int) int { return sdoHeaderSize + width }

// PutSDOWriteRequest encodes a write request carrying width bytes of value
// (already in little-endian raw form) into buf.
func PutSDOWriteRequest(buf []byte, width int, index uint16, subIndex uint8, value uint64) error {
	control, err := SDOWriteControlForWidth(width)
	if err != nil {
		return err
	}
	buf[0] = control
	binary.BigEndian.PutUint16(buf[1:3], index)
	buf[3] = subIndex
	putLittleEndian(buf[4:4+width], value, width)
	return nil
}

func putLittleEndian(buf []byte, value uint64, width int) {
	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(buf, value)
	}
}

func getLittleEndian(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	case 8:
		return binary.LittleEndian.Uint64(buf)
	}
	return 0
}

// SDOResponseHeader is the shared {control, index, sub_index} prefix of
// every SDO response shape.
type SDOResponseHeader struct {
	Control  uint8
	Index    uint16
	SubIndex uint8
}

// ReadSDOResponseHeader decodes the shared response header at buf[:4].
func ReadSDOResponseHeader(buf []byte) (SDOResponseHeader, error) {
	if len(buf) < sdoHeaderSize {
		return SDOResponseHeader{}, fmt.Errorf("protocol: SDO response header truncated")
	}
	return SDOResponseHeader{
		Control:  buf[0],
		Index:    binary.BigEndian.Uint16(buf[1:3]),
		SubIndex: buf[3],
	}, nil
}

// ReadSDOValue decodes a read-success value payload of the given width
// appended right after the 4-byte header.
func ReadSDOValue(buf []byte, width int) (uint64, error) {
	if len(buf) < width {
		return 0, fmt.Errorf("protocol: SDO read value truncated: need %d, got %d", width, len(buf))
	}
	return getLittleEndian(buf[:width], width), nil
}

// SDOErrorCodeSize is the size of the trailing error code on a failure response.
const SDOErrorCodeSize = 4

// PDO frame sub-header (§4.3).
type PDOHeader struct {
	WriteID uint8
	ReadID  uint8
}

const PDOHeaderSize = 2

func ReadPDOHeader(buf []byte) (PDOHeader, error) {
	if len(buf) < PDOHeaderSize {
		return PDOHeader{}, fmt.Errorf("protocol: PDO header truncated")
	}
	return PDOHeader{WriteID: buf[0], ReadID: buf[1]}, nil
}

// PutPDOReadRequest encodes an upstream-poll PDO frame (write_id=0, read_id=1).
func PutPDOReadRequest(buf []byte) {
	buf[0] = 0x00
	buf[1] = PDOReadIDPositionsOnly
}

const PDOReadRequestSize = PDOHeaderSize

// PDOWritePayloadSize is the size of a target-position PDO write payload:
// header(2) + 20 int32 target positions(80) + timestamp uint32(4).
const PDOWritePayloadSize = PDOHeaderSize + 5*4*4 + 4

// PutPDOWriteRequest encodes the realtime target-position frame.
func PutPDOWriteRequest(buf []byte, readID uint8, targets [5][4]int32, timestampUs uint32) {
	buf[0] = 0x01
	buf[1] = readID
	offset := PDOHeaderSize
	for i := 0; i < 5; i++ {
		for j := 0; j < 4; j++ {
			binary.LittleEndian.PutUint32(buf[offset:offset+4], uint32(targets[i][j]))
			offset += 4
		}
	}
	binary.LittleEndian.PutUint32(buf[offset:offset+4], timestampUs)
}

// PositionsOnlySize is the payload size of a read_id=0x01 TPDO result.
const PositionsOnlySize = 5 * 4 * 4

// ReadPositionsOnly decodes a read_id=0x01 TPDO payload.
func ReadPositionsOnly(buf []byte) (positions [5][4]int32, err error) {
	if len(buf) < PositionsOnlySize {
		return positions, fmt.Errorf("protocol: positions-only PDO payload truncated")
	}
	offset := 0
	for i := 0; i < 5; i++ {
		for j := 0; j < 4; j++ {
			positions[i][j] = int32(binary.LittleEndian.Uint32(buf[offset : offset+4]))
			offset += 4
		}
	}
	return positions, nil
}

// JointPosCurErr is one joint's entry in a read_id=0x02 TPDO result.
type JointPosCurErr struct {
	Position  int32
	IqAmps    float32
	ErrorCode uint32
}

const jointPosCurErrSize = 12

// PosCurErrSize is the payload size of a read_id=0x02 TPDO result (20 joints).
const PosCurErrSize = jointPosCurErrSize * 5 * 4

// ReadPosCurErr decodes a read_id=0x02 TPDO payload.
func ReadPosCurErr(buf []byte) (joints [5][4]JointPosCurErr, err error) {
	if len(buf) < PosCurErrSize {
		return joints, fmt.Errorf("protocol: pos/cur/err PDO payload truncated")
	}
	offset := 0
	for i := 0; i < 5; i++ {
		for j := 0; j < 4; j++ {
			joints[i][j] = JointPosCurErr{
				Position:  int32(binary.LittleEndian.Uint32(buf[offset : offset+4])),
				IqAmps:    float32FromBits(binary.LittleEndian.Uint32(buf[offset+4 : offset+8])),
				ErrorCode: binary.LittleEndian.Uint32(buf[offset+8 : offset+12]),
			}
			offset += jointPosCurErrSize
		}
	}
	return joints, nil
}
