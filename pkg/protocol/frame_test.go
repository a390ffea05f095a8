package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	PutHeader(buf, FrameTypeSDO, 2)

	typ, err := HeaderType(buf)
	require.NoError(t, err)
	assert.Equal(t, FrameTypeSDO, typ)
}

func TestHeaderTypeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	_, err := HeaderType(buf)
	assert.Error(t, err)
}

func TestPadAndCRCPadsToSixteenBytes(t *testing.T) {
	buf := make([]byte, 64)
	PutSDOReadRequest(buf[HeaderSize:], 0x2100, 0x01)
	total := HeaderSize + SDOReadRequestSize()

	paddedLen, lengthUnits := PadAndCRC(buf, total)

	assert.Equal(t, 0, paddedLen%FrameUnit)
	assert.Equal(t, uint16(paddedLen/FrameUnit), lengthUnits)
	for i := total + CRCSize; i < paddedLen; i++ {
		assert.Equal(t, byte(0), buf[i], "padding byte %d must be zero", i)
	}
}

func TestSDOWriteRequestRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	err := PutSDOWriteRequest(buf, 4, 0x2003, 0x02, 0xDEADBEEF)
	require.NoError(t, err)

	header, err := ReadSDOResponseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, SDOControlWrite4, header.Control)
	assert.Equal(t, uint16(0x2003), header.Index)
	assert.Equal(t, uint8(0x02), header.SubIndex)

	value, err := ReadSDOValue(buf[4:], 4)
	require.NoError(t, err)
	assert.EqualValues(t, 0xDEADBEEF, value)
}

func TestSDOWriteControlForWidthRejectsUnsupported(t *testing.T) {
	_, err := SDOWriteControlForWidth(3)
	assert.Error(t, err)
}

func TestPositionsOnlyRoundTrip(t *testing.T) {
	buf := make([]byte, PositionsOnlySize)
	want := [5][4]int32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
		{17, 18, 19, 20},
	}
	// Encode directly since PutPDOWriteRequest encodes a write payload, not
	// the positions-only read result shape.
	offset := 0
	for i := range want {
		for j := range want[i] {
			b := want[i][j]
			buf[offset] = byte(b)
			buf[offset+1] = byte(b >> 8)
			buf[offset+2] = byte(b >> 16)
			buf[offset+3] = byte(b >> 24)
			offset += 4
		}
	}

	got, err := ReadPositionsOnly(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadPositionsOnlyTruncated(t *testing.T) {
	_, err := ReadPositionsOnly(make([]byte, 4))
	assert.Error(t, err)
}
