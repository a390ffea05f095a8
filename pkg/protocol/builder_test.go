package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujihand/wujihandgo/pkg/protocol"
)

type fakeSource struct {
	bufs [][]byte
}

func (s *fakeSource) RequestTransmitBuffer() ([]byte, bool) {
	if len(s.bufs) == 0 {
		return nil, false
	}
	buf := s.bufs[0]
	s.bufs = s.bufs[1:]
	return buf, true
}

type fakeTransmitter struct {
	frames [][]byte
}

func (t *fakeTransmitter) Transmit(buf []byte, length int) error {
	frame := make([]byte, length)
	copy(frame, buf[:length])
	t.frames = append(t.frames, frame)
	return nil
}

func TestBuilderFinalizeIsNoOpWithoutAllocate(t *testing.T) {
	source := &fakeSource{bufs: [][]byte{make([]byte, 64)}}
	tx := &fakeTransmitter{}
	b := protocol.NewBuilder(protocol.FrameTypeSDO, source, tx, nil)

	assert.False(t, b.Pending())
	require.NoError(t, b.Finalize())
	assert.Empty(t, tx.frames)
}

func TestBuilderAccumulatesMultipleAllocatesIntoOneFrame(t *testing.T) {
	source := &fakeSource{bufs: [][]byte{make([]byte, 64)}}
	tx := &fakeTransmitter{}
	b := protocol.NewBuilder(protocol.FrameTypeSDO, source, tx, nil)

	first, ok := b.Allocate(protocol.SDOReadRequestSize())
	require.True(t, ok)
	protocol.PutSDOReadRequest(first, 0x2000, 0x01)

	second, ok := b.Allocate(protocol.SDOReadRequestSize())
	require.True(t, ok)
	protocol.PutSDOReadRequest(second, 0x2001, 0x02)

	assert.True(t, b.Pending())
	require.NoError(t, b.Finalize())
	require.Len(t, tx.frames, 1)
	assert.False(t, b.Pending())

	frame := tx.frames[0]
	header, err := protocol.ReadSDOResponseHeader(frame[protocol.HeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2000), header.Index)

	secondHeader, err := protocol.ReadSDOResponseHeader(frame[protocol.HeaderSize+protocol.SDOReadRequestSize():])
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2001), secondHeader.Index)
}

func TestBuilderAllocateFailsWhenPoolExhausted(t *testing.T) {
	source := &fakeSource{}
	tx := &fakeTransmitter{}
	b := protocol.NewBuilder(protocol.FrameTypeSDO, source, tx, nil)

	_, ok := b.Allocate(protocol.SDOReadRequestSize())
	assert.False(t, ok)
	assert.EqualValues(t, 1, b.Dropped())
}
