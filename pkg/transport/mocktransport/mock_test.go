package mocktransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransmitDeliversScriptedReply(t *testing.T) {
	reply := []byte{0xAA, 0xBB}
	tr := New(func(frame []byte) [][]byte {
		assert.Equal(t, []byte{1, 2, 3}, frame)
		return [][]byte{reply}
	}, nil)

	var received []byte
	tr.SetReceiveHandler(func(frame []byte) { received = frame })

	buf, ok := tr.RequestTransmitBuffer()
	require.True(t, ok)
	copy(buf, []byte{1, 2, 3})

	require.NoError(t, tr.Transmit(buf, 3))
	assert.Equal(t, reply, received)
	assert.Len(t, tr.Sent(), 1)
}

func TestRequestTransmitBufferExhaustion(t *testing.T) {
	tr := New(nil, nil)
	var bufs [][]byte
	for {
		buf, ok := tr.RequestTransmitBuffer()
		if !ok {
			break
		}
		bufs = append(bufs, buf)
	}
	assert.Len(t, bufs, bufferCount)
}

func TestTransmitAfterCloseFails(t *testing.T) {
	tr := New(nil, nil)
	require.NoError(t, tr.Close())

	buf, ok := tr.RequestTransmitBuffer()
	require.True(t, ok)
	err := tr.Transmit(buf, 1)
	assert.Error(t, err)
}
