package sdoengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujihand/wujihandgo/pkg/latch"
	"github.com/wujihand/wujihandgo/pkg/protocol"
	"github.com/wujihand/wujihandgo/pkg/storage"
	"github.com/wujihand/wujihandgo/pkg/transport/mocktransport"
)

func newTestEngine(responder mocktransport.Responder) (*Engine, *mocktransport.Transport, *storage.Table) {
	mock := mocktransport.New(responder, nil)
	builder := protocol.NewBuilder(protocol.FrameTypeSDO, mock, mock, nil)
	table := storage.NewTable(4)
	pool := storage.NewRawSDOPool()
	engine := New(table, pool, builder, nil)
	mock.SetReceiveHandler(engine.HandleFrame)
	return engine, mock, table
}

// decodeOneRequest extracts the single SDO request this test cares about
// from a transmitted frame, skipping the 8-byte header.
func decodeOneRequest(frame []byte) (control uint8, index uint16, sub uint8) {
	payload := frame[protocol.HeaderSize:]
	header, _ := protocol.ReadSDOResponseHeader(payload)
	return header.Control, header.Index, header.SubIndex
}

func buildReadOKFrame(index uint16, sub uint8, width int, value uint64) []byte {
	control, _ := readOKControlForWidth(width)
	payload := make([]byte, 4+width)
	payload[0] = control
	payload[1] = byte(index >> 8)
	payload[2] = byte(index)
	payload[3] = sub
	for i := 0; i < width; i++ {
		payload[4+i] = byte(value >> (8 * uint(i)))
	}
	return wrapFrame(protocol.FrameTypeSDO, payload)
}

func buildWriteOKFrame(index uint16, sub uint8) []byte {
	payload := []byte{protocol.SDOControlWriteOK, byte(index >> 8), byte(index), sub}
	return wrapFrame(protocol.FrameTypeSDO, payload)
}

func wrapFrame(frameType uint8, payload []byte) []byte {
	buf := make([]byte, protocol.HeaderSize+len(payload)+protocol.CRCSize+protocol.FrameUnit)
	copy(buf[protocol.HeaderSize:], payload)
	total := protocol.HeaderSize + len(payload)
	lengthUnits := protocol.LengthUnitsFor(total)
	protocol.PutHeader(buf, frameType, lengthUnits)
	paddedLen, _ := protocol.PadAndCRC(buf, total)
	return buf[:paddedLen]
}

func readOKControlForWidth(width int) (uint8, bool) {
	switch width {
	case 1:
		return protocol.SDOControlReadOK1, true
	case 2:
		return protocol.SDOControlReadOK2, true
	case 4:
		return protocol.SDOControlReadOK4, true
	case 8:
		return protocol.SDOControlReadOK8, true
	default:
		return 0, false
	}
}

func TestReadAsyncCompletesOnReadSuccess(t *testing.T) {
	var mu sync.Mutex
	var sentControl uint8
	var sentIndex uint16
	var sentSub uint8

	engine, mock, table := newTestEngine(nil)
	mock.SetResponder(func(frame []byte) [][]byte {
		mu.Lock()
		sentControl, sentIndex, sentSub = decodeOneRequest(frame)
		mu.Unlock()
		return [][]byte{buildReadOKFrame(sentIndex, sentSub, 4, 0xDEADBEEF)}
	})

	require.NoError(t, table.Init(0, storage.Descriptor{Index: 0x2000, SubIndex: 0x01, Size: storage.Size4}))
	unit := table.Get(0)

	done := make(chan bool, 1)
	require.NoError(t, engine.ReadAsync(unit, time.Second, func(success bool) { done <- success }))

	now := time.Now()
	engine.tick(now)
	engine.tick(now)

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("read never completed")
	}

	mu.Lock()
	assert.Equal(t, protocol.SDOControlRead, sentControl)
	assert.Equal(t, uint16(0x2000), sentIndex)
	assert.Equal(t, uint8(0x01), sentSub)
	mu.Unlock()

	assert.EqualValues(t, 0xDEADBEEF, unit.RawValue())
	assert.EqualValues(t, 1, unit.Version())
}

func TestWriteAsyncConfirmsThenSucceeds(t *testing.T) {
	engine, mock, table := newTestEngine(nil)
	require.NoError(t, table.Init(0, storage.Descriptor{Index: 0x2100, SubIndex: 0x00, Size: storage.Size4}))
	unit := table.Get(0)

	step := 0
	mock.SetResponder(func(frame []byte) [][]byte {
		control, index, sub := decodeOneRequest(frame)
		step++
		switch step {
		case 1:
			assert.True(t, control == protocol.SDOControlWrite4)
			return [][]byte{buildWriteOKFrame(index, sub)}
		case 2:
			assert.Equal(t, protocol.SDOControlRead, control)
			return [][]byte{buildReadOKFrame(index, sub, 4, unit.RawValue())}
		}
		return nil
	})

	done := make(chan bool, 1)
	require.NoError(t, engine.WriteAsync(unit, storage.Buffer8FromUint64(0x1234), time.Second, func(success bool) { done <- success }))

	now := time.Now()
	for i := 0; i < 3; i++ {
		engine.tick(now)
	}

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}
	assert.Equal(t, 2, step)
}

func TestWriteAsyncRetriesOnMismatchedConfirm(t *testing.T) {
	engine, mock, table := newTestEngine(nil)
	require.NoError(t, table.Init(0, storage.Descriptor{Index: 0x2100, SubIndex: 0x00, Size: storage.Size4}))
	unit := table.Get(0)

	step := 0
	mock.SetResponder(func(frame []byte) [][]byte {
		_, index, sub := decodeOneRequest(frame)
		step++
		switch step {
		case 1:
			return [][]byte{buildWriteOKFrame(index, sub)}
		case 2:
			// Stale value: confirmation mismatches, engine must resend the write.
			return [][]byte{buildReadOKFrame(index, sub, 4, 0xFFFFFFFF)}
		case 3:
			return [][]byte{buildWriteOKFrame(index, sub)}
		case 4:
			return [][]byte{buildReadOKFrame(index, sub, 4, unit.RawValue())}
		}
		return nil
	})

	done := make(chan bool, 1)
	require.NoError(t, engine.WriteAsync(unit, storage.Buffer8FromUint64(0x5678), time.Second, func(success bool) { done <- success }))

	now := time.Now()
	for i := 0; i < 5; i++ {
		engine.tick(now)
	}

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}
	assert.Equal(t, 4, step)
}

func TestReadAsyncTimesOutWithoutResponse(t *testing.T) {
	engine, _, table := newTestEngine(nil)
	require.NoError(t, table.Init(0, storage.Descriptor{Index: 0x2200, SubIndex: 0x00, Size: storage.Size4}))
	unit := table.Get(0)

	done := make(chan bool, 1)
	require.NoError(t, engine.ReadAsync(unit, time.Millisecond, func(success bool) { done <- success }))

	engine.tick(time.Now())
	engine.tick(time.Now().Add(time.Second))

	select {
	case success := <-done:
		assert.False(t, success)
	case <-time.After(time.Second):
		t.Fatal("read never completed")
	}
}

func TestReadAsyncRejectsWhenAlreadyInFlight(t *testing.T) {
	engine, _, table := newTestEngine(nil)
	require.NoError(t, table.Init(0, storage.Descriptor{Index: 0x2300, SubIndex: 0x00, Size: storage.Size4}))
	unit := table.Get(0)

	require.NoError(t, engine.ReadAsync(unit, time.Second, func(bool) {}))
	err := engine.ReadAsync(unit, time.Second, func(bool) {})
	assert.ErrorIs(t, err, ErrOperationInFlight)
}

func TestMaskedUnitCompletesWithoutTransmitting(t *testing.T) {
	engine, mock, table := newTestEngine(nil)
	require.NoError(t, table.Init(0, storage.Descriptor{Index: 0x2400, SubIndex: 0x00, Size: storage.Size4, Policy: storage.PolicyMasked}))
	unit := table.Get(0)

	done := make(chan bool, 1)
	require.NoError(t, engine.WriteAsync(unit, storage.Buffer8FromUint64(1), time.Second, func(success bool) { done <- success }))

	engine.tick(time.Now())

	select {
	case success := <-done:
		assert.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("masked write never completed")
	}
	assert.Empty(t, mock.Sent())
}

func TestLatchBatchesMultipleReads(t *testing.T) {
	engine, mock, table := newTestEngine(nil)
	mock.SetResponder(func(frame []byte) [][]byte {
		// All pending reads go out batched in one frame; answer each of them.
		var replies [][]byte
		payload := frame[protocol.HeaderSize:]
		for len(payload) >= protocol.SDOReadRequestSize() && payload[0] == protocol.SDOControlRead {
			header, _ := protocol.ReadSDOResponseHeader(payload)
			replies = append(replies, buildReadOKFrame(header.Index, header.SubIndex, 4, uint64(header.Index)))
			payload = payload[protocol.SDOReadRequestSize():]
		}
		return replies
	})

	const n = 3
	for i := 0; i < n; i++ {
		require.NoError(t, table.Init(i, storage.Descriptor{Index: uint16(0x2500 + i), SubIndex: 0x00, Size: storage.Size4}))
	}

	l := latch.New(n)
	for i := 0; i < n; i++ {
		unit := table.Get(i)
		completer := latch.NewLatchCompleter(l)
		require.NoError(t, engine.ReadAsync(unit, time.Second, func(success bool) { completer.Complete(success) }))
	}

	now := time.Now()
	engine.tick(now)
	engine.tick(now)
	l.Wait()

	for i := 0; i < n; i++ {
		assert.EqualValues(t, 0x2500+i, table.Get(i).RawValue())
	}
}
