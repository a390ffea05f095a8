package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionRoundTrip(t *testing.T) {
	for _, angle := range []float64{0, 1.5, -1.5, math.Pi, -math.Pi} {
		raw := ToRawPosition(angle)
		got := ExtractRawPosition(raw)
		assert.InDelta(t, angle, got, 1e-6)
	}
}

func TestPositionClampsOutOfRange(t *testing.T) {
	assert.Equal(t, int32(math.MaxInt32), ToRawPosition(1e9))
	assert.Equal(t, int32(math.MinInt32), ToRawPosition(-1e9))
}

func TestStoreLoadControlWord(t *testing.T) {
	unit := NewUnit(Descriptor{Policy: PolicyControlWord})

	StoreData(unit, Buffer8FromBool(true))
	assert.True(t, LoadData(unit).Bool())

	StoreData(unit, Buffer8FromBool(false))
	assert.False(t, LoadData(unit).Bool())
}

func TestStoreLoadPositionReversed(t *testing.T) {
	unit := NewUnit(Descriptor{Policy: PolicyPosition | PolicyPositionReversed})

	StoreData(unit, Buffer8FromFloat64(1.0))
	assert.InDelta(t, 1.0, LoadData(unit).Float64(), 1e-6)
}

func TestStoreLoadEffortLimit(t *testing.T) {
	unit := NewUnit(Descriptor{Policy: PolicyEffortLimit})

	StoreData(unit, Buffer8FromFloat64(2.5))
	assert.InDelta(t, 2.5, LoadData(unit).Float64(), 1e-6)
}

func TestStoreLoadPassthrough(t *testing.T) {
	unit := NewUnit(Descriptor{Policy: 0})
	StoreData(unit, Buffer8FromUint64(0xABCD))
	assert.EqualValues(t, 0xABCD, LoadData(unit).Uint64())
}

func TestTableLookupAfterInit(t *testing.T) {
	table := NewTable(4)
	require.NoError(t, table.Init(2, Descriptor{Index: 0x2100, SubIndex: 0x01, Size: Size4}))

	unit, ok := table.Lookup(0x2100, 0x01)
	require.True(t, ok)
	assert.Same(t, table.Get(2), unit)

	_, ok = table.Lookup(0x2100, 0x02)
	assert.False(t, ok)
}

func TestVersionStartsAtZeroAndSkipsOnWrap(t *testing.T) {
	unit := NewUnit(Descriptor{})
	assert.EqualValues(t, 0, unit.Version())

	unit.version.Store(math.MaxUint32)
	unit.bumpVersion()
	assert.EqualValues(t, 1, unit.Version())
}

func TestRawSDOPoolReadRoundTrip(t *testing.T) {
	pool := NewRawSDOPool()
	unit, err := pool.StartRead(0x2000, 0x01, time.Second)
	require.NoError(t, err)

	var sentIndex uint16
	var sentSub uint8
	pool.Tick(time.Now(), func(index uint16, sub uint8) {
		sentIndex, sentSub = index, sub
	}, nil)
	assert.Equal(t, uint16(0x2000), sentIndex)
	assert.Equal(t, uint8(0x01), sentSub)

	ok := pool.TryCompleteRead(0x2000, 0x01, []byte{0x42})
	assert.True(t, ok)

	result, err := unit.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x42}, result)
}

func TestRawSDOPoolTimesOut(t *testing.T) {
	pool := NewRawSDOPool()
	unit, err := pool.StartRead(0x2000, 0x01, -time.Second)
	require.NoError(t, err)

	pool.Tick(time.Now(), func(uint16, uint8) {}, nil)

	_, err = unit.Wait()
	assert.ErrorIs(t, err, ErrRawSDOTimeout)
}

func TestRawSDOPoolExhaustion(t *testing.T) {
	pool := NewRawSDOPool()
	for i := 0; i < RawSlotCount; i++ {
		_, err := pool.StartRead(0x2000, uint8(i), time.Second)
		require.NoError(t, err)
	}
	_, err := pool.StartRead(0x2000, 0xFF, time.Second)
	assert.ErrorIs(t, err, ErrNoRawSlot)
}
