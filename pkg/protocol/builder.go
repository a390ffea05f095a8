package protocol

import (
	"log/slog"
	"sync/atomic"
)

// BufferSource requests a pooled transmit buffer from the transport layer.
// The returned slice is owned by the transport until Transmit is called or
// the Builder discards it.
type BufferSource interface {
	RequestTransmitBuffer() ([]byte, bool)
}

// Transmitter sends a previously allocated buffer, of which only the first
// length bytes are valid.
type Transmitter interface {
	Transmit(buf []byte, length int) error
}

// Builder assembles one outbound frame at a time: Allocate reserves a
// transport buffer and returns the payload region after the 8-byte header,
// the caller fills it in, Finalize stamps the header, appends the CRC
// trailer and pads to a 16-byte multiple before handing the frame to the
// transmitter.
//
// A Builder is not safe for concurrent use and has no lock of its own. The
// SDO builder is touched only by the SDO tick goroutine; the PDO builder
// only by whichever of the realtime loop or the latency tester is attached.
type Builder struct {
	frameType uint8
	source    BufferSource
	tx        Transmitter
	logger    *slog.Logger
	dropped   atomic.Uint64

	buf    []byte
	cursor int
}

// NewBuilder constructs a frame builder for the given frame type (FrameTypeSDO
// or FrameTypePDO).
func NewBuilder(frameType uint8, source BufferSource, tx Transmitter, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{frameType: frameType, source: source, tx: tx, logger: logger}
}

// Allocate reserves want more bytes of payload in the frame under
// construction, appending after anything already allocated since the last
// Finalize — a single tick typically calls Allocate once per pending
// request and Finalize once to flush the whole batch as one frame. If the
// running total no longer fits the buffer already in hand, it finalizes
// that buffer (flushing whatever was allocated into it so far) and starts a
// fresh one for want, rather than dropping the request. Returns false only
// if a fresh buffer is needed but the pool is exhausted, a freshly
// requested buffer still can't hold want on its own, or the rollover
// Finalize fails, in each case incrementing the drop counter.
func (b *Builder) Allocate(want int) ([]byte, bool) {
	if b.buf == nil {
		buf, ok := b.source.RequestTransmitBuffer()
		if !ok {
			b.dropped.Add(1)
			b.logger.Warn("transmit buffer pool exhausted, frame dropped", "frame_type", b.frameType)
			return nil, false
		}
		b.buf = buf
		b.cursor = 0
	}
	if need := HeaderSize + b.cursor + want + CRCSize; len(b.buf) < need {
		if b.cursor == 0 {
			b.dropped.Add(1)
			b.logger.Error("transmit buffer too small for frame", "need", need, "have", len(b.buf))
			return nil, false
		}
		if err := b.Finalize(); err != nil {
			b.dropped.Add(1)
			b.logger.Error("frame rollover finalize failed", "error", err)
			return nil, false
		}
		return b.Allocate(want)
	}
	start := HeaderSize + b.cursor
	b.cursor += want
	return b.buf[start : start+want], true
}

// Pending reports whether a buffer is currently allocated and awaiting
// Finalize.
func (b *Builder) Pending() bool { return b.buf != nil }

// Finalize stamps the header, CRC and padding over the allocated buffer and
// hands it to the transmitter. A no-op if nothing has been allocated since
// the last Finalize.
func (b *Builder) Finalize() error {
	if b.buf == nil {
		return nil
	}
	total := HeaderSize + b.cursor
	lengthUnits := LengthUnitsFor(total)
	PutHeader(b.buf, b.frameType, lengthUnits)
	paddedLen, _ := PadAndCRC(b.buf, total)
	buf := b.buf
	b.buf = nil
	return b.tx.Transmit(buf, paddedLen)
}

// Dropped returns the cumulative number of frames dropped due to buffer
// exhaustion or undersized pooled buffers.
func (b *Builder) Dropped() uint64 { return b.dropped.Load() }
