// Package mocktransport is an in-memory, loopback stand-in for the real USB
// link, used by engine and handler tests to script deterministic device
// replies without any hardware. Modeled on the teacher's TCP-loopback
// virtual CAN bus.
package mocktransport

import (
	"log/slog"
	"sync"

	"github.com/wujihand/wujihandgo/pkg/transport"
)

const (
	bufferCount = 16
	bufferSize  = 2048
)

// Responder inspects one transmitted frame and returns the frames the
// firmware would reply with (zero or more). Frames are delivered to the
// receive handler in order, synchronously, from within Transmit — tests that
// need to assert ordering across multiple sends can rely on this.
type Responder func(frame []byte) [][]byte

// Transport is a deterministic, in-process transport.Transport.
type Transport struct {
	logger *slog.Logger

	mu        sync.Mutex
	free      [][]byte
	responder Responder
	onReceive func([]byte)
	closed    bool

	sent [][]byte
}

// New constructs a mock transport. If responder is nil, frames are accepted
// but never answered.
func New(responder Responder, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	free := make([][]byte, bufferCount)
	for i := range free {
		free[i] = make([]byte, bufferSize)
	}
	return &Transport{logger: logger, free: free, responder: responder}
}

// SetResponder swaps the scripted reply function at runtime.
func (t *Transport) SetResponder(responder Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responder = responder
}

// Sent returns copies of every frame transmitted so far, for assertions.
func (t *Transport) Sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *Transport) RequestTransmitBuffer() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return nil, false
	}
	n := len(t.free) - 1
	buf := t.free[n]
	t.free = t.free[:n]
	return buf, true
}

func (t *Transport) Transmit(buf []byte, length int) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	frame := make([]byte, length)
	copy(frame, buf[:length])
	t.sent = append(t.sent, frame)
	responder := t.responder
	handler := t.onReceive
	t.free = append(t.free, buf[:bufferSize])
	t.mu.Unlock()

	if responder == nil || handler == nil {
		return nil
	}
	for _, reply := range responder(frame) {
		handler(reply)
	}
	return nil
}

func (t *Transport) SetReceiveHandler(handler func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReceive = handler
}

func (t *Transport) Start() error { return nil }

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

var _ transport.Transport = (*Transport)(nil)
