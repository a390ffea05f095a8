// Package transport abstracts the USB bulk-transfer link to the hand. It
// defines the interface the protocol engines build frames against, and
// carries the real libusb-backed implementation; tests use the sibling
// mocktransport package instead.
package transport

import "errors"

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("transport: closed")

// ErrBufferPoolExhausted is returned when RequestTransmitBuffer has no free
// buffer available.
var ErrBufferPoolExhausted = errors.New("transport: transmit buffer pool exhausted")

// Transport is the link the protocol engines send frames over and receive
// inbound frames from. Implementations must be safe for concurrent
// RequestTransmitBuffer/Transmit calls from at most two callers (the SDO and
// PDO engines), and must deliver received frames to a single registered
// handler.
type Transport interface {
	// RequestTransmitBuffer reserves a pooled buffer for a frame build. The
	// returned slice is valid until Transmit is called on it.
	RequestTransmitBuffer() ([]byte, bool)

	// Transmit sends the first length bytes of a buffer previously obtained
	// from RequestTransmitBuffer, returning it to the pool afterward.
	Transmit(buf []byte, length int) error

	// SetReceiveHandler installs the callback invoked with each inbound
	// frame's payload. Must be called before Start.
	SetReceiveHandler(func(frame []byte))

	// Start begins the transport's background transmit/receive activity.
	Start() error

	// Close stops background activity and releases device resources.
	Close() error
}
