package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/gousb"
)

const (
	interfaceNumber = 1
	outEndpoint     = 0x01
	inEndpoint      = 0x81

	maxTransferLength    = 2048
	transmitBufferCount  = 64
	receiveTransferCount = 4
)

// DefaultVendorID is the hand's USB vendor ID.
const DefaultVendorID gousb.ID = 0x0483

// Config selects which device to open. ProductID and SerialNumber are
// optional filters; if either is zero/empty it is not applied. Exactly one
// attached device must match the given filters or Open fails with a
// diagnostic listing everything it saw.
type Config struct {
	VendorID     gousb.ID
	ProductID    gousb.ID
	SerialNumber string
	Logger       *slog.Logger
}

// USBTransport is a gousb/libusb-backed Transport talking to a single hand
// over its bulk interface.
type USBTransport struct {
	logger *slog.Logger
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	done   func()
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	mu      sync.Mutex
	free    [][]byte
	closed  bool
	onFrame func([]byte)
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Open selects the single attached device matching cfg and claims its bulk
// interface. On no-match or multi-match it lists every candidate it saw at
// Info level to help the operator disambiguate.
func Open(cfg Config) (*USBTransport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	vendor := cfg.VendorID
	if vendor == 0 {
		vendor = DefaultVendorID
	}

	ctx := gousb.NewContext()

	var matched []*gousb.Device
	var seen []string
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != vendor {
			return false
		}
		if cfg.ProductID != 0 && desc.Product != cfg.ProductID {
			return false
		}
		seen = append(seen, desc.String())
		return true
	})
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: enumerate usb devices: %w", err)
	}

	for _, dev := range devs {
		if cfg.SerialNumber != "" {
			serial, serr := dev.SerialNumber()
			if serr != nil || serial != cfg.SerialNumber {
				dev.Close()
				continue
			}
		}
		matched = append(matched, dev)
	}

	if len(matched) != 1 {
		for _, dev := range matched {
			dev.Close()
		}
		logger.Info("usb device selection failed", "candidates_seen", seen, "matched", len(matched))
		ctx.Close()
		if len(matched) == 0 {
			return nil, errors.New("transport: no matching usb device found")
		}
		return nil, fmt.Errorf("transport: %d devices matched filters, expected exactly 1", len(matched))
	}

	dev := matched[0]
	dev.SetAutoDetach(true)

	cfgNum, err := dev.ActiveConfigNum()
	var usbCfg *gousb.Config
	if err == nil {
		usbCfg, err = dev.Config(cfgNum)
	}
	var iface *gousb.Interface
	if err == nil {
		iface, err = usbCfg.Interface(interfaceNumber, 0)
		if err != nil {
			usbCfg.Close()
		}
	}
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: claim interface: %w", err)
	}
	done := func() {
		iface.Close()
		usbCfg.Close()
	}

	in, err := iface.InEndpoint(inEndpoint & 0x0F)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: open in endpoint: %w", err)
	}
	out, err := iface.OutEndpoint(outEndpoint)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: open out endpoint: %w", err)
	}

	free := make([][]byte, transmitBufferCount)
	for i := range free {
		free[i] = make([]byte, maxTransferLength)
	}

	return &USBTransport{
		logger: logger,
		ctx:    ctx,
		dev:    dev,
		iface:  iface,
		done:   done,
		in:     in,
		out:    out,
		free:   free,
		stop:   make(chan struct{}),
	}, nil
}

func (t *USBTransport) RequestTransmitBuffer() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || len(t.free) == 0 {
		return nil, false
	}
	n := len(t.free) - 1
	buf := t.free[n]
	t.free = t.free[:n]
	return buf, true
}

func (t *USBTransport) Transmit(buf []byte, length int) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	_, err := t.out.Write(buf[:length])

	t.mu.Lock()
	t.free = append(t.free, buf[:maxTransferLength])
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

func (t *USBTransport) SetReceiveHandler(handler func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFrame = handler
}

// Start launches receiveTransferCount concurrent readers pulling inbound
// frames off the bulk IN endpoint. A read failure while the transport is
// still open means the device went away; there is no recovery path, matching
// the firmware link's fail-fast assumption.
func (t *USBTransport) Start() error {
	t.mu.Lock()
	handler := t.onFrame
	t.mu.Unlock()
	if handler == nil {
		return errors.New("transport: SetReceiveHandler must be called before Start")
	}

	for i := 0; i < receiveTransferCount; i++ {
		t.wg.Add(1)
		go t.receiveLoop()
	}
	return nil
}

func (t *USBTransport) receiveLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxTransferLength)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.in.Read(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			t.logger.Error("usb read failed, device presumed disconnected", "err", err)
			return
		}
		if n == 0 {
			continue
		}

		t.mu.Lock()
		handler := t.onFrame
		t.mu.Unlock()
		if handler != nil {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			handler(frame)
		}
	}
}

func (t *USBTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stop)
	t.wg.Wait()

	t.done()
	err := t.dev.Close()
	t.ctx.Close()
	return err
}
