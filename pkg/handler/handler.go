// Package handler wires the protocol, storage, sdoengine, pdoengine,
// watchdog and faultlog packages into one aggregate object exposing the
// hand's public operation surface. Mirrors the teacher's Network/BaseNode
// aggregation role.
package handler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/wujihand/wujihandgo/pkg/latch"
	"github.com/wujihand/wujihandgo/pkg/objectmap"
	"github.com/wujihand/wujihandgo/pkg/pdoengine"
	"github.com/wujihand/wujihandgo/pkg/protocol"
	"github.com/wujihand/wujihandgo/pkg/sdoengine"
	"github.com/wujihand/wujihandgo/pkg/storage"
	"github.com/wujihand/wujihandgo/pkg/transport"
	"github.com/wujihand/wujihandgo/pkg/watchdog"
)

// ErrWrongThread is returned by any public operation invoked from a
// goroutine other than the one that made the handler's first call, unless
// thread-safety checking was disabled at construction (§5).
var ErrWrongThread = errors.New("handler: operation invoked from a goroutine other than the operation thread")

// ErrFirmwareTooOld is a construction-fatal error when the connected
// device's firmware predates minFirmwareVersion.
type ErrFirmwareTooOld struct {
	Got, Want FirmwareVersion
}

func (e *ErrFirmwareTooOld) Error() string {
	return fmt.Sprintf("handler: firmware version %s is older than the minimum supported %s", e.Got, e.Want)
}

// defaultOpTimeout bounds a single blocking operation's worst case.
const defaultOpTimeout = 500 * time.Millisecond

// heartbeatInterval paces the host heartbeat refresh no tighter than the SDO
// tick rate (§4.4's watchdog note).
const heartbeatInterval = time.Second / sdoengine.TickRate

// Config configures a Handler at construction.
type Config struct {
	Transport              transport.Transport
	ObjectMapPath          string
	Logger                 *slog.Logger
	DisableThreadSafeCheck bool
}

// Handler is the top-level aggregate: one instance per connected hand, free
// of any package-level state so multiple Handlers coexist in one process
// (§6 dual-hand supplement).
type Handler struct {
	logger    *slog.Logger
	transport transport.Transport

	table   *storage.Table
	rawPool *storage.RawSDOPool
	units   map[objectmap.Key]*storage.Unit

	sdo *sdoengine.Engine
	pdo *pdoengine.Engine
	wd  *watchdog.Watchdog

	threadCheckDisabled bool
	mu                  sync.Mutex
	ownerGoroutine      uint64
	ownerSet            bool

	started bool
}

// New parses the object map, wires up storage, the SDO engine and the PDO
// engine, and installs the frame dispatch handler, but does not start
// transmit/receive or the tick threads — call StartTransmitReceive for that.
func New(cfg Config) (*Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := objectmap.Load(cfg.ObjectMapPath)
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}

	table := storage.NewTable(len(entries))
	units, err := objectmap.Register(table, entries)
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}

	rawPool := storage.NewRawSDOPool()
	sdoBuilder := protocol.NewBuilder(protocol.FrameTypeSDO, cfg.Transport, cfg.Transport, logger)
	sdoEngine := sdoengine.New(table, rawPool, sdoBuilder, logger)

	joints, err := jointUnitsFromObjectMap(units)
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}
	pdoBuilder := protocol.NewBuilder(protocol.FrameTypePDO, cfg.Transport, cfg.Transport, logger)
	pdoEngine := pdoengine.New(joints, sdoEngine, pdoBuilder, logger)

	h := &Handler{
		logger:              logger,
		transport:           cfg.Transport,
		table:               table,
		rawPool:             rawPool,
		units:               units,
		sdo:                 sdoEngine,
		pdo:                 pdoEngine,
		threadCheckDisabled: cfg.DisableThreadSafeCheck,
	}

	if hb, ok := units[objectmap.Key{Name: "host_heartbeat", Finger: -1, Joint: -1}]; ok {
		h.wd = watchdog.New(hb, sdoEngine, heartbeatInterval, defaultOpTimeout, logger)
	}

	cfg.Transport.SetReceiveHandler(h.dispatchFrame)
	return h, nil
}

func jointUnitsFromObjectMap(units map[objectmap.Key]*storage.Unit) (pdoengine.Joints, error) {
	var joints pdoengine.Joints
	names := []string{"enabled", "control_mode", "rpdo_id", "tpdo_id", "pdo_interval", "pdo_enabled"}
	for finger := 0; finger < 5; finger++ {
		for joint := 0; joint < 4; joint++ {
			resolved := make(map[string]*storage.Unit, len(names))
			for _, name := range names {
				unit, ok := units[objectmap.Key{Name: name, Finger: finger, Joint: joint}]
				if !ok {
					return joints, fmt.Errorf("object map missing joint-scoped object %q for finger %d joint %d", name, finger, joint)
				}
				resolved[name] = unit
			}
			joints[finger][joint] = pdoengine.JointUnits{
				Enabled:     resolved["enabled"],
				ControlMode: resolved["control_mode"],
				RPdoID:      resolved["rpdo_id"],
				TPdoID:      resolved["tpdo_id"],
				PdoInterval: resolved["pdo_interval"],
				PdoEnabled:  resolved["pdo_enabled"],
			}
		}
	}
	return joints, nil
}

// StartTransmitReceive starts the transport, the SDO tick thread, and
// validates the connected device's firmware version; on any failure it
// unwinds everything it started and returns a construction-fatal error (§7).
func (h *Handler) StartTransmitReceive() error {
	if err := h.checkThread(); err != nil {
		return err
	}
	if err := h.transport.Start(); err != nil {
		return fmt.Errorf("handler: start transport: %w", err)
	}
	if err := h.sdo.Start(); err != nil {
		h.transport.Close()
		return fmt.Errorf("handler: start sdo engine: %w", err)
	}

	version, err := h.readFirmwareVersion()
	if err != nil {
		h.sdo.Stop()
		h.transport.Close()
		return fmt.Errorf("handler: read firmware version: %w", err)
	}
	if !version.atLeast(minFirmwareVersion) {
		h.sdo.Stop()
		h.transport.Close()
		return &ErrFirmwareTooOld{Got: version, Want: minFirmwareVersion}
	}

	if h.wd != nil {
		h.wd.Start()
	}
	h.started = true
	return nil
}

func (h *Handler) readFirmwareVersion() (FirmwareVersion, error) {
	unit, ok := h.units[objectmap.Key{Name: "firmware_version", Finger: -1, Joint: -1}]
	if !ok {
		return FirmwareVersion{}, errors.New("object map has no firmware_version hand-level object")
	}
	completer, result := latch.NewFutureCompleter()
	if err := h.sdo.ReadAsync(unit, defaultOpTimeout, func(success bool) { completer.Complete(success) }); err != nil {
		return FirmwareVersion{}, err
	}
	if !<-result {
		return FirmwareVersion{}, errors.New("firmware version read timed out")
	}
	return firmwareVersionFromRaw(uint32(unit.RawValue())), nil
}

// Close stops every running thread and releases the transport.
func (h *Handler) Close() error {
	if h.wd != nil {
		h.wd.Stop()
	}
	h.sdo.Stop()
	return h.transport.Close()
}

func (h *Handler) dispatchFrame(frame []byte) {
	frameType, err := protocol.HeaderType(frame)
	if err != nil {
		h.logger.Error("dropping unparseable frame", "error", err)
		return
	}
	switch frameType {
	case protocol.FrameTypeSDO:
		h.sdo.HandleFrame(frame)
	case protocol.FrameTypePDO:
		h.pdo.HandleFrame(frame)
	default:
		h.logger.Warn("dropping frame of unrecognized type", "frame_type", frameType)
	}
}

// checkThread enforces the single-operation-thread rule unless disabled.
// The first call from any goroutine becomes the operation thread; every
// subsequent call must come from that same goroutine. Go has no portable
// goroutine-identity API, so this parses the id out of runtime.Stack, the
// same technique used by several goroutine-local-storage libraries.
func (h *Handler) checkThread() error {
	if h.threadCheckDisabled {
		return nil
	}
	id := currentGoroutineID()

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.ownerSet {
		h.ownerGoroutine = id
		h.ownerSet = true
		return nil
	}
	if h.ownerGoroutine != id {
		return ErrWrongThread
	}
	return nil
}

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}
