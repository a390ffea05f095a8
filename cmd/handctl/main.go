// Command handctl is a debug and control CLI for the five-finger hand,
// talking to the device over the same handler.Handler the HTTP gateway and
// language bindings use. Mirrors the object-map/transport wiring of
// original_source/example/{enable,disable,zero}_hand.py, plumbed through
// the Go protocol core instead of wujihandpy.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wujihand/wujihandgo/pkg/gateway"
	"github.com/wujihand/wujihandgo/pkg/handler"
	"github.com/wujihand/wujihandgo/pkg/transport"
)

var (
	objectMapPath string
	vendorID      uint16
	productID     uint16
	serialNumber  string
	opTimeout     time.Duration
	verbose       bool
)

var rootCmd = &cobra.Command{
	Use:   "handctl",
	Short: "Control and diagnostics CLI for the wujihandgo hand SDK",
	Long: `handctl talks to a connected five-finger hand over USB, using the same
protocol core (pkg/handler) as the HTTP gateway and language bindings.

Commands:
  enable   force-enable every joint
  disable  force-disable every joint
  zero     enable every joint, then drive all target positions to 0 rad
  read     raw SDO read of an arbitrary (index, sub_index) pair
  write    raw SDO write of an arbitrary (index, sub_index) pair
  monitor  live TUI of joint positions, efforts and fault state
  serve    run the HTTP+WebSocket diagnostics gateway`,
}

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	rootCmd.PersistentFlags().StringVar(&objectMapPath, "object-map", "config/objectmap.ini", "path to the object-map .ini file")
	rootCmd.PersistentFlags().Uint16Var(&vendorID, "vendor-id", 0x0483, "USB vendor ID")
	rootCmd.PersistentFlags().Uint16Var(&productID, "product-id", 0, "USB product ID (0 = accept any)")
	rootCmd.PersistentFlags().StringVar(&serialNumber, "serial", "", "USB serial number filter (empty = accept any)")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 500*time.Millisecond, "per-operation SDO timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(enableCmd, disableCmd, zeroCmd, readCmd, writeCmd, monitorCmd, serveCmd)
}

// openHandler connects to the first matching USB device and starts the
// handler's transmit/receive threads, following the same sequence every
// subcommand needs before it can issue operations.
func openHandler() (*handler.Handler, error) {
	return openHandlerWith(false)
}

// openHandlerWith is openHandler with control over the operation-thread
// check. The serve subcommand disables it: net/http dispatches each request
// on its own goroutine, so the gateway cannot honor the single-operation-
// thread contract (§5) and relies on its own synchronization instead.
func openHandlerWith(disableThreadSafeCheck bool) (*handler.Handler, error) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	tp, err := transport.Open(transport.Config{
		VendorID:     gousbID(vendorID),
		ProductID:    gousbID(productID),
		SerialNumber: serialNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}

	h, err := handler.New(handler.Config{
		Transport:              tp,
		ObjectMapPath:          objectMapPath,
		DisableThreadSafeCheck: disableThreadSafeCheck,
	})
	if err != nil {
		tp.Close()
		return nil, fmt.Errorf("construct handler: %w", err)
	}

	if err := h.StartTransmitReceive(); err != nil {
		tp.Close()
		return nil, fmt.Errorf("start handler: %w", err)
	}
	return h, nil
}

func serveGateway(h *handler.Handler, addr string) error {
	srv := gateway.New(h, nil)
	log.Infof("gateway listening on %s", addr)
	return srv.ListenAndServe(addr)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
