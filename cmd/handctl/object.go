package main

import (
	"encoding/binary"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func parseIndexArg(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	return uint16(v), err
}

func parseSubArg(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

var readCmd = &cobra.Command{
	Use:   "read <index> <sub_index>",
	Short: "Raw SDO read of an arbitrary (index, sub_index) pair (§4.5)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndexArg(args[0])
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		sub, err := parseSubArg(args[1])
		if err != nil {
			return fmt.Errorf("sub_index: %w", err)
		}

		h, err := openHandler()
		if err != nil {
			return err
		}
		defer h.Close()

		data, err := h.RawSDORead(index, sub, opTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("0x%04X:%d = %s (%d bytes)\n", index, sub, hexDump(data), len(data))
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <index> <sub_index> <value>",
	Short: "Raw SDO write of a little-endian uint value to an arbitrary (index, sub_index) pair",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndexArg(args[0])
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		sub, err := parseSubArg(args[1])
		if err != nil {
			return fmt.Errorf("sub_index: %w", err)
		}
		value, err := strconv.ParseUint(args[2], 0, 64)
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		width, _ := cmd.Flags().GetInt("width")

		h, err := openHandler()
		if err != nil {
			return err
		}
		defer h.Close()

		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, value)
		if err := h.RawSDOWrite(index, sub, buf[:width], opTimeout); err != nil {
			return err
		}
		log.Infof("0x%04X:%d <- %s confirmed", index, sub, hexDump(buf[:width]))
		return nil
	},
}

func init() {
	writeCmd.Flags().Int("width", 4, "value width in bytes (1, 2, 4 or 8)")
}

func hexDump(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 0, 2*len(b))
	for _, c := range b {
		out = append(out, hexdigits[c>>4], hexdigits[c&0xF])
	}
	return string(out)
}
