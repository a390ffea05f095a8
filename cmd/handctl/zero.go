package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wujihand/wujihandgo/pkg/latch"
	"github.com/wujihand/wujihandgo/pkg/storage"
)

var zeroCmd = &cobra.Command{
	Use:   "zero",
	Short: "Enable every joint, then drive all target positions to 0 rad",
	Long: `Mirrors original_source/example/zero_hand.py: ensures every joint is
enabled, waits for the enable to take effect, then writes 0 rad to every
joint's target_position object.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandler()
		if err != nil {
			return err
		}
		defer h.Close()

		if err := setAllJointsEnabled(h, true); err != nil {
			return fmt.Errorf("zero: enable: %w", err)
		}
		time.Sleep(500 * time.Millisecond)

		l := latch.New(numFingers * numJoints)
		for finger := 0; finger < numFingers; finger++ {
			for joint := 0; joint < numJoints; joint++ {
				completer := latch.NewLatchCompleter(l)
				err := h.WriteAsync("target_position", finger, joint, storage.Buffer8FromFloat64(0), opTimeout, completer.Complete)
				if err != nil {
					return fmt.Errorf("zero: target_position finger=%d joint=%d: %w", finger, joint, err)
				}
			}
		}
		l.Wait()
		log.Info("all joints driven to 0 rad")
		return nil
	},
}
