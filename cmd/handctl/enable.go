package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wujihand/wujihandgo/pkg/handler"
	"github.com/wujihand/wujihandgo/pkg/latch"
	"github.com/wujihand/wujihandgo/pkg/storage"
)

const numFingers = 5
const numJoints = 4

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Force-enable every joint",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandler()
		if err != nil {
			return err
		}
		defer h.Close()
		return setAllJointsEnabled(h, true)
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Force-disable every joint",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHandler()
		if err != nil {
			return err
		}
		defer h.Close()
		return setAllJointsEnabled(h, false)
	},
}

// setAllJointsEnabled batches 20 writes to the per-joint "enabled" object
// behind one Latch (the GLOSSARY's bulk-write pattern), reporting the
// number of joints that failed to confirm within timeout.
func setAllJointsEnabled(h *handler.Handler, enabled bool) error {
	l := latch.New(numFingers * numJoints)
	failures := make(chan struct{ finger, joint int }, numFingers*numJoints)

	for finger := 0; finger < numFingers; finger++ {
		for joint := 0; joint < numJoints; joint++ {
			finger, joint := finger, joint
			completer := latch.NewLatchCompleter(l)
			err := h.WriteAsync("enabled", finger, joint, storage.Buffer8FromBool(enabled), opTimeout, func(success bool) {
				if !success {
					failures <- struct{ finger, joint int }{finger, joint}
				}
				completer.Complete(success)
			})
			if err != nil {
				return fmt.Errorf("enable finger=%d joint=%d: %w", finger, joint, err)
			}
		}
	}
	l.Wait()
	close(failures)

	failed := 0
	for f := range failures {
		log.Warnf("joint finger=%d joint=%d did not confirm", f.finger, f.joint)
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d joints failed to confirm", failed, numFingers*numJoints)
	}
	log.Infof("all %d joints set enabled=%v", numFingers*numJoints, enabled)
	return nil
}
