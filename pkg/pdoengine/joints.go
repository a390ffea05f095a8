package pdoengine

import "github.com/wujihand/wujihandgo/pkg/storage"

// JointUnits names the storage objects the startup/stop sequence writes for
// one joint (§4.6): whether the joint is enabled, which realtime control
// mode it runs in, its PDO channel ids, its tick interval, and whether its
// PDO channel is active.
type JointUnits struct {
	Enabled     *storage.Unit
	ControlMode *storage.Unit
	RPdoID      *storage.Unit
	TPdoID      *storage.Unit
	PdoInterval *storage.Unit
	PdoEnabled  *storage.Unit
}

// Joints is the full 5-finger by 4-joint layout of JointUnits, matching the
// wire layout everywhere else in this package.
type Joints = [5][4]JointUnits

const numFingers = 5
const numJoints = 4

// controlModeRealtime and controlModeIdle select between streaming PDO
// target-tracking control and the device's normal idle/SDO-driven mode.
const (
	controlModeIdle     uint32 = 0
	controlModeRealtime uint32 = 5
)

// pdoIntervalMicros is the firmware tick period requested for the PDO
// channel, matching the 500Hz loop rate this package drives at.
const pdoIntervalMicros uint32 = 2000

// reversedMask reports which joints are mounted with inverted sign
// convention: joint index 0 (J1) of every non-thumb finger (index 1..4).
func reversedMask() (mask [5][4]bool) {
	for finger := 1; finger < numFingers; finger++ {
		mask[finger][0] = true
	}
	return mask
}
