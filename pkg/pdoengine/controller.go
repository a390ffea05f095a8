// Package pdoengine drives the 500Hz realtime PDO loop: it streams actual
// joint positions in from the device, runs a pluggable controller to
// produce target positions, and streams those back out, while keeping a
// lock-free snapshot of the latest positions, efforts and fault bitmasks for
// any reader.
package pdoengine

// Positions holds one value per joint, indexed [finger][joint], finger in
// 0..4 and joint in 0..3, matching the wire layout of §4.3.
type Positions = [5][4]float64

// RealtimeController is a pluggable per-tick control law: Setup configures
// it once for the loop's sampling frequency, Step consumes the latest
// measured positions and produces the next target positions.
//
// Two concrete shapes satisfy both sides of the firmware-filter/host-filter
// split: LowPassFilterController actually filters host-side, while
// PassthroughController is used when the firmware does the filtering and
// the host only needs to forward a commanded target — both share this
// interface so callers never see a difference in external behavior.
type RealtimeController interface {
	Setup(samplingFrequencyHz float64)
	Step(actual *Positions) Positions
}

// LowPassFilterController runs a first-order low-pass filter per joint,
// coefficient alpha = dt / (dt + 1/(2*pi*cutoff)) (§4.6).
type LowPassFilterController struct {
	cutoffHz float64
	alpha    float64

	target      Positions
	state       Positions
	initialized bool
}

// NewLowPassFilterController constructs a filter with the given cutoff
// frequency; SetTarget supplies the commanded position the filter chases.
func NewLowPassFilterController(cutoffHz float64) *LowPassFilterController {
	return &LowPassFilterController{cutoffHz: cutoffHz}
}

func (c *LowPassFilterController) Setup(samplingFrequencyHz float64) {
	dt := 1 / samplingFrequencyHz
	tau := 1 / (2 * piConst * c.cutoffHz)
	c.alpha = dt / (dt + tau)
}

// SetTarget updates the position the filter chases on subsequent Step calls.
func (c *LowPassFilterController) SetTarget(target Positions) {
	c.target = target
}

func (c *LowPassFilterController) Step(actual *Positions) Positions {
	if !c.initialized {
		c.state = c.target
		c.initialized = true
	}
	for finger := range c.state {
		for joint := range c.state[finger] {
			c.state[finger][joint] += c.alpha * (c.target[finger][joint] - c.state[finger][joint])
		}
	}
	return c.state
}

// PassthroughController forwards a commanded target unfiltered, for use
// when the firmware itself runs the low-pass filter.
type PassthroughController struct {
	target Positions
}

func NewPassthroughController() *PassthroughController { return &PassthroughController{} }

func (c *PassthroughController) Setup(float64) {}

// SetTarget updates the commanded target forwarded by the next Step call.
func (c *PassthroughController) SetTarget(target Positions) { c.target = target }

func (c *PassthroughController) Step(actual *Positions) Positions { return c.target }

const piConst = 3.14159265358979323846
