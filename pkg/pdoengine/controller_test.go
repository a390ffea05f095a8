package pdoengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLowPassFilterControllerConvergesTowardTarget(t *testing.T) {
	c := NewLowPassFilterController(10)
	c.Setup(TickRate)

	var target Positions
	target[0][0] = 1.0
	c.SetTarget(target)

	var actual Positions
	var out Positions
	for i := 0; i < 2000; i++ {
		out = c.Step(&actual)
	}

	assert.InDelta(t, 1.0, out[0][0], 0.01)
}

func TestLowPassFilterControllerStartsAtInitialTarget(t *testing.T) {
	c := NewLowPassFilterController(10)
	c.Setup(TickRate)

	var target Positions
	target[3][2] = 0.5
	c.SetTarget(target)

	var actual Positions
	out := c.Step(&actual)
	assert.InDelta(t, 0.5, out[3][2], 1e-9, "first step must start from the commanded target, not zero")
}

func TestPassthroughControllerForwardsTargetUnfiltered(t *testing.T) {
	c := NewPassthroughController()
	c.Setup(TickRate)

	var target Positions
	target[1][1] = 0.3
	c.SetTarget(target)

	var actual Positions
	actual[1][1] = 0.9
	out := c.Step(&actual)

	assert.Equal(t, 0.3, out[1][1])
}
