package faultlog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMonitor() (*Monitor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewMonitor(JointID{Finger: 1, Joint: 2}, logger), &buf
}

func TestUpdateLogsOnlyNewlySetBits(t *testing.T) {
	m, buf := newTestMonitor()

	m.Update(0x01)
	assert.Contains(t, buf.String(), "over current")

	buf.Reset()
	m.Update(0x01)
	assert.Empty(t, buf.String())

	buf.Reset()
	m.Update(0x03)
	assert.Contains(t, buf.String(), "over voltage")
	assert.NotContains(t, buf.String(), "over current")
}

func TestUpdateWarnsOnUndefinedBit(t *testing.T) {
	m, buf := newTestMonitor()
	m.Update(1 << 31)
	assert.Contains(t, buf.String(), "no definition on file")
}

func TestCodeReturnsLastReportedMask(t *testing.T) {
	m, _ := newTestMonitor()
	m.Update(0x05)
	assert.EqualValues(t, 0x05, m.Code())
}
