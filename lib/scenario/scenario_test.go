package scenario

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: ramp-and-webhook
device_count: 100
throttle_ms: 5
steps:
  - after: 0s
    command: connect
    group: {from: 0, to: 50}
  - after: 10s
    command: connect
    group: {from: 50, to: 0}
  - after: 30s
    command: send_webhook
    group: {from: 0, to: 0}
    event: load_test
  - after: 120s
    command: disconnect
    group: {from: 0, to: 0}
`

func TestParseScenario(t *testing.T) {
	s, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "ramp-and-webhook", s.Name)
	require.Equal(t, 100, s.DeviceCount)
	require.Len(t, s.Steps, 4)
	require.Equal(t, CommandConnect, s.Steps[0].Command)
	require.Equal(t, CommandSendWebhook, s.Steps[2].Command)
	require.Equal(t, "load_test", s.Steps[2].Event)
}

func TestParseScenarioRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("name: x\nsteps:\n  - after: not-a-duration\n    command: connect\n"))
	require.Error(t, err)
}

func TestGroupRangeDeviceIndices(t *testing.T) {
	require.Equal(t, []int{0, 1, 2}, GroupRange{From: 0, To: 3}.DeviceIndices(10))
	require.Equal(t, []int{5, 6, 7, 8, 9}, GroupRange{From: 5, To: 0}.DeviceIndices(10))
	require.Nil(t, GroupRange{From: 8, To: 3}.DeviceIndices(10))
}
