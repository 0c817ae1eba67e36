// Package scenario loads YAML-defined load test scripts: timed commands
// issued against groups of simulated devices (spec §6, §11 added).
package scenario

import (
	"os"
	"time"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// CommandKind names one of the orchestrator actions a scenario step can
// issue against a device group.
type CommandKind string

const (
	CommandConnect     CommandKind = "connect"
	CommandSendWebhook CommandKind = "send_webhook"
	CommandDisconnect  CommandKind = "disconnect"
)

// Step is one timed action in a scenario: at offset After into the run,
// issue Command against the devices in Group (a half-open index range, see
// GroupRange).
type Step struct {
	After   time.Duration `yaml:"after"`
	Command CommandKind   `yaml:"command"`
	Group   GroupRange    `yaml:"group"`
	Event   string        `yaml:"event,omitempty"` // event name for send_webhook overrides
}

// GroupRange selects devices [From, To) by fleet index; To == 0 means "to
// the end of the fleet".
type GroupRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// Scenario is a named, ordered list of Steps plus an overall fleet size
// and throttle, loaded from a single YAML file.
type Scenario struct {
	Name       string `yaml:"name"`
	DeviceCount int   `yaml:"device_count"`
	ThrottleMS int    `yaml:"throttle_ms"`
	Steps      []Step `yaml:"steps"`
}

// rawStep mirrors Step's YAML shape but keeps After as a string so
// duration suffixes like "5s" parse through time.ParseDuration rather than
// yaml.v3's numeric-only duration support.
type rawStep struct {
	After   string      `yaml:"after"`
	Command CommandKind `yaml:"command"`
	Group   GroupRange  `yaml:"group"`
	Event   string      `yaml:"event,omitempty"`
}

type rawScenario struct {
	Name        string    `yaml:"name"`
	DeviceCount int       `yaml:"device_count"`
	ThrottleMS  int       `yaml:"throttle_ms"`
	Steps       []rawStep `yaml:"steps"`
}

// Load parses a scenario YAML file from path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Wrapf(err, "scenario: read %s", path)
	}
	return Parse(data)
}

// Parse parses scenario YAML from an in-memory byte slice.
func Parse(data []byte) (*Scenario, error) {
	var raw rawScenario
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, oops.Wrapf(err, "scenario: parse yaml")
	}

	s := &Scenario{
		Name:        raw.Name,
		DeviceCount: raw.DeviceCount,
		ThrottleMS:  raw.ThrottleMS,
		Steps:       make([]Step, 0, len(raw.Steps)),
	}
	for i, rs := range raw.Steps {
		d, err := time.ParseDuration(rs.After)
		if err != nil {
			return nil, oops.Wrapf(err, "scenario: step %d: parse 'after' duration %q", i, rs.After)
		}
		s.Steps = append(s.Steps, Step{
			After:   d,
			Command: rs.Command,
			Group:   rs.Group,
			Event:   rs.Event,
		})
	}
	return s, nil
}

// DeviceIndices resolves a GroupRange against a fleet of the given size.
func (g GroupRange) DeviceIndices(fleetSize int) []int {
	to := g.To
	if to <= 0 || to > fleetSize {
		to = fleetSize
	}
	from := g.From
	if from < 0 {
		from = 0
	}
	if from >= to {
		return nil
	}
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
