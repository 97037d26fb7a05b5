package configsvc

import (
	"fmt"

	"github.com/evtlab/iohub/internal/datastore"
	"github.com/evtlab/iohub/internal/devsvc"
	"github.com/evtlab/iohub/internal/pipeline"
)

// Defaults applied by Normalize.
const (
	DefaultListen       = "127.0.0.1:9034"
	DefaultTickInterval = 0.01
)

// HubConfig is the top-level hub configuration. YAML on disk, converted
// through JSON tags.
type HubConfig struct {
	Listen            string                `json:"listen,omitempty"`
	TickInterval      float64               `json:"tick_interval,omitempty"`
	GlobalEventBuffer int                   `json:"global_event_buffer,omitempty"`
	DataStore         datastore.Config      `json:"data_store,omitempty"`
	MQTT              pipeline.MirrorConfig `json:"mqtt,omitempty"`
	Devices           []devsvc.DeviceConfig `json:"devices,omitempty"`
}

// DefaultHubConfig is the configuration written by first-run
// initialization: a keyboard and a mouse, no persistence.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		Listen:       DefaultListen,
		TickInterval: DefaultTickInterval,
		Devices: []devsvc.DeviceConfig{
			{Type: "keyboard", Name: "keyboard"},
			{Type: "mouse", Name: "mouse"},
		},
	}
}

// Normalize fills defaulted fields in place.
func (c *HubConfig) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.GlobalEventBuffer <= 0 {
		c.GlobalEventBuffer = pipeline.DefaultGlobalBufferLength
	}
}

// Validate rejects structural problems before any device is built.
// Per-device setting errors are left to the device classes, which know
// their own schemas.
func (c *HubConfig) Validate() error {
	if c.TickInterval < 0 {
		return &devsvc.ConfigError{Path: "tick_interval", Reason: "must be positive"}
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for i, dev := range c.Devices {
		path := fmt.Sprintf("devices[%d]", i)
		if dev.Type == "" {
			return &devsvc.ConfigError{Path: path + ".type", Reason: "device type is required"}
		}
		if dev.Name == "" {
			return &devsvc.ConfigError{Path: path + ".name", Reason: "device name is required"}
		}
		if _, ok := seen[dev.Name]; ok {
			return &devsvc.ConfigError{Path: path + ".name", Reason: fmt.Sprintf("duplicate device name %q", dev.Name)}
		}
		seen[dev.Name] = struct{}{}
	}
	if c.DataStore.Enable {
		switch c.DataStore.Backend {
		case "", "badger":
			if c.DataStore.Path == "" {
				return &devsvc.ConfigError{Path: "data_store.path", Reason: "badger backend requires a path"}
			}
		case "clickhouse":
			if c.DataStore.ClickHouse.Addr == "" {
				return &devsvc.ConfigError{Path: "data_store.clickhouse.addr", Reason: "clickhouse backend requires an addr"}
			}
		case "nop":
		default:
			return &devsvc.ConfigError{Path: "data_store.backend", Reason: fmt.Sprintf("unknown backend %q", c.DataStore.Backend)}
		}
	}
	if c.MQTT.Enable && c.MQTT.Broker == "" {
		return &devsvc.ConfigError{Path: "mqtt.broker", Reason: "mqtt mirror requires a broker"}
	}
	return nil
}

// DeviceDiff is the result of comparing a reloaded config against the
// running one. Only additions are actionable; removals and edits need a
// restart and are surfaced for logging.
type DeviceDiff struct {
	Added   []devsvc.DeviceConfig
	Removed []string
	Changed []string
}

// DiffDevices compares device lists by name.
func DiffDevices(old, updated []devsvc.DeviceConfig) DeviceDiff {
	prev := make(map[string]devsvc.DeviceConfig, len(old))
	for _, dev := range old {
		prev[dev.Name] = dev
	}
	var diff DeviceDiff
	next := make(map[string]struct{}, len(updated))
	for _, dev := range updated {
		next[dev.Name] = struct{}{}
		before, ok := prev[dev.Name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, dev)
		case !equalDeviceConfig(before, dev):
			diff.Changed = append(diff.Changed, dev.Name)
		}
	}
	for _, dev := range old {
		if _, ok := next[dev.Name]; !ok {
			diff.Removed = append(diff.Removed, dev.Name)
		}
	}
	return diff
}

func equalDeviceConfig(a, b devsvc.DeviceConfig) bool {
	if a.Type != b.Type || a.SaveEvents != b.SaveEvents ||
		a.EventBufferLength != b.EventBufferLength || a.PollInterval != b.PollInterval {
		return false
	}
	if !equalBoolPtr(a.Enable, b.Enable) || !equalBoolPtr(a.ReportEvents, b.ReportEvents) {
		return false
	}
	if len(a.Filters) != len(b.Filters) {
		return false
	}
	for i := range a.Filters {
		if a.Filters[i] != b.Filters[i] {
			return false
		}
	}
	return string(a.Settings) == string(b.Settings)
}

func equalBoolPtr(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
