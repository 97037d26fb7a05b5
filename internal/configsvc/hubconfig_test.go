package configsvc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evtlab/iohub/internal/devsvc"
)

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		cfg  HubConfig
		path string
	}{
		{
			name: "missing device type",
			cfg:  HubConfig{Devices: []devsvc.DeviceConfig{{Name: "kb"}}},
			path: "devices[0].type",
		},
		{
			name: "missing device name",
			cfg:  HubConfig{Devices: []devsvc.DeviceConfig{{Type: "keyboard"}}},
			path: "devices[0].name",
		},
		{
			name: "duplicate device name",
			cfg: HubConfig{Devices: []devsvc.DeviceConfig{
				{Type: "keyboard", Name: "kb"},
				{Type: "mouse", Name: "kb"},
			}},
			path: "devices[1].name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			var cfgErr *devsvc.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.path, cfgErr.Path)
		})
	}
}

func TestValidateDataStoreAndMQTT(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.DataStore.Enable = true
	err := cfg.Validate()
	var cfgErr *devsvc.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "data_store.path", cfgErr.Path)

	cfg.DataStore.Backend = "clickhouse"
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "data_store.clickhouse.addr", cfgErr.Path)

	cfg.DataStore.Backend = "nop"
	require.NoError(t, cfg.Validate())

	cfg.MQTT.Enable = true
	require.ErrorAs(t, cfg.Validate(), &cfgErr)
	assert.Equal(t, "mqtt.broker", cfgErr.Path)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	var cfg HubConfig
	cfg.Normalize()
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultTickInterval, cfg.TickInterval)
	assert.NotZero(t, cfg.GlobalEventBuffer)
}

func TestDiffDevices(t *testing.T) {
	old := []devsvc.DeviceConfig{
		{Type: "keyboard", Name: "kb"},
		{Type: "mouse", Name: "mouse"},
		{Type: "eyetracker", Name: "tracker", PollInterval: 0.01},
	}
	updated := []devsvc.DeviceConfig{
		{Type: "keyboard", Name: "kb"},
		{Type: "eyetracker", Name: "tracker", PollInterval: 0.002},
		{Type: "analog_input", Name: "daq", Settings: json.RawMessage(`{"channel_count":4}`)},
	}

	diff := DiffDevices(old, updated)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, "daq", diff.Added[0].Name)
	assert.Equal(t, []string{"mouse"}, diff.Removed)
	assert.Equal(t, []string{"tracker"}, diff.Changed)
}
