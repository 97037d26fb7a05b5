package devsvc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/pkg/clock"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(zap.NewNop(), clock.New())
	reg.Register("counter", func(config json.RawMessage, p Provider) (Class, error) {
		return Class{
			Impl:                &counterImpl{},
			TypeTag:             eventapi.DeviceAnalogInput,
			DefaultPollInterval: 0.01,
		}, nil
	})
	return reg
}

func TestAddDeviceValidation(t *testing.T) {
	svc := New(zap.NewNop(), clock.New(), newTestRegistry(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	var cfgErr *ConfigError
	_, err := svc.AddDevice(ctx, DeviceConfig{Name: "a"})
	require.ErrorAs(t, err, &cfgErr)

	_, err = svc.AddDevice(ctx, DeviceConfig{Type: "counter"})
	require.ErrorAs(t, err, &cfgErr)

	_, err = svc.AddDevice(ctx, DeviceConfig{Type: "warp_drive", Name: "w"})
	require.ErrorAs(t, err, &cfgErr)

	_, err = svc.AddDevice(ctx, DeviceConfig{Type: "counter", Name: "a"})
	require.NoError(t, err)

	_, err = svc.AddDevice(ctx, DeviceConfig{Type: "counter", Name: "a"})
	assert.ErrorIs(t, err, ErrDeviceExists)
}

func TestDeviceIDsAndLookup(t *testing.T) {
	svc := New(zap.NewNop(), clock.New(), newTestRegistry(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	a, err := svc.AddDevice(ctx, DeviceConfig{Type: "counter", Name: "a"})
	require.NoError(t, err)
	b, err := svc.AddDevice(ctx, DeviceConfig{Type: "counter", Name: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	got, err := svc.Get("b")
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = svc.Get("c")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Len(t, svc.List(), 2)
}

func TestOneMonitorPerPolledDevice(t *testing.T) {
	svc := New(zap.NewNop(), clock.New(), newTestRegistry(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	var devs []*Device
	for _, name := range []string{"a", "b", "c"} {
		dev, err := svc.AddDevice(ctx, DeviceConfig{Type: "counter", Name: name, PollInterval: 0.005})
		require.NoError(t, err)
		devs = append(devs, dev)
	}
	for _, dev := range devs {
		require.NoError(t, svc.Activate(ctx, dev))
		// Re-activation must not spawn a second monitor.
		require.NoError(t, svc.Activate(ctx, dev))
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, svc.MonitorCount())

	svc.StopMonitors()
	assert.Eventually(t, func() bool {
		return svc.MonitorCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestInterfaceLookup(t *testing.T) {
	svc := New(zap.NewNop(), clock.New(), newTestRegistry(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Start(ctx) }()

	_, err := svc.AddDevice(ctx, DeviceConfig{Type: "counter", Name: "a"})
	require.NoError(t, err)

	methods, err := svc.Interface("counter")
	require.NoError(t, err)
	assert.Contains(t, methods, "getEvents")

	_, err = svc.Interface("warp_drive")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
