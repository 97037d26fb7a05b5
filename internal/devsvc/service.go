package devsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/pkg/bus"
	"github.com/evtlab/iohub/pkg/registry"
)

// Class is what a device-class creator returns: the implementation plus
// the class-level constants the service needs to wrap it in a Device.
type Class struct {
	Impl                Impl
	TypeTag             eventapi.DeviceType
	DefaultPollInterval float64
}

// Provider is handed to device-class creators.
type Provider struct {
	Log   *zap.Logger
	Clock Clock
}

// Registry maps device class names to creators.
type Registry = registry.Registry[Class, Provider]

func NewRegistry(log *zap.Logger, clk Clock) *Registry {
	return registry.New[Class, Provider](Provider{Log: log, Clock: clk})
}

// FilterFactory builds one event filter from its DSL spec string.
type FilterFactory func(spec string, id int32) (eventapi.Filter, error)

// DeviceConfig is one entry of the hub config's devices list.
type DeviceConfig struct {
	Type              string          `json:"type"`
	Name              string          `json:"name"`
	Enable            *bool           `json:"enable,omitempty"`
	ReportEvents      *bool           `json:"report_events,omitempty"`
	SaveEvents        bool            `json:"save_events,omitempty"`
	EventBufferLength int             `json:"event_buffer_length,omitempty"`
	PollInterval      float64         `json:"poll_interval,omitempty"`
	Filters           []string        `json:"filters,omitempty"`
	Settings          json.RawMessage `json:"settings,omitempty"`
}

// LifecycleEvent announces a device table change on the service bus.
type LifecycleEvent uint8

const (
	DeviceAdded LifecycleEvent = iota
	DeviceClosed
)

type Bus = bus.Bus[string, LifecycleEvent]

// Service owns the hub's device table. Devices are created from
// configuration at startup or added dynamically; both paths announce the
// addition on the lifecycle bus, where the hub arms the device's monitor
// or hook.
type Service struct {
	log           *zap.Logger
	clock         Clock
	registry      *Registry
	filterFactory FilterFactory

	bus      *Bus
	devices  []*Device
	byName   map[string]*Device
	monitors map[string]*Monitor
	nextID   uint8
	filterID int32
}

func New(log *zap.Logger, clk Clock, reg *Registry, filters FilterFactory) *Service {
	return &Service{
		log:           log,
		clock:         clk,
		registry:      reg,
		filterFactory: filters,
		bus:           bus.New[string, LifecycleEvent](log.Named("bus")),
		byName:        make(map[string]*Device),
		monitors:      make(map[string]*Monitor),
		nextID:        1,
	}
}

func (s *Service) Bus() *Bus {
	return s.bus
}

// Start runs the lifecycle bus until the context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device bus: %w", err)
	}
	<-ctx.Done()
	return nil
}

// AddDevice validates a device config entry, builds the class
// implementation and registers the wrapped device. The addition is
// announced on the lifecycle bus.
func (s *Service) AddDevice(ctx context.Context, cfg DeviceConfig) (*Device, error) {
	if cfg.Type == "" {
		return nil, &ConfigError{Path: "devices[].type", Reason: "device type is required"}
	}
	if cfg.Name == "" {
		return nil, &ConfigError{Path: "devices[].name", Reason: "device name is required"}
	}
	if _, ok := s.byName[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, cfg.Name)
	}
	if !s.registry.Has(cfg.Type) {
		return nil, &ConfigError{
			Path:   fmt.Sprintf("devices.%s.type", cfg.Name),
			Reason: fmt.Sprintf("unknown device type %q", cfg.Type),
		}
	}
	class, err := s.registry.New(cfg.Type, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create device %s: %w", cfg.Name, err)
	}

	filters, err := s.buildFilters(cfg)
	if err != nil {
		return nil, err
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = class.DefaultPollInterval
	}
	reporting := true
	if cfg.ReportEvents != nil {
		reporting = *cfg.ReportEvents
	}
	dev := NewDevice(s.log.Named(cfg.Name), s.clock, class.Impl, DeviceOptions{
		Name:              cfg.Name,
		Class:             cfg.Type,
		ID:                s.nextID,
		TypeTag:           class.TypeTag,
		PollInterval:      pollInterval,
		ReportEvents:      reporting,
		SaveEvents:        cfg.SaveEvents,
		EventBufferLength: cfg.EventBufferLength,
		Filters:           filters,
	})
	s.nextID++
	s.devices = append(s.devices, dev)
	s.byName[cfg.Name] = dev
	s.bus.Publish(ctx, cfg.Name, DeviceAdded)
	s.log.Info("Device added",
		zap.String("name", cfg.Name),
		zap.String("type", cfg.Type),
		zap.Float64("pollInterval", pollInterval))
	return dev, nil
}

func (s *Service) buildFilters(cfg DeviceConfig) ([]eventapi.Filter, error) {
	if len(cfg.Filters) == 0 {
		return nil, nil
	}
	if s.filterFactory == nil {
		return nil, &ConfigError{
			Path:   fmt.Sprintf("devices.%s.filters", cfg.Name),
			Reason: "no filter factory configured",
		}
	}
	out := make([]eventapi.Filter, 0, len(cfg.Filters))
	for _, spec := range cfg.Filters {
		s.filterID++
		f, err := s.filterFactory(spec, s.filterID)
		if err != nil {
			return nil, &ConfigError{
				Path:   fmt.Sprintf("devices.%s.filters", cfg.Name),
				Reason: err.Error(),
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// Activate arms a device's event production: a monitor goroutine for
// polled devices, the OS hook for callback-driven ones.
func (s *Service) Activate(ctx context.Context, dev *Device) error {
	if dev.Polled() {
		if _, ok := s.monitors[dev.Name()]; ok {
			return nil
		}
		mon := NewMonitor(s.log.Named("monitor"), s.clock, dev)
		s.monitors[dev.Name()] = mon
		go func() {
			if err := mon.Run(ctx); err != nil {
				s.log.Error("Monitor stopped", zap.String("device", dev.Name()), zap.Error(err))
			}
		}()
		return nil
	}
	return dev.StartHook()
}

// Get returns a device by name.
func (s *Service) Get(name string) (*Device, error) {
	dev, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return dev, nil
}

// List returns the devices in registration order.
func (s *Service) List() []*Device {
	return s.devices
}

// MonitorCount reports how many monitors are currently running.
func (s *Service) MonitorCount() int {
	n := 0
	for _, m := range s.monitors {
		if m.Running() {
			n++
		}
	}
	return n
}

// Interface returns the wire method set of a device class, read from any
// live device of that class.
func (s *Service) Interface(class string) ([]string, error) {
	for _, dev := range s.devices {
		if dev.Class() == class {
			return dev.Methods(), nil
		}
	}
	return nil, fmt.Errorf("%w: no device of class %s", ErrDeviceNotFound, class)
}

// StopMonitors halts all poll loops cooperatively.
func (s *Service) StopMonitors() {
	for _, m := range s.monitors {
		m.Stop()
	}
}

// Close shuts down every device, aggregating per-device close failures.
func (s *Service) Close() error {
	s.StopMonitors()
	var errs error
	for _, dev := range s.devices {
		if err := dev.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
