// Package hub assembles and runs the event hub process: device service,
// pipeline, datastore, UDP endpoint and config watcher, supervised as one
// errgroup. The spawning client learns the outcome of startup through a
// single stdout sentinel line.
package hub

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/evtlab/iohub/devices"
	"github.com/evtlab/iohub/filters"
	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/internal/configsvc"
	"github.com/evtlab/iohub/internal/datastore"
	"github.com/evtlab/iohub/internal/devsvc"
	"github.com/evtlab/iohub/internal/netsvc"
	"github.com/evtlab/iohub/internal/pipeline"
	"github.com/evtlab/iohub/pkg/clock"
)

// Hub is the long-running server process behind a client connection.
type Hub struct {
	config Config
	log    *zap.Logger
	clock  *clock.Clock
	state  *HubState
	stdout io.Writer

	configSvc *configsvc.Service
	// lastDevices is the device list of the most recent accepted config,
	// the baseline reloads are diffed against. Touched only by loadConfig
	// and the watch callback.
	lastDevices []devsvc.DeviceConfig

	devSvc    *devsvc.Service
	global    *pipeline.GlobalBuffer
	proc      *pipeline.Processor
	store     *datastore.Sink
	mirror    *pipeline.Mirror
	server    *netsvc.Server
}

// New builds the hub's logger and clock. Everything that can fail in an
// interesting way waits until Run, after which failures are reported both
// on the error path and through the stdout sentinel.
func New(config Config) (*Hub, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if config.LogLevel != "" {
		level, err := zapcore.ParseLevel(config.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.LogLevel, err)
		}
		loggerConfig.Level = zap.NewAtomicLevelAt(level)
	}
	// Log to stderr only: stdout carries the readiness sentinel.
	loggerConfig.OutputPaths = []string{"stderr"}
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	var clk *clock.Clock
	if config.TimeBase > 0 {
		clk = clock.NewAt(config.TimeBase)
	} else {
		clk = clock.New()
	}

	return &Hub{
		config:    config,
		log:       logger,
		clock:     clk,
		state:     NewHubState(logger.Named("state")),
		stdout:    os.Stdout,
		configSvc: configsvc.New(logger.Named("config")),
	}, nil
}

// Run starts the hub and blocks until shutdown. The startup contract: on
// success exactly one IOHUB_READY line appears on stdout, on failure one
// IOHUB_FAILED line and a non-nil error.
func (h *Hub) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if h.config.CWD != "" {
		if err := os.Chdir(h.config.CWD); err != nil {
			return h.failStartup(fmt.Errorf("failed to change directory: %w", err))
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return h.configSvc.Start(groupCtx)
	})
	<-h.configSvc.Ready()

	cfg, err := h.loadConfig(groupCtx)
	if err != nil {
		return h.failStartup(err)
	}
	if err := h.build(groupCtx, cfg); err != nil {
		return h.failStartup(err)
	}
	// The lifecycle bus must run before the first AddDevice publishes on it.
	group.Go(func() error {
		return h.devSvc.Start(groupCtx)
	})

	usable := h.addConfiguredDevices(groupCtx, cfg.Devices)
	if usable == 0 {
		return h.failStartup(fmt.Errorf("no usable devices configured"))
	}
	if err := h.server.Listen(); err != nil {
		return h.failStartup(err)
	}

	if err := h.state.To(hubapi.PhaseReady); err != nil {
		return h.failStartup(err)
	}
	fmt.Fprintln(h.stdout, hubapi.ReadySentinel)
	h.log.Info("Hub ready", zap.String("listen", h.server.Addr().String()))

	for _, dev := range h.devSvc.List() {
		if err := h.devSvc.Activate(groupCtx, dev); err != nil {
			h.log.Error("Failed to activate device", zap.String("device", dev.Name()), zap.Error(err))
		}
	}
	if err := h.state.To(hubapi.PhaseRunning); err != nil {
		return h.failStartup(err)
	}

	group.Go(func() error {
		// Serve returns nil once a stop request has been served; cancel
		// the run context so the config and device services unwind and
		// group.Wait hands control to shutdown.
		defer cancel()
		return h.server.Serve(groupCtx)
	})
	if h.config.ClientPID > 0 {
		group.Go(func() error {
			return h.watchClient(groupCtx, h.config.ClientPID)
		})
	}

	err = group.Wait()
	return multierr.Append(err, h.shutdown())
}

func (h *Hub) loadConfig(ctx context.Context) (configsvc.HubConfig, error) {
	cfg, err := configsvc.Register(h.configSvc, h.config.ConfigPath, configsvc.HubConfig{},
		func(updated configsvc.HubConfig, err error) {
			h.onConfigReload(ctx, updated, err)
		})
	if err != nil {
		return cfg, fmt.Errorf("failed to load hub config: %w", err)
	}
	if h.config.Listen != "" {
		cfg.Listen = h.config.Listen
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.DataStore.Enable && cfg.DataStore.Path == "" && h.config.DataDir != "" {
		cfg.DataStore.Path = filepath.Join(h.config.DataDir, "events")
	}
	h.lastDevices = cfg.Devices
	return cfg, nil
}

func (h *Hub) build(ctx context.Context, cfg configsvc.HubConfig) error {
	filterFactory := filters.NewFactory(h.log.Named("filters"))
	registry := devsvc.NewRegistry(h.log.Named("devices"), h.clock)
	devices.Register(registry)

	h.devSvc = devsvc.New(h.log.Named("devsvc"), h.clock, registry, filterFactory.Build)
	h.global = pipeline.NewGlobalBuffer(cfg.GlobalEventBuffer)
	h.proc = pipeline.New(h.log.Named("pipeline"), h.devSvc, h.global)

	store, err := datastore.Open(h.log.Named("datastore"), cfg.DataStore)
	if err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	h.store = store
	h.proc.SetStore(store)

	if cfg.MQTT.Enable {
		mirror, err := pipeline.NewMirror(h.log.Named("mirror"), cfg.MQTT)
		if err != nil {
			// The mirror is an observer; a dead broker must not block
			// an experiment from starting.
			h.log.Error("Failed to start MQTT mirror", zap.Error(err))
		} else {
			h.mirror = mirror
			h.proc.SetMirror(mirror)
		}
	}

	h.server = netsvc.New(h.log.Named("net"), h.clock, h.devSvc, h.proc, h.global, h.store, netsvc.Options{
		Listen:       cfg.Listen,
		TickInterval: cfg.TickInterval,
		Phase:        h.state.Phase,
		OnStop: func() {
			h.log.Info("Stop requested by client")
		},
	})

	// Lifecycle log: additions arrive from config, RPC and the watcher.
	go func() {
		for msg := range h.devSvc.Bus().Subscribe(ctx) {
			h.log.Info("Device lifecycle event",
				zap.String("device", msg.Key),
				zap.Int("event", int(msg.Message)))
		}
	}()
	return nil
}

// addConfiguredDevices builds each enabled device entry, disabling only
// the offending entry on failure.
func (h *Hub) addConfiguredDevices(ctx context.Context, entries []devsvc.DeviceConfig) int {
	usable := 0
	for _, entry := range entries {
		if entry.Enable != nil && !*entry.Enable {
			h.log.Info("Skipping disabled device", zap.String("device", entry.Name))
			continue
		}
		if _, err := h.devSvc.AddDevice(ctx, entry); err != nil {
			h.log.Error("Disabling device with invalid configuration",
				zap.String("device", entry.Name), zap.Error(err))
			continue
		}
		usable++
	}
	return usable
}

// onConfigReload applies a rewritten config file to the running hub. Only
// device additions are actionable live; everything else needs a restart.
func (h *Hub) onConfigReload(ctx context.Context, updated configsvc.HubConfig, err error) {
	if err != nil {
		h.log.Error("Ignoring unreadable config update", zap.Error(err))
		return
	}
	if err := updated.Validate(); err != nil {
		h.log.Error("Ignoring invalid config update", zap.Error(err))
		return
	}
	diff := configsvc.DiffDevices(h.lastDevices, updated.Devices)
	h.lastDevices = updated.Devices
	for _, name := range diff.Removed {
		h.log.Warn("Device removed from config, restart required", zap.String("device", name))
	}
	for _, name := range diff.Changed {
		h.log.Warn("Device config changed, restart required", zap.String("device", name))
	}
	for _, entry := range diff.Added {
		entry := entry
		if entry.Enable != nil && !*entry.Enable {
			continue
		}
		h.server.Do(func() {
			dev, err := h.devSvc.AddDevice(ctx, entry)
			if err != nil {
				h.log.Error("Failed to add device from config update",
					zap.String("device", entry.Name), zap.Error(err))
				return
			}
			if err := h.devSvc.Activate(ctx, dev); err != nil {
				h.log.Error("Failed to activate device from config update",
					zap.String("device", entry.Name), zap.Error(err))
			}
		})
	}
}

// watchClient exits the hub when the spawning client process dies, so an
// aborted experiment script never leaves an orphaned hub behind.
func (h *Hub) watchClient(ctx context.Context, pid int) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := syscall.Kill(pid, 0); err != nil {
				h.log.Warn("Client process gone, shutting down", zap.Int("pid", pid))
				return fmt.Errorf("client process %d exited", pid)
			}
		}
	}
}

// shutdown drains in dependency order: stop event production, flush what
// was produced, then release the stores and devices.
func (h *Hub) shutdown() error {
	if err := h.state.To(hubapi.PhaseShuttingDown); err != nil {
		h.log.Warn("Unclean phase at shutdown", zap.Error(err))
	}
	h.devSvc.StopMonitors()
	for _, dev := range h.devSvc.List() {
		dev.EnableEventReporting(false)
	}
	h.proc.Tick()

	var errs error
	if err := h.store.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if h.mirror != nil {
		h.mirror.Close()
	}
	if err := h.devSvc.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := h.state.To(hubapi.PhaseTerminated); err != nil {
		h.log.Warn("Unclean phase at shutdown", zap.Error(err))
	}
	h.log.Info("Hub terminated")
	return errs
}

func (h *Hub) failStartup(err error) error {
	fmt.Fprintln(h.stdout, hubapi.FailedSentinel)
	h.log.Error("Hub startup failed", zap.Error(err))
	// Release what build opened; a failed startup must not leave the
	// datastore locked or the mirror connected.
	if h.store != nil {
		if cerr := h.store.Close(); cerr != nil {
			h.log.Warn("Failed to close datastore", zap.Error(cerr))
		}
	}
	if h.mirror != nil {
		h.mirror.Close()
	}
	if h.devSvc != nil {
		if cerr := h.devSvc.Close(); cerr != nil {
			h.log.Warn("Failed to close devices", zap.Error(cerr))
		}
	}
	return err
}
