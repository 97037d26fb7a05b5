// Package client is the experiment-process side of the hub protocol. It
// spawns the hub, synchronizes clocks, builds device proxies with closed
// method sets and exposes the event stream through synchronous calls on
// the caller's goroutine.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/hubapi"
	"github.com/evtlab/iohub/pkg/clock"
)

// DefaultAddress is where a spawned hub is told to listen when the
// config does not say otherwise.
const DefaultAddress = "127.0.0.1:9034"

var (
	// ErrStartupTimeout reports a spawned hub that never printed its
	// readiness sentinel.
	ErrStartupTimeout = errors.New("hub process did not become ready in time")
	// ErrTimeout reports an exhausted request retry budget.
	ErrTimeout = errors.New("hub request timed out")
	// ErrClosed reports use of a connection after Quit.
	ErrClosed = errors.New("connection is closed")
)

// Config controls how a connection is established and how it behaves.
type Config struct {
	// Executable is the iohubd binary; spawned by Connect, ignored by Dial.
	Executable string
	ConfigPath string
	DataDir    string
	LogLevel   string

	// Address is the hub endpoint for Dial.
	Address string

	StartupTimeout   time.Duration
	RequestTimeout   time.Duration
	RequestRetries   int
	WaitPollInterval time.Duration
	ReplayBufferSize int

	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.Executable == "" {
		c.Executable = "iohubd"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 500 * time.Millisecond
	}
	if c.RequestRetries <= 0 {
		c.RequestRetries = 3
	}
	if c.WaitPollInterval <= 0 {
		c.WaitPollInterval = 20 * time.Millisecond
	}
	if c.ReplayBufferSize <= 0 {
		c.ReplayBufferSize = 4096
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Connection is a live link to one hub process. All methods run their
// round trip synchronously on the caller's goroutine; a mutex serializes
// concurrent callers over the single socket.
type Connection struct {
	cfg  Config
	log  *zap.Logger
	clk  *clock.Clock
	conn *net.UDPConn
	cmd  *exec.Cmd

	// offset is the residual hub-minus-client clock offset measured by
	// the sync handshake.
	offset float64

	mu       sync.Mutex
	replay   []eventapi.Event
	devices  map[string]*DeviceProxy
	quitting *atomic.Bool
	closed   *atomic.Bool
}

// Connect spawns a hub process, waits for its readiness sentinel, dials
// it and completes the clock handshake and device discovery.
func Connect(ctx context.Context, cfg Config) (*Connection, error) {
	cfg.setDefaults()
	clk := clock.New()
	address := cfg.Address
	if address == "" {
		address = DefaultAddress
	}

	args := []string{
		"run",
		"--config", cfg.ConfigPath,
		"--time-base", fmt.Sprintf("%.6f", clk.TimeBase()),
		"--client-pid", fmt.Sprint(os.Getpid()),
		"--listen", address,
	}
	if cfg.DataDir != "" {
		args = append(args, "--data-dir", cfg.DataDir)
	}
	if cfg.LogLevel != "" {
		args = append(args, "--log-level", cfg.LogLevel)
	}
	if cwd, err := os.Getwd(); err == nil {
		args = append(args, "--cwd", cwd)
	}

	cmd := exec.CommandContext(ctx, cfg.Executable, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open hub stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn hub: %w", err)
	}

	if err := awaitSentinel(stdout, cfg.StartupTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	c, err := dial(clk, cfg, address)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	c.cmd = cmd
	if err := c.handshake(); err != nil {
		c.teardown()
		return nil, err
	}
	return c, nil
}

// Dial connects to an already running hub, for tests and external hub
// deployments. No process is spawned; Quit only closes the socket.
func Dial(ctx context.Context, cfg Config) (*Connection, error) {
	cfg.setDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("dial requires an address")
	}
	c, err := dial(clock.New(), cfg, cfg.Address)
	if err != nil {
		return nil, err
	}
	if err := c.handshake(); err != nil {
		c.teardown()
		return nil, err
	}
	return c, nil
}

func dial(clk *clock.Clock, cfg Config, address string) (*Connection, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("invalid hub address %q: %w", address, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial hub: %w", err)
	}
	return &Connection{
		cfg:      cfg,
		log:      cfg.Logger,
		clk:      clk,
		conn:     conn,
		devices:  make(map[string]*DeviceProxy),
		quitting: atomic.NewBool(false),
		closed:   atomic.NewBool(false),
	}, nil
}

// awaitSentinel scans the hub's stdout for the startup outcome, the sole
// synchronization channel between the two processes.
func awaitSentinel(stdout interface{ Read([]byte) (int, error) }, timeout time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case hubapi.ReadySentinel:
				ch <- nil
				return
			case hubapi.FailedSentinel:
				ch <- errors.New("hub reported startup failure")
				return
			}
		}
		ch <- fmt.Errorf("hub stdout closed before sentinel: %w", ErrStartupTimeout)
	}()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return ErrStartupTimeout
	}
}

// handshake runs the clock sync and discovers the hub's device table.
func (c *Connection) handshake() error {
	if err := c.syncClock(); err != nil {
		return err
	}
	return c.discoverDevices()
}

// syncClock estimates the residual clock offset from three round trips,
// trusting only the one with the smallest RTT.
func (c *Connection) syncClock() error {
	bestRTT := -1.0
	for i := 0; i < 3; i++ {
		sent := c.clk.Now()
		reply, err := c.roundTrip(hubapi.TagSyncReq, hubapi.SyncRequest{ClientTime: sent}, true)
		if err != nil {
			return fmt.Errorf("clock sync failed: %w", err)
		}
		sync, err := hubapi.DecodeBody[hubapi.SyncReply](reply)
		if err != nil {
			return fmt.Errorf("bad sync reply: %w", err)
		}
		recv := c.clk.Now()
		rtt := (recv - sent) - (sync.HubSendTime - sync.HubRecvTime)
		if bestRTT >= 0 && rtt >= bestRTT {
			continue
		}
		bestRTT = rtt
		hubMid := (sync.HubRecvTime + sync.HubSendTime) / 2
		clientMid := (sent + recv) / 2
		c.offset = hubMid - clientMid
	}
	c.log.Debug("Clock synchronized",
		zap.Float64("offset", c.offset),
		zap.Float64("rtt", bestRTT))
	return nil
}

// HubTime converts the local clock reading into the hub's timeline.
func (c *Connection) HubTime() float64 {
	return c.clk.Now() + c.offset
}

// Offset reports the measured hub-minus-client clock offset in seconds.
func (c *Connection) Offset() float64 {
	return c.offset
}

func (c *Connection) discoverDevices() error {
	reply, err := c.expDevice(hubapi.ExpDeviceRequest{SubTag: hubapi.SubGetDeviceList}, true)
	if err != nil {
		return fmt.Errorf("device discovery failed: %w", err)
	}
	list, err := hubapi.DecodeBody[hubapi.DeviceListResult](reply)
	if err != nil {
		return fmt.Errorf("bad device list: %w", err)
	}
	interfaces := make(map[string][]string)
	for _, info := range list.Devices {
		methods, ok := interfaces[info.Class]
		if !ok {
			ifaceReply, err := c.expDevice(hubapi.ExpDeviceRequest{
				SubTag:      hubapi.SubGetDevInterface,
				DeviceClass: info.Class,
			}, true)
			if err != nil {
				return fmt.Errorf("interface discovery for %s failed: %w", info.Class, err)
			}
			iface, err := hubapi.DecodeBody[hubapi.DevInterfaceResult](ifaceReply)
			if err != nil {
				return fmt.Errorf("bad interface reply: %w", err)
			}
			methods = iface.Methods
			interfaces[info.Class] = methods
		}
		c.devices[info.Name] = newDeviceProxy(c, info, methods)
	}
	return nil
}

// Device returns the proxy for a hub device by name.
func (c *Connection) Device(name string) (*DeviceProxy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.devices[name]
	if !ok {
		return nil, hubapi.NewRPCError(hubapi.ErrTagDeviceNotFound, fmt.Sprintf("no device named %q", name))
	}
	return dev, nil
}

// Devices lists the known device proxies.
func (c *Connection) Devices() []*DeviceProxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*DeviceProxy, 0, len(c.devices))
	for _, dev := range c.devices {
		out = append(out, dev)
	}
	return out
}

// Ping checks hub liveness.
func (c *Connection) Ping() error {
	reply, err := c.roundTrip(hubapi.TagPing, nil, true)
	if err != nil {
		return err
	}
	if reply.Tag != hubapi.TagPingBack {
		return fmt.Errorf("unexpected ping reply %q", reply.Tag)
	}
	return nil
}

// Status reports the hub lifecycle phase and counters.
func (c *Connection) Status() (hubapi.StatusResult, error) {
	reply, err := c.roundTrip(hubapi.TagGetStatus, nil, true)
	if err != nil {
		return hubapi.StatusResult{}, err
	}
	return hubapi.DecodeBody[hubapi.StatusResult](reply)
}

// Quit shuts the hub down and releases the connection. It is idempotent;
// a hub that died already is not an error.
func (c *Connection) Quit() error {
	if !c.quitting.CompareAndSwap(false, true) {
		return nil
	}
	_, err := c.roundTrip(hubapi.TagStopServer, nil, false)
	if err != nil {
		c.log.Debug("Stop request failed, killing hub", zap.Error(err))
	}
	c.teardown()
	return nil
}

func (c *Connection) teardown() {
	c.closed.Store(true)
	_ = c.conn.Close()
	if c.cmd == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_, _ = c.cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		<-done
	}
}
