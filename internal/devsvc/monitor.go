package devsvc

import (
	"context"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Monitor drives one polled device at a fixed cadence. Each tick measures
// its own duration and sleeps only for the remainder of the period, so
// scheduling jitter does not accumulate into drift. A device running slower
// than its period is not an error; its confidence intervals widen and
// downstream consumers see the degraded timing.
type Monitor struct {
	log     *zap.Logger
	dev     *Device
	clock   Clock
	period  time.Duration
	running *atomic.Bool
}

func NewMonitor(log *zap.Logger, clk Clock, dev *Device) *Monitor {
	return &Monitor{
		log:     log,
		dev:     dev,
		clock:   clk,
		period:  time.Duration(dev.PollInterval() * float64(time.Second)),
		running: atomic.NewBool(false),
	}
}

func (m *Monitor) Running() bool {
	return m.running.Load()
}

// Stop ends the loop cooperatively before the next tick.
func (m *Monitor) Stop() {
	m.running.Store(false)
}

// Run ticks until the context is cancelled or Stop is called. Poll
// failures are logged and the loop continues; one device's trouble must
// not take the others down.
func (m *Monitor) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.running.Store(false)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if !m.running.Load() {
			return nil
		}
		start := m.clock.Now()
		m.pollOnce(start)
		remaining := m.period - time.Duration((m.clock.Now()-start)*float64(time.Second))
		if remaining < 0 {
			remaining = 0
		}
		timer.Reset(remaining)
	}
}

func (m *Monitor) pollOnce(now float64) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Poll panicked", zap.String("device", m.dev.Name()), zap.Any("panic", r))
		}
	}()
	if err := m.dev.Poll(now); err != nil {
		m.log.Warn("Poll failed", zap.String("device", m.dev.Name()), zap.Error(err))
	}
}
