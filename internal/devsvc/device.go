package devsvc

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

const (
	// DefaultEventBufferLength bounds each per-type egress deque.
	DefaultEventBufferLength = 256
	// DefaultIngressLength bounds the native-event ingress queue.
	DefaultIngressLength = 1024
)

// Device is one monitored peripheral: the class implementation plus the
// buffers, listener registrations, filters and dispatch table the hub wraps
// around it. All methods except EnqueueNative are called only from the
// hub's processing goroutine.
type Device struct {
	log   *zap.Logger
	clock Clock

	name    string
	class   string
	id      uint8
	typeTag eventapi.DeviceType
	impl    Impl

	pollInterval float64
	saveEvents   bool
	egressCap    int

	reporting *atomic.Bool
	connected *atomic.Bool
	lastPoll  *atomic.Float64

	ingress   *ingressQueue
	egress    map[eventapi.Type]*eventDeque
	listeners []listenerEntry
	filters   []eventapi.Filter
	dispatch  map[string]Handler
}

type listenerEntry struct {
	listener eventapi.Listener
	types    map[eventapi.Type]struct{} // nil means every type
}

// DeviceOptions carries the per-device configuration shared by all classes.
type DeviceOptions struct {
	Name              string
	Class             string
	ID                uint8
	TypeTag           eventapi.DeviceType
	PollInterval      float64
	ReportEvents      bool
	SaveEvents        bool
	EventBufferLength int
	Filters           []eventapi.Filter
}

func NewDevice(log *zap.Logger, clk Clock, impl Impl, opts DeviceOptions) *Device {
	if opts.EventBufferLength <= 0 {
		opts.EventBufferLength = DefaultEventBufferLength
	}
	d := &Device{
		log:          log,
		clock:        clk,
		name:         opts.Name,
		class:        opts.Class,
		id:           opts.ID,
		typeTag:      opts.TypeTag,
		impl:         impl,
		pollInterval: opts.PollInterval,
		saveEvents:   opts.SaveEvents,
		egressCap:    opts.EventBufferLength,
		reporting:    atomic.NewBool(opts.ReportEvents),
		connected:    atomic.NewBool(true),
		lastPoll:     atomic.NewFloat64(clk.Now()),
		ingress:      newIngressQueue(DefaultIngressLength),
		egress:       make(map[eventapi.Type]*eventDeque),
		filters:      opts.Filters,
	}
	d.dispatch = buildDispatch(d)
	return d
}

func (d *Device) Name() string                 { return d.name }
func (d *Device) Class() string                { return d.class }
func (d *Device) ID() uint8                    { return d.id }
func (d *Device) TypeTag() eventapi.DeviceType { return d.typeTag }
func (d *Device) SaveEvents() bool             { return d.saveEvents }
func (d *Device) PollInterval() float64        { return d.pollInterval }
func (d *Device) Filters() []eventapi.Filter   { return d.filters }

// Polled reports whether the device is read on a monitor schedule.
func (d *Device) Polled() bool {
	_, ok := d.impl.(Poller)
	return ok && d.pollInterval > 0
}

func (d *Device) Connected() bool {
	return d.connected.Load()
}

func (d *Device) SetConnected(v bool) {
	d.connected.Store(v)
}

func (d *Device) IsReportingEvents() bool {
	return d.reporting.Load()
}

// EnableEventReporting toggles the reporting gate and returns the resulting
// state. Enabling discards anything queued while the gate was closed so a
// fresh session does not start with stale events.
func (d *Device) EnableEventReporting(enabled bool) bool {
	if enabled && !d.reporting.Load() {
		d.ClearEvents()
	}
	d.reporting.Store(enabled)
	return enabled
}

// EnqueueNative pushes a raw event into the ingress queue. Safe to call
// from any goroutine; this is the only Device method with that property.
// While reporting is disabled the event is discarded before queueing.
func (d *Device) EnqueueNative(ev NativeEvent) bool {
	if !d.reporting.Load() {
		return false
	}
	if ev.LoggedTime == 0 {
		ev.LoggedTime = d.clock.Now()
	}
	d.ingress.Enqueue(ev)
	return true
}

// StartHook attaches the implementation's callback source, if it has one.
func (d *Device) StartHook() error {
	h, ok := d.impl.(Hooked)
	if !ok {
		return nil
	}
	if err := h.StartHook(d.EnqueueNative); err != nil {
		d.connected.Store(false)
		return &DeviceRuntimeError{Device: d.name, Op: "start hook", Err: err}
	}
	return nil
}

// Poll reads the implementation's current state and queues the resulting
// native events stamped with the interval since the previous poll as their
// confidence bound.
func (d *Device) Poll(now float64) error {
	p, ok := d.impl.(Poller)
	if !ok {
		return &DeviceRuntimeError{Device: d.name, Op: "poll", Err: ErrNotPolled}
	}
	prev := d.lastPoll.Swap(now)
	events, err := p.Poll(now)
	if err != nil {
		return &DeviceRuntimeError{Device: d.name, Op: "poll", Err: err}
	}
	ci := now - prev
	for _, ev := range events {
		if ev.LoggedTime == 0 {
			ev.LoggedTime = now
		}
		ev.Confidence = ci
		d.EnqueueNative(ev)
	}
	return nil
}

// DrainNative removes queued raw events for pipeline conversion.
func (d *Device) DrainNative(max int) []NativeEvent {
	return d.ingress.Drain(max)
}

// Convert turns a drained native event into a canonical event record.
func (d *Device) Convert(n NativeEvent, id uint64) eventapi.Event {
	return eventapi.Event{
		ID:                 id,
		DeviceID:           d.id,
		Type:               n.Type,
		DeviceTime:         n.DeviceTime,
		LoggedTime:         n.LoggedTime,
		Time:               n.LoggedTime - n.Delay,
		ConfidenceInterval: n.Confidence,
		Delay:              n.Delay,
		Payload:            n.Payload,
	}
}

// AppendEvent stores a converted event in the per-type egress deque.
func (d *Device) AppendEvent(ev eventapi.Event) {
	dq, ok := d.egress[ev.Type]
	if !ok {
		dq = newEventDeque(d.egressCap)
		d.egress[ev.Type] = dq
	}
	dq.Append(ev)
}

// GetEvents drains and returns buffered events, optionally narrowed to one
// type (zero means all). The result is time ordered.
func (d *Device) GetEvents(t eventapi.Type) []eventapi.Event {
	if t != 0 {
		dq, ok := d.egress[t]
		if !ok {
			return nil
		}
		return dq.DrainAll()
	}
	var out []eventapi.Event
	for _, dq := range d.egress {
		out = append(out, dq.DrainAll()...)
	}
	eventapi.SortByTime(out)
	return out
}

// ClearEvents discards queued raw events and buffered converted events.
func (d *Device) ClearEvents() {
	for {
		if len(d.ingress.Drain(256)) == 0 {
			break
		}
	}
	for _, dq := range d.egress {
		dq.Clear()
	}
}

// BufferedCount reports how many converted events are waiting in egress.
func (d *Device) BufferedCount() int {
	n := 0
	for _, dq := range d.egress {
		n += dq.Len()
	}
	return n
}

// AddListener registers a fan-out target. With no types the listener
// receives every event the device produces.
func (d *Device) AddListener(l eventapi.Listener, types ...eventapi.Type) {
	entry := listenerEntry{listener: l}
	if len(types) > 0 {
		entry.types = make(map[eventapi.Type]struct{}, len(types))
		for _, t := range types {
			entry.types[t] = struct{}{}
		}
	}
	d.listeners = append(d.listeners, entry)
}

func (d *Device) RemoveListener(l eventapi.Listener) {
	out := d.listeners[:0]
	for _, entry := range d.listeners {
		if entry.listener != l {
			out = append(out, entry)
		}
	}
	d.listeners = out
}

// ListenersFor returns the listeners registered for an event type.
func (d *Device) ListenersFor(t eventapi.Type) []eventapi.Listener {
	var out []eventapi.Listener
	for _, entry := range d.listeners {
		if entry.types == nil {
			out = append(out, entry.listener)
			continue
		}
		if _, ok := entry.types[t]; ok {
			out = append(out, entry.listener)
		}
	}
	return out
}

func (d *Device) Close() error {
	var firstErr error
	if h, ok := d.impl.(Hooked); ok {
		if err := h.StopHook(); err != nil {
			firstErr = fmt.Errorf("failed to stop hook for %s: %w", d.name, err)
		}
	}
	if err := d.impl.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close %s: %w", d.name, err)
	}
	d.ClearEvents()
	d.connected.Store(false)
	return firstErr
}
