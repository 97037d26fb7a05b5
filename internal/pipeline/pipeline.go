// Package pipeline converts, filters and fans out the events every device
// queued since the last tick: native tuples become canonical records with
// process-wide ids, filter chains run in registration order, and the
// results are delivered time-ordered to the device egress buffers, the
// global event buffer, the persistence sink and any extra listeners.
package pipeline

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

// drainLimit caps how many native events one device contributes per tick
// so a runaway producer cannot starve the serve loop.
const drainLimit = 4096

// Store is the slice of the persistence sink the processor needs.
type Store interface {
	WriteEvent(ev eventapi.Event) error
}

// Processor owns the per-tick conversion and fan-out. It runs only on the
// hub's serve goroutine; devices hand events across their ingress queues.
type Processor struct {
	log     *zap.Logger
	svc     *devsvc.Service
	global  *GlobalBuffer
	store   Store
	mirror  eventapi.Listener
	eventID *atomic.Uint64

	experimentID *atomic.Uint32
	sessionID    *atomic.Uint32
}

func New(log *zap.Logger, svc *devsvc.Service, global *GlobalBuffer) *Processor {
	return &Processor{
		log:          log,
		svc:          svc,
		global:       global,
		eventID:      atomic.NewUint64(0),
		experimentID: atomic.NewUint32(0),
		sessionID:    atomic.NewUint32(0),
	}
}

// SetStore attaches the persistence sink. Only events of devices with the
// save flag reach it.
func (p *Processor) SetStore(store Store) {
	p.store = store
}

// SetMirror attaches an extra hub-wide listener (the MQTT mirror).
func (p *Processor) SetMirror(mirror eventapi.Listener) {
	p.mirror = mirror
}

// SetSession stamps subsequent events with the active experiment and
// session ids.
func (p *Processor) SetSession(experimentID, sessionID uint32) {
	p.experimentID.Store(experimentID)
	p.sessionID.Store(sessionID)
}

// Session reports the experiment and session ids stamped on new events.
func (p *Processor) Session() (experimentID, sessionID uint32) {
	return p.experimentID.Load(), p.sessionID.Load()
}

// EventCount reports how many events have been assigned ids so far.
func (p *Processor) EventCount() uint64 {
	return p.eventID.Load()
}

type produced struct {
	dev *devsvc.Device
	ev  eventapi.Event
}

// Tick drains every device, converts and filters the new events, then
// delivers them in ascending hub-time order. The cross-device sort is what
// gives the client a globally time-ordered stream per tick even though
// devices are polled independently.
func (p *Processor) Tick() int {
	var batch []produced
	expID := p.experimentID.Load()
	sesID := p.sessionID.Load()
	for _, dev := range p.svc.List() {
		for _, native := range dev.DrainNative(drainLimit) {
			ev := dev.Convert(native, p.eventID.Inc())
			ev.ExperimentID = expID
			ev.SessionID = sesID
			for _, out := range p.applyFilters(dev, ev) {
				batch = append(batch, produced{dev: dev, ev: out})
			}
		}
	}
	if len(batch) == 0 {
		return 0
	}
	sortProduced(batch)
	for _, item := range batch {
		p.deliver(item.dev, item.ev)
	}
	return len(batch)
}

func (p *Processor) applyFilters(dev *devsvc.Device, ev eventapi.Event) []eventapi.Event {
	events := []eventapi.Event{ev}
	for _, f := range dev.Filters() {
		var next []eventapi.Event
		for _, in := range events {
			out, ok := p.applyOne(dev, f, in)
			if !ok {
				// A failing filter passes the event through unchanged
				// rather than dropping data.
				next = append(next, in)
				continue
			}
			next = append(next, out...)
		}
		events = next
	}
	return events
}

func (p *Processor) applyOne(dev *devsvc.Device, f eventapi.Filter, ev eventapi.Event) (out []eventapi.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Filter panicked",
				zap.String("device", dev.Name()),
				zap.Int32("filter", f.ID()),
				zap.Any("panic", r))
			out, ok = nil, false
		}
	}()
	return f.Apply(ev), true
}

func (p *Processor) deliver(dev *devsvc.Device, ev eventapi.Event) {
	dev.AppendEvent(ev)
	if err := p.global.HandleEvent(ev); err != nil {
		p.log.Error("Global buffer rejected event", zap.Error(err))
	}
	if p.store != nil && dev.SaveEvents() {
		if err := p.store.WriteEvent(ev); err != nil {
			p.log.Error("Datastore write failed", zap.Uint64("event", ev.ID), zap.Error(err))
		}
	}
	if p.mirror != nil {
		if err := p.mirror.HandleEvent(ev); err != nil {
			p.log.Warn("Mirror delivery failed", zap.Uint64("event", ev.ID), zap.Error(err))
		}
	}
	for _, l := range dev.ListenersFor(ev.Type) {
		if err := l.HandleEvent(ev); err != nil {
			p.log.Warn("Listener failed",
				zap.String("device", dev.Name()),
				zap.Uint64("event", ev.ID),
				zap.Error(err))
		}
	}
}

func sortProduced(batch []produced) {
	// Stable insertion-friendly sort on (Time, ID); batches are nearly
	// sorted already because devices queue in capture order.
	for i := 1; i < len(batch); i++ {
		for j := i; j > 0 && less(batch[j].ev, batch[j-1].ev); j-- {
			batch[j], batch[j-1] = batch[j-1], batch[j]
		}
	}
}

func less(a, b eventapi.Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.ID < b.ID
}

// ClearAll empties the global buffer and, when includeDevices is set,
// every device's queues and egress buffers.
func (p *Processor) ClearAll(includeDevices bool) {
	p.global.Clear()
	if !includeDevices {
		return
	}
	for _, dev := range p.svc.List() {
		dev.ClearEvents()
	}
}
