package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/hubapi"
)

// GetEvents returns everything buffered hub-side plus whatever Wait
// collected into the replay buffer since the last call, replayed events
// first so the stream stays oldest-to-newest.
func (c *Connection) GetEvents() ([]eventapi.Event, error) {
	fresh, err := c.fetchEvents()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	replayed := c.replay
	c.replay = nil
	c.mu.Unlock()
	if len(replayed) == 0 {
		return fresh, nil
	}
	return append(replayed, fresh...), nil
}

func (c *Connection) fetchEvents() ([]eventapi.Event, error) {
	reply, err := c.roundTrip(hubapi.TagGetEvents, nil, true)
	if err != nil {
		return nil, err
	}
	result, err := hubapi.DecodeBody[hubapi.GetEventsResult](reply)
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Wait blocks for the given duration while keeping the event stream
// flowing: the hub buffers are polled into the client-side replay buffer
// so nothing is evicted hub-side during a long pause in the script. The
// return value is the actually elapsed time in seconds.
func (c *Connection) Wait(d time.Duration) float64 {
	start := c.clk.Now()
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(c.cfg.WaitPollInterval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		<-ticker.C
		events, err := c.fetchEvents()
		if err != nil {
			c.log.Debug("Event poll during wait failed")
			continue
		}
		c.buffer(events)
	}
	return c.clk.Now() - start
}

// buffer appends to the bounded replay buffer, evicting oldest first.
func (c *Connection) buffer(events []eventapi.Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replay = append(c.replay, events...)
	if over := len(c.replay) - c.cfg.ReplayBufferSize; over > 0 {
		c.replay = append(c.replay[:0:0], c.replay[over:]...)
	}
}

// Event clearing scopes.
const (
	ScopeLocal = "local"
	ScopeAll   = "all"
)

// ClearEvents discards buffered events. Scope is ScopeLocal (replay
// buffer only), ScopeAll (every hub and client buffer) or a device name.
func (c *Connection) ClearEvents(scope string) error {
	switch scope {
	case ScopeLocal, "":
		c.mu.Lock()
		c.replay = nil
		c.mu.Unlock()
		return nil
	case ScopeAll:
		c.mu.Lock()
		c.replay = nil
		c.mu.Unlock()
		_, err := rpc[bool](c, false, "clearEventBuffer", true)
		return err
	default:
		dev, err := c.Device(scope)
		if err != nil {
			return err
		}
		return dev.ClearEvents()
	}
}

// SendMessageEvent injects an experiment MESSAGE event into the hub's
// event stream, stamped with the client's idea of hub time.
func (c *Connection) SendMessageEvent(text, category string, offset float64) error {
	return c.sendExperimentEvents(eventapi.Event{
		Type:    eventapi.TypeMessage,
		Time:    c.HubTime(),
		Payload: eventapi.MessagePayload{Category: category, Text: text, Offset: offset},
	})
}

// SendLogEvent injects an experiment LOG event into the hub's event
// stream.
func (c *Connection) SendLogEvent(text, level string) error {
	return c.sendExperimentEvents(eventapi.Event{
		Type:    eventapi.TypeLog,
		Time:    c.HubTime(),
		Payload: eventapi.LogPayload{Level: level, Text: text},
	})
}

func (c *Connection) sendExperimentEvents(events ...eventapi.Event) error {
	reply, err := c.expDevice(hubapi.ExpDeviceRequest{
		SubTag: hubapi.SubEventTx,
		Events: events,
	}, false)
	if err != nil {
		return err
	}
	result, err := hubapi.DecodeBody[hubapi.EventTxResult](reply)
	if err != nil {
		return err
	}
	if result.Accepted != len(events) {
		return fmt.Errorf("hub accepted %d of %d events", result.Accepted, len(events))
	}
	return nil
}

// DeviceConfig mirrors one hub config device entry for dynamic addition.
type DeviceConfig struct {
	Type              string          `json:"type"`
	Name              string          `json:"name"`
	ReportEvents      *bool           `json:"report_events,omitempty"`
	SaveEvents        bool            `json:"save_events,omitempty"`
	EventBufferLength int             `json:"event_buffer_length,omitempty"`
	PollInterval      float64         `json:"poll_interval,omitempty"`
	Filters           []string        `json:"filters,omitempty"`
	Settings          json.RawMessage `json:"settings,omitempty"`
}

// AddDevice registers and activates a device on the running hub and
// returns its proxy.
func (c *Connection) AddDevice(cfg DeviceConfig) (*DeviceProxy, error) {
	raw, err := hubapi.EncodeValue(cfg)
	if err != nil {
		return nil, err
	}
	reply, err := c.expDevice(hubapi.ExpDeviceRequest{
		SubTag:       hubapi.SubAddDevice,
		DeviceConfig: raw,
	}, false)
	if err != nil {
		return nil, err
	}
	result, err := hubapi.DecodeBody[hubapi.AddDeviceResult](reply)
	if err != nil {
		return nil, err
	}

	ifaceReply, err := c.expDevice(hubapi.ExpDeviceRequest{
		SubTag:      hubapi.SubGetDevInterface,
		DeviceClass: result.Device.Class,
	}, true)
	if err != nil {
		return nil, err
	}
	iface, err := hubapi.DecodeBody[hubapi.DevInterfaceResult](ifaceReply)
	if err != nil {
		return nil, err
	}
	proxy := newDeviceProxy(c, result.Device, iface.Methods)
	c.mu.Lock()
	c.devices[result.Device.Name] = proxy
	c.mu.Unlock()
	return proxy, nil
}
