package filters

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/evtlab/iohub/eventapi"
)

const (
	knotCenter = "center"
	knotEdge   = "edge"
)

type windowConfig struct {
	ID     int32    `json:"id"`
	Length int      `json:"length"`
	Knot   string   `json:"knot,omitempty"`
	Types  []string `json:"types,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

func parseWindowConfig(config json.RawMessage) (windowConfig, error) {
	cfg := windowConfig{Knot: knotCenter}
	if err := json.Unmarshal(config, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid window filter config: %w", err)
	}
	if cfg.Length < 2 {
		return cfg, fmt.Errorf("window length must be at least 2, got %d", cfg.Length)
	}
	if cfg.Knot != knotCenter && cfg.Knot != knotEdge {
		return cfg, fmt.Errorf("knot must be %q or %q, got %q", knotCenter, knotEdge, cfg.Knot)
	}
	for _, f := range cfg.Fields {
		if _, ok := fieldTable[f]; !ok {
			return cfg, fmt.Errorf("unknown filter field %q", f)
		}
	}
	return cfg, nil
}

// windowed holds a sliding window of matching events and emits one
// aggregated event per input once the window is full. The knot selects
// which window element lends the emitted event its identity and timestamps:
// center halves the filter-induced lag at the cost of emitting an event
// whose values include samples captured after its timestamp.
type windowed struct {
	id     int32
	length int
	knot   string
	types  map[eventapi.Type]struct{}
	fields []string
	agg    func([]float64) float64

	win []eventapi.Event
}

func newWindowed(cfg windowConfig, agg func([]float64) float64) (*windowed, error) {
	w := &windowed{
		id:     cfg.ID,
		length: cfg.Length,
		knot:   cfg.Knot,
		fields: cfg.Fields,
		agg:    agg,
	}
	if len(cfg.Types) > 0 {
		w.types = make(map[eventapi.Type]struct{}, len(cfg.Types))
		for _, name := range cfg.Types {
			t, ok := eventapi.TypeByName(name)
			if !ok {
				return nil, fmt.Errorf("unknown event type %q", name)
			}
			w.types[t] = struct{}{}
		}
	}
	return w, nil
}

func (w *windowed) ID() int32 {
	return w.id
}

func (w *windowed) Apply(ev eventapi.Event) []eventapi.Event {
	if w.types != nil {
		if _, ok := w.types[ev.Type]; !ok {
			return []eventapi.Event{ev}
		}
	}
	w.win = append(w.win, ev)
	if len(w.win) < w.length {
		return nil
	}
	out := w.emit()
	w.win = w.win[1:]
	return []eventapi.Event{out}
}

func (w *windowed) emit() eventapi.Event {
	idx := len(w.win) - 1
	if w.knot == knotCenter {
		idx = len(w.win) / 2
	}
	out := w.win[idx]
	out.FilterID = w.id

	if frame, ok := out.Payload.(eventapi.AnalogInputPayload); ok {
		out.Payload = w.aggregateChannels(frame)
		return out
	}
	fields := w.fields
	if len(fields) == 0 {
		fields = defaultFields(out.Payload)
	}
	for _, name := range fields {
		access := fieldTable[name]
		values := make([]float64, 0, len(w.win))
		for _, sample := range w.win {
			if v, ok := access.get(sample.Payload); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		out.Payload = access.set(out.Payload, w.agg(values))
	}
	return out
}

func (w *windowed) aggregateChannels(base eventapi.AnalogInputPayload) eventapi.AnalogInputPayload {
	channels := make([]float64, len(base.Channels))
	values := make([]float64, 0, len(w.win))
	for i := range channels {
		values = values[:0]
		for _, sample := range w.win {
			frame, ok := sample.Payload.(eventapi.AnalogInputPayload)
			if !ok || i >= len(frame.Channels) {
				continue
			}
			values = append(values, frame.Channels[i])
		}
		if len(values) == 0 {
			continue
		}
		channels[i] = w.agg(values)
	}
	base.Channels = channels
	return base
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
