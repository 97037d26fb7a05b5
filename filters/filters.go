package filters

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/pkg/registry"
)

// Provider is handed to filter creators.
type Provider struct {
	Log *zap.Logger
}

// Factory builds filter chains from DSL declarations through a component
// registry. The built-in filters are registered on construction.
type Factory struct {
	reg *registry.Registry[eventapi.Filter, Provider]
}

func NewFactory(log *zap.Logger) *Factory {
	f := &Factory{reg: registry.New[eventapi.Filter, Provider](Provider{Log: log})}
	f.reg.Register("passthrough", func(config json.RawMessage, p Provider) (eventapi.Filter, error) {
		var cfg struct {
			ID int32 `json:"id"`
		}
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
		return &passThrough{id: cfg.ID}, nil
	})
	f.reg.Register("moving_window", func(config json.RawMessage, p Provider) (eventapi.Filter, error) {
		cfg, err := parseWindowConfig(config)
		if err != nil {
			return nil, err
		}
		return newWindowed(cfg, mean)
	})
	f.reg.Register("median", func(config json.RawMessage, p Provider) (eventapi.Filter, error) {
		cfg, err := parseWindowConfig(config)
		if err != nil {
			return nil, err
		}
		return newWindowed(cfg, median)
	})
	return f
}

// Register adds a custom filter type.
func (f *Factory) Register(name string, creator registry.Creator[eventapi.Filter, Provider]) {
	f.reg.Register(name, creator)
}

// Build parses one DSL declaration and instantiates the filter it names,
// assigning the given filter id.
func (f *Factory) Build(spec string, id int32) (eventapi.Filter, error) {
	parsed, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	if !f.reg.Has(parsed.Name) {
		return nil, fmt.Errorf("unknown filter %q", parsed.Name)
	}
	cfg := parsed.Config()
	cfg["id"] = id
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter config: %w", err)
	}
	return f.reg.New(parsed.Name, raw)
}

type passThrough struct {
	id int32
}

func (p *passThrough) ID() int32 {
	return p.id
}

func (p *passThrough) Apply(ev eventapi.Event) []eventapi.Event {
	return []eventapi.Event{ev}
}
