package devices

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

type analogSettings struct {
	Source       string  `json:"source,omitempty"`
	ChannelCount int     `json:"channel_count,omitempty"`
	SamplingRate float64 `json:"sampling_rate,omitempty"`
}

// AnalogInput reads multi-channel voltage frames from an acquisition
// board source on a poll schedule, one event per frame with an
// incrementing sequence number.
type AnalogInput struct {
	log      *zap.Logger
	source   FrameSource
	channels int
	sequence *atomic.Uint64
}

func newAnalogInput(config json.RawMessage, p devsvc.Provider) (devsvc.Class, error) {
	settings, err := decode("analog_input", config, analogSettings{
		Source:       "synthetic",
		ChannelCount: 8,
		SamplingRate: 500,
	})
	if err != nil {
		return devsvc.Class{}, err
	}
	if settings.ChannelCount < 1 {
		return devsvc.Class{}, &devsvc.ConfigError{
			Path:   "devices.analog_input.settings.channel_count",
			Reason: "channel count must be at least 1",
		}
	}
	var source FrameSource
	switch settings.Source {
	case "synthetic":
		source = &syntheticSignal{channels: settings.ChannelCount, rate: settings.SamplingRate}
	default:
		return devsvc.Class{}, &devsvc.ConfigError{
			Path:   "devices.analog_input.settings.source",
			Reason: fmt.Sprintf("unknown analog source %q", settings.Source),
		}
	}
	return devsvc.Class{
		Impl: &AnalogInput{
			log:      p.Log,
			source:   source,
			channels: settings.ChannelCount,
			sequence: atomic.NewUint64(0),
		},
		TypeTag:             eventapi.DeviceAnalogInput,
		DefaultPollInterval: 0.01,
	}, nil
}

func (a *AnalogInput) Poll(now float64) ([]devsvc.NativeEvent, error) {
	frames, err := a.source.ReadFrames(now)
	if err != nil {
		return nil, err
	}
	out := make([]devsvc.NativeEvent, 0, len(frames))
	for _, frame := range frames {
		out = append(out, devsvc.NativeEvent{
			Type:       eventapi.TypeAnalogInput,
			LoggedTime: now,
			Payload: eventapi.AnalogInputPayload{
				Sequence: a.sequence.Inc(),
				Channels: frame,
			},
		})
	}
	return out, nil
}

func (a *AnalogInput) Close() error {
	return a.source.Close()
}

func (a *AnalogInput) Commands() map[string]devsvc.Handler {
	return map[string]devsvc.Handler{
		"GetChannelCount": func(args []cbor.RawMessage) (any, error) {
			return a.channels, nil
		},
	}
}
