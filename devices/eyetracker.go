package devices

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

type eyeTrackerSettings struct {
	Source       string  `json:"source,omitempty"`
	SamplingRate float64 `json:"sampling_rate,omitempty"`
	Binocular    bool    `json:"binocular,omitempty"`
}

// EyeTracker reads gaze samples from a vendor source on a poll schedule.
// Sample timestamps come from the device clock; the delay estimate is the
// gap between capture and poll, so hub times land close to capture times.
// Fixation and saccade parsing is left to the device's filter chain.
type EyeTracker struct {
	log       *zap.Logger
	source    SampleSource
	binocular bool
	recording *atomic.Bool

	mu       sync.Mutex
	lastGaze [2]float64
}

func newEyeTracker(config json.RawMessage, p devsvc.Provider) (devsvc.Class, error) {
	settings, err := decode("eyetracker", config, eyeTrackerSettings{
		Source:       "synthetic",
		SamplingRate: 60,
	})
	if err != nil {
		return devsvc.Class{}, err
	}
	if settings.SamplingRate <= 0 {
		return devsvc.Class{}, &devsvc.ConfigError{
			Path:   "devices.eyetracker.settings.sampling_rate",
			Reason: "sampling rate must be positive",
		}
	}
	var source SampleSource
	switch settings.Source {
	case "synthetic":
		source = &syntheticGaze{rate: settings.SamplingRate}
	default:
		return devsvc.Class{}, &devsvc.ConfigError{
			Path:   "devices.eyetracker.settings.source",
			Reason: fmt.Sprintf("unknown eye tracker source %q", settings.Source),
		}
	}
	return devsvc.Class{
		Impl: &EyeTracker{
			log:       p.Log,
			source:    source,
			binocular: settings.Binocular,
			recording: atomic.NewBool(true),
		},
		TypeTag:             eventapi.DeviceEyeTracker,
		DefaultPollInterval: 0.01,
	}, nil
}

func (e *EyeTracker) Poll(now float64) ([]devsvc.NativeEvent, error) {
	samples, err := e.source.Read(now)
	if err != nil {
		return nil, err
	}
	if !e.recording.Load() || len(samples) == 0 {
		return nil, nil
	}
	out := make([]devsvc.NativeEvent, 0, len(samples))
	for _, s := range samples {
		delay := now - s.DeviceTime
		if delay < 0 {
			delay = 0
		}
		ev := devsvc.NativeEvent{
			DeviceTime: s.DeviceTime,
			LoggedTime: now,
			Delay:      delay,
		}
		if e.binocular {
			ev.Type = eventapi.TypeBinocularEyeSample
			ev.Payload = eventapi.BinocularEyeSamplePayload{
				LeftGazeX:      s.LeftX,
				LeftGazeY:      s.LeftY,
				LeftPupilSize:  s.LeftPupil,
				RightGazeX:     s.RightX,
				RightGazeY:     s.RightY,
				RightPupilSize: s.RightPupil,
				Status:         s.Status,
			}
		} else {
			ev.Type = eventapi.TypeEyeSample
			ev.Payload = eventapi.EyeSamplePayload{
				Eye:       eventapi.EyeLeft,
				GazeX:     s.LeftX,
				GazeY:     s.LeftY,
				PupilSize: s.LeftPupil,
				Status:    s.Status,
			}
		}
		out = append(out, ev)
	}
	last := samples[len(samples)-1]
	e.mu.Lock()
	e.lastGaze = [2]float64{last.LeftX, last.LeftY}
	e.mu.Unlock()
	return out, nil
}

func (e *EyeTracker) Close() error {
	return e.source.Close()
}

func (e *EyeTracker) Commands() map[string]devsvc.Handler {
	return map[string]devsvc.Handler{
		"SetRecordingState": func(args []cbor.RawMessage) (any, error) {
			enabled, err := hubArg[bool](args)
			if err != nil {
				return nil, err
			}
			e.recording.Store(enabled)
			return enabled, nil
		},
		"IsRecordingEnabled": func(args []cbor.RawMessage) (any, error) {
			return e.recording.Load(), nil
		},
		"GetLastGazePosition": func(args []cbor.RawMessage) (any, error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			return e.lastGaze[:], nil
		},
		"RunSetupProcedure": func(args []cbor.RawMessage) (any, error) {
			// Vendor calibration lives behind the SDK boundary; the
			// synthetic tracker is always calibrated.
			return true, nil
		},
	}
}
