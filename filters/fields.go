package filters

import "github.com/evtlab/iohub/eventapi"

// Windowed filters aggregate named float fields of an event payload. The
// accessor tables below are the closed set of fields each payload type
// exposes to filters; analog channel vectors are aggregated element-wise
// through their own path.

type fieldGetter func(p eventapi.Payload) (float64, bool)
type fieldSetter func(p eventapi.Payload, v float64) eventapi.Payload

type fieldAccess struct {
	get fieldGetter
	set fieldSetter
}

var fieldTable = map[string]fieldAccess{
	"gazeX": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.EyeSamplePayload); ok {
				return s.GazeX, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.EyeSamplePayload)
			s.GazeX = v
			return s
		},
	},
	"gazeY": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.EyeSamplePayload); ok {
				return s.GazeY, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.EyeSamplePayload)
			s.GazeY = v
			return s
		},
	},
	"pupilSize": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.EyeSamplePayload); ok {
				return s.PupilSize, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.EyeSamplePayload)
			s.PupilSize = v
			return s
		},
	},
	"leftGazeX": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.BinocularEyeSamplePayload); ok {
				return s.LeftGazeX, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.BinocularEyeSamplePayload)
			s.LeftGazeX = v
			return s
		},
	},
	"leftGazeY": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.BinocularEyeSamplePayload); ok {
				return s.LeftGazeY, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.BinocularEyeSamplePayload)
			s.LeftGazeY = v
			return s
		},
	},
	"rightGazeX": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.BinocularEyeSamplePayload); ok {
				return s.RightGazeX, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.BinocularEyeSamplePayload)
			s.RightGazeX = v
			return s
		},
	},
	"rightGazeY": {
		get: func(p eventapi.Payload) (float64, bool) {
			if s, ok := p.(eventapi.BinocularEyeSamplePayload); ok {
				return s.RightGazeY, true
			}
			return 0, false
		},
		set: func(p eventapi.Payload, v float64) eventapi.Payload {
			s := p.(eventapi.BinocularEyeSamplePayload)
			s.RightGazeY = v
			return s
		},
	},
}

func defaultFields(p eventapi.Payload) []string {
	switch p.(type) {
	case eventapi.EyeSamplePayload:
		return []string{"gazeX", "gazeY", "pupilSize"}
	case eventapi.BinocularEyeSamplePayload:
		return []string{"leftGazeX", "leftGazeY", "rightGazeX", "rightGazeY"}
	default:
		return nil
	}
}
