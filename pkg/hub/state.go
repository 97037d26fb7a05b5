package hub

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/evtlab/iohub/hubapi"
)

// validTransitions is the whole lifecycle. Anything not listed is a
// programming error, surfaced loudly instead of silently entering an
// undefined phase.
var validTransitions = map[string][]string{
	hubapi.PhaseStarting:     {hubapi.PhaseReady, hubapi.PhaseTerminated},
	hubapi.PhaseReady:        {hubapi.PhaseRunning, hubapi.PhaseShuttingDown},
	hubapi.PhaseRunning:      {hubapi.PhaseShuttingDown},
	hubapi.PhaseShuttingDown: {hubapi.PhaseTerminated},
	hubapi.PhaseTerminated:   {},
}

// HubState tracks the process lifecycle phase. It lives on the Hub struct
// and is read by the status RPC; transitions happen on startup and
// shutdown paths only.
type HubState struct {
	log   *zap.Logger
	phase string
}

func NewHubState(log *zap.Logger) *HubState {
	return &HubState{log: log, phase: hubapi.PhaseStarting}
}

func (s *HubState) Phase() string {
	return s.phase
}

// To transitions to the next phase, failing on transitions the lifecycle
// does not define.
func (s *HubState) To(phase string) error {
	for _, next := range validTransitions[s.phase] {
		if next == phase {
			s.log.Info("Hub phase changed", zap.String("from", s.phase), zap.String("to", phase))
			s.phase = phase
			return nil
		}
	}
	return fmt.Errorf("invalid phase transition %s -> %s", s.phase, phase)
}
