package devices

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
	"github.com/evtlab/iohub/internal/devsvc"
)

// Experiment is the virtual device that carries the experiment script's
// own MESSAGE and LOG events into the pipeline. It produces nothing on its
// own; the EVENT_TX handler enqueues client-sent events into its ingress
// queue so they are timestamped, buffered and persisted like hardware
// events.
type Experiment struct {
	log *zap.Logger
}

func newExperiment(config json.RawMessage, p devsvc.Provider) (devsvc.Class, error) {
	if _, err := decode("experiment", config, struct{}{}); err != nil {
		return devsvc.Class{}, err
	}
	return devsvc.Class{
		Impl:    &Experiment{log: p.Log},
		TypeTag: eventapi.DeviceExperiment,
	}, nil
}

func (e *Experiment) Close() error {
	return nil
}
