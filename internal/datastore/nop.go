package datastore

import (
	"go.uber.org/atomic"

	"github.com/evtlab/iohub/eventapi"
)

// nopBackend serves a hub with persistence disabled. Metadata writes
// still assign ids so experiment and session registration keep working.
type nopBackend struct {
	expID atomic.Uint32
	sesID atomic.Uint32
}

func (n *nopBackend) writeEvents(events []eventapi.Event) error { return nil }

func (n *nopBackend) writeExperiment(meta ExperimentMeta) (uint32, error) {
	return n.expID.Inc(), nil
}

func (n *nopBackend) writeSession(meta SessionMeta) (uint32, error) {
	return n.sesID.Inc(), nil
}

func (n *nopBackend) initConditionVariables(session uint32, names []string) error { return nil }

func (n *nopBackend) extendConditionVariables(session uint32, rows [][]any) error { return nil }

func (n *nopBackend) close() error { return nil }
