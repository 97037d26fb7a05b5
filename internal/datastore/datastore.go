// Package datastore is the persistence boundary of the hub. The pipeline
// hands it delivered events, the RPC layer hands it experiment and session
// metadata plus condition-variable rows, and a backend turns those into an
// append-only store. Event writes are buffered and flushed in batches.
package datastore

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

// DefaultFlushInterval is how many buffered events trigger a batch write.
const DefaultFlushInterval = 32

// ExperimentMeta describes a registered experiment. Code is the stable
// handle experiments re-register under across sessions.
type ExperimentMeta struct {
	Code        string `json:"code"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// SessionMeta describes one run of an experiment. UUID is assigned on
// write when empty.
type SessionMeta struct {
	Code          string         `json:"code"`
	Name          string         `json:"name,omitempty"`
	Comments      string         `json:"comments,omitempty"`
	ExperimentID  uint32         `json:"experiment_id"`
	UUID          string         `json:"uuid,omitempty"`
	UserVariables map[string]any `json:"user_variables,omitempty"`
}

// ClickHouseConfig carries the connection settings for the clickhouse
// backend.
type ClickHouseConfig struct {
	Addr     string `json:"addr,omitempty"`
	Database string `json:"database,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Config selects and configures the persistence backend.
type Config struct {
	Enable        bool             `json:"enable,omitempty"`
	Backend       string           `json:"backend,omitempty"`
	Path          string           `json:"path,omitempty"`
	FlushInterval int              `json:"flush_interval,omitempty"`
	ClickHouse    ClickHouseConfig `json:"clickhouse,omitempty"`
}

// backend is the unbuffered store implementation behind a Sink. Event
// writes arrive pre-batched; metadata writes are immediate.
type backend interface {
	writeEvents(events []eventapi.Event) error
	writeExperiment(meta ExperimentMeta) (uint32, error)
	writeSession(meta SessionMeta) (uint32, error)
	initConditionVariables(session uint32, names []string) error
	extendConditionVariables(session uint32, rows [][]any) error
	close() error
}

// Sink buffers event writes and forwards everything else straight to the
// configured backend. It is used only from the hub's serve goroutine.
type Sink struct {
	log           *zap.Logger
	backend       backend
	flushInterval int
	pending       []eventapi.Event
}

// Open builds a Sink for the configured backend. A disabled config yields
// a nop sink so callers never branch on persistence being off.
func Open(log *zap.Logger, cfg Config) (*Sink, error) {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	var (
		b   backend
		err error
	)
	switch {
	case !cfg.Enable:
		b = &nopBackend{}
	case cfg.Backend == "" || cfg.Backend == "badger":
		b, err = openBadger(log, cfg.Path)
	case cfg.Backend == "clickhouse":
		b, err = openClickHouse(log, cfg.ClickHouse)
	case cfg.Backend == "nop":
		b = &nopBackend{}
	default:
		err = fmt.Errorf("unknown datastore backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return &Sink{
		log:           log,
		backend:       b,
		flushInterval: interval,
		pending:       make([]eventapi.Event, 0, interval),
	}, nil
}

// WriteEvent queues one event and flushes when the buffer reaches the
// flush interval.
func (s *Sink) WriteEvent(ev eventapi.Event) error {
	s.pending = append(s.pending, ev)
	if len(s.pending) < s.flushInterval {
		return nil
	}
	return s.Flush()
}

// WriteExperiment records experiment metadata and returns its id. Writing
// the same code again returns the previously assigned id.
func (s *Sink) WriteExperiment(meta ExperimentMeta) (uint32, error) {
	if meta.Code == "" {
		return 0, fmt.Errorf("experiment metadata requires a code")
	}
	return s.backend.writeExperiment(meta)
}

// WriteSession assigns the session a uuid when absent, records the
// metadata and returns the session id.
func (s *Sink) WriteSession(meta SessionMeta) (uint32, error) {
	if meta.Code == "" {
		return 0, fmt.Errorf("session metadata requires a code")
	}
	if meta.UUID == "" {
		meta.UUID = uuid.NewString()
	}
	return s.backend.writeSession(meta)
}

// InitConditionVariables declares the column names of the session's
// condition-variable table.
func (s *Sink) InitConditionVariables(session uint32, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("condition variable table requires column names")
	}
	return s.backend.initConditionVariables(session, names)
}

// ExtendConditionVariables appends rows to the session's
// condition-variable table.
func (s *Sink) ExtendConditionVariables(session uint32, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	return s.backend.extendConditionVariables(session, rows)
}

// Flush writes every buffered event through the backend.
func (s *Sink) Flush() error {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = s.pending[:0]
	if err := s.backend.writeEvents(batch); err != nil {
		return fmt.Errorf("failed to flush %d events: %w", len(batch), err)
	}
	return nil
}

// Close flushes the buffer and releases the backend.
func (s *Sink) Close() error {
	return multierr.Append(s.Flush(), s.backend.close())
}
