package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

// clickhouseBackend streams session records into ClickHouse for analysis
// pipelines that want SQL over the raw event stream instead of the
// embedded store. One prepared batch per flush.
type clickhouseBackend struct {
	log   *zap.Logger
	conn  driver.Conn
	expID *atomic.Uint32
	sesID *atomic.Uint32
	cvSeq map[uint32]uint64
}

var clickhouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS iohub_events (
		session_id UInt32,
		event_id UInt64,
		device_id UInt8,
		experiment_id UInt32,
		type UInt16,
		type_name String,
		device_time Float64,
		logged_time Float64,
		time Float64,
		confidence_interval Float64,
		delay Float64,
		filter_id Int32,
		payload String
	) ENGINE = MergeTree() ORDER BY (session_id, event_id)`,
	`CREATE TABLE IF NOT EXISTS iohub_experiments (
		id UInt32,
		code String,
		title String,
		description String,
		version String,
		registered_at DateTime
	) ENGINE = MergeTree() ORDER BY id`,
	`CREATE TABLE IF NOT EXISTS iohub_sessions (
		id UInt32,
		uuid String,
		code String,
		name String,
		comments String,
		experiment_id UInt32,
		user_variables String,
		registered_at DateTime
	) ENGINE = MergeTree() ORDER BY id`,
	`CREATE TABLE IF NOT EXISTS iohub_condition_variables (
		session_id UInt32,
		seq UInt64,
		row String
	) ENGINE = MergeTree() ORDER BY (session_id, seq)`,
}

func openClickHouse(log *zap.Logger, cfg ClickHouseConfig) (*clickhouseBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("clickhouse datastore requires an addr")
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse at %s: %w", cfg.Addr, err)
	}
	for _, ddl := range clickhouseSchema {
		if err := conn.Exec(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to create clickhouse table: %w", err)
		}
	}
	return &clickhouseBackend{
		log:   log,
		conn:  conn,
		expID: atomic.NewUint32(0),
		sesID: atomic.NewUint32(0),
		cvSeq: make(map[uint32]uint64),
	}, nil
}

func (c *clickhouseBackend) writeEvents(events []eventapi.Event) error {
	ctx := context.Background()
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO iohub_events")
	if err != nil {
		return fmt.Errorf("failed to prepare event batch: %w", err)
	}
	for _, ev := range events {
		var payload []byte
		if ev.Payload != nil {
			payload, err = json.Marshal(ev.Payload)
			if err != nil {
				return fmt.Errorf("failed to encode event %d payload: %w", ev.ID, err)
			}
		}
		err = batch.Append(
			ev.SessionID,
			ev.ID,
			ev.DeviceID,
			ev.ExperimentID,
			uint16(ev.Type),
			ev.Type.String(),
			ev.DeviceTime,
			ev.LoggedTime,
			ev.Time,
			ev.ConfidenceInterval,
			ev.Delay,
			ev.FilterID,
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to append event %d: %w", ev.ID, err)
		}
	}
	return batch.Send()
}

func (c *clickhouseBackend) writeExperiment(meta ExperimentMeta) (uint32, error) {
	id := c.expID.Inc()
	err := c.conn.Exec(context.Background(),
		"INSERT INTO iohub_experiments (id, code, title, description, version, registered_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, meta.Code, meta.Title, meta.Description, meta.Version, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert experiment %q: %w", meta.Code, err)
	}
	return id, nil
}

func (c *clickhouseBackend) writeSession(meta SessionMeta) (uint32, error) {
	id := c.sesID.Inc()
	vars, err := json.Marshal(meta.UserVariables)
	if err != nil {
		return 0, err
	}
	err = c.conn.Exec(context.Background(),
		"INSERT INTO iohub_sessions (id, uuid, code, name, comments, experiment_id, user_variables, registered_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		id, meta.UUID, meta.Code, meta.Name, meta.Comments, meta.ExperimentID, string(vars), time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session %s: %w", meta.UUID, err)
	}
	return id, nil
}

func (c *clickhouseBackend) initConditionVariables(session uint32, names []string) error {
	row, err := json.Marshal(names)
	if err != nil {
		return err
	}
	err = c.conn.Exec(context.Background(),
		"INSERT INTO iohub_condition_variables (session_id, seq, row) VALUES (?, ?, ?)",
		session, uint64(0), string(row),
	)
	if err != nil {
		return fmt.Errorf("failed to insert condition variable names: %w", err)
	}
	c.cvSeq[session] = 0
	return nil
}

func (c *clickhouseBackend) extendConditionVariables(session uint32, rows [][]any) error {
	ctx := context.Background()
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO iohub_condition_variables")
	if err != nil {
		return fmt.Errorf("failed to prepare condition variable batch: %w", err)
	}
	seq := c.cvSeq[session]
	for _, row := range rows {
		val, err := json.Marshal(row)
		if err != nil {
			return err
		}
		seq++
		if err := batch.Append(session, seq, string(val)); err != nil {
			return fmt.Errorf("failed to append condition variable row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return err
	}
	c.cvSeq[session] = seq
	return nil
}

func (c *clickhouseBackend) close() error {
	return c.conn.Close()
}
