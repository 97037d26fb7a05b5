package datastore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/evtlab/iohub/eventapi"
)

// badgerBackend persists the session record stream in an embedded badger
// store. Events are CBOR values under evt/<session>/<id>, metadata is JSON
// under exp/<code> and ses/<uuid>, condition-variable rows go under
// cv/<session>/<seq>.
type badgerBackend struct {
	log    *zap.Logger
	db     *badger.DB
	expSeq *badger.Sequence
	sesSeq *badger.Sequence
	cvSeq  map[uint32]uint64
}

func openBadger(log *zap.Logger, path string) (*badgerBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("badger datastore requires a path")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = badgerLogger{l: log.Named("badger")}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	expSeq, err := db.GetSequence([]byte("seq/experiment"), 16)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to open experiment sequence: %w", err), db.Close())
	}
	sesSeq, err := db.GetSequence([]byte("seq/session"), 16)
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("failed to open session sequence: %w", err), expSeq.Release(), db.Close())
	}
	return &badgerBackend{
		log:    log,
		db:     db,
		expSeq: expSeq,
		sesSeq: sesSeq,
		cvSeq:  make(map[uint32]uint64),
	}, nil
}

func (b *badgerBackend) writeEvents(events []eventapi.Event) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, ev := range events {
		val, err := cbor.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.ID, err)
		}
		key := fmt.Sprintf("evt/%d/%d", ev.SessionID, ev.ID)
		if err := wb.Set([]byte(key), val); err != nil {
			return fmt.Errorf("failed to queue event %d: %w", ev.ID, err)
		}
	}
	return wb.Flush()
}

// storedExperiment is the JSON value under exp/<code>. The id sticks to
// the code so re-registering an experiment keeps its identity.
type storedExperiment struct {
	ID   uint32         `json:"id"`
	Meta ExperimentMeta `json:"meta"`
}

func (b *badgerBackend) writeExperiment(meta ExperimentMeta) (uint32, error) {
	key := []byte("exp/" + meta.Code)
	var id uint32
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			next, err := b.expSeq.Next()
			if err != nil {
				return err
			}
			id = uint32(next) + 1
		case err != nil:
			return err
		default:
			var prev storedExperiment
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal experiment: %w", err)
			}
			id = prev.ID
		}
		val, err := json.Marshal(storedExperiment{ID: id, Meta: meta})
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store experiment %q: %w", meta.Code, err)
	}
	return id, nil
}

type storedSession struct {
	ID   uint32      `json:"id"`
	Meta SessionMeta `json:"meta"`
}

func (b *badgerBackend) writeSession(meta SessionMeta) (uint32, error) {
	next, err := b.sesSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to assign session id: %w", err)
	}
	id := uint32(next) + 1
	val, err := json.Marshal(storedSession{ID: id, Meta: meta})
	if err != nil {
		return 0, err
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("ses/"+meta.UUID), val)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store session %s: %w", meta.UUID, err)
	}
	return id, nil
}

func (b *badgerBackend) initConditionVariables(session uint32, names []string) error {
	val, err := json.Marshal(names)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("cv/%d/names", session)
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("failed to store condition variable names: %w", err)
	}
	b.cvSeq[session] = 0
	return nil
}

func (b *badgerBackend) extendConditionVariables(session uint32, rows [][]any) error {
	seq := b.cvSeq[session]
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			val, err := json.Marshal(row)
			if err != nil {
				return err
			}
			seq++
			key := fmt.Sprintf("cv/%d/%d", session, seq)
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store condition variable rows: %w", err)
	}
	b.cvSeq[session] = seq
	return nil
}

func (b *badgerBackend) close() error {
	return multierr.Combine(b.expSeq.Release(), b.sesSeq.Release(), b.db.Close())
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Sugar().Errorf(msg, args...)
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Sugar().Warnf(msg, args...)
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Sugar().Infof(msg, args...)
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Sugar().Debugf(msg, args...)
}
