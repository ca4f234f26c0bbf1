package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
)

const entryPrefix = "ledger/entry/"

// BadgerConfig configures a Badger-backed journal.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerJournal stores one JSON record per key, keyed by zero-padded
// sequence so iteration order is sequence order.
type BadgerJournal struct {
	db *badger.DB
}

func OpenBadger(cfg BadgerConfig) (*BadgerJournal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent journal")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal: %w", err)
	}
	return &BadgerJournal{db: db}, nil
}

func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, seq))
}

type badgerRecord struct {
	Sequence    uint64          `json:"sequence"`
	ContentHash string          `json:"content_hash"`
	PrevHash    string          `json:"prev_hash"`
	AppendedAt  string          `json:"appended_at"`
	Receipt     json.RawMessage `json:"receipt"`
}

// Append refuses to overwrite an existing sequence.
func (j *BadgerJournal) Append(_ context.Context, rec ledger.Record) error {
	value, err := json.Marshal(badgerRecord{
		Sequence:    rec.Sequence,
		ContentHash: rec.ContentHash,
		PrevHash:    rec.PrevHash,
		AppendedAt:  rec.AppendedAt.UTC().Format(timeLayout),
		Receipt:     rec.Receipt,
	})
	if err != nil {
		return fmt.Errorf("encode entry %d: %w", rec.Sequence, err)
	}
	key := entryKey(rec.Sequence)
	return j.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("entry %d already journaled", rec.Sequence)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
}

func (j *BadgerJournal) Load(ctx context.Context) ([]ledger.Record, error) {
	result := make([]ledger.Record, 0)
	prefix := []byte(entryPrefix)
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var br badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &br)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			rec, err := br.record()
			if err != nil {
				return err
			}
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (br badgerRecord) record() (ledger.Record, error) {
	at, err := parseTime(br.AppendedAt)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("entry %d: bad appended_at: %w", br.Sequence, err)
	}
	return ledger.Record{
		Sequence:    br.Sequence,
		ContentHash: br.ContentHash,
		PrevHash:    br.PrevHash,
		AppendedAt:  at,
		Receipt:     []byte(br.Receipt),
	}, nil
}

func (j *BadgerJournal) Close() error {
	return j.db.Close()
}
