// Package store provides durable ledger journals: SQL (SQLite, Postgres)
// and Badger.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// SQLJournal implements ledger.Journal using database/sql.
type SQLJournal struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLJournal(db *sql.DB, dialect Dialect) *SQLJournal {
	return &SQLJournal{db: db, dialect: dialect}
}

// OpenSQLite opens (or creates) a SQLite journal at path. ":memory:" works
// for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	j := NewSQLJournal(db, DialectSQLite)
	if err := j.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// OpenPostgres connects to dsn with lib/pq.
func OpenPostgres(ctx context.Context, dsn string) (*SQLJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	j := NewSQLJournal(db, DialectPostgres)
	if err := j.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence BIGINT PRIMARY KEY,
	content_hash TEXT NOT NULL UNIQUE,
	prev_hash TEXT NOT NULL,
	appended_at TEXT NOT NULL,
	receipt TEXT NOT NULL
);
`

func (j *SQLJournal) Init(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, journalSchema); err != nil {
		return fmt.Errorf("migrate ledger_entries: %w", err)
	}
	return nil
}

func (j *SQLJournal) insertQuery() string {
	if j.dialect == DialectPostgres {
		return `INSERT INTO ledger_entries (sequence, content_hash, prev_hash, appended_at, receipt) VALUES ($1, $2, $3, $4, $5)`
	}
	return `INSERT INTO ledger_entries (sequence, content_hash, prev_hash, appended_at, receipt) VALUES (?, ?, ?, ?, ?)`
}

func (j *SQLJournal) Append(ctx context.Context, rec ledger.Record) error {
	_, err := j.db.ExecContext(ctx, j.insertQuery(),
		int64(rec.Sequence),
		rec.ContentHash,
		rec.PrevHash,
		rec.AppendedAt.UTC().Format(timeLayout),
		string(rec.Receipt),
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry %d: %w", rec.Sequence, err)
	}
	return nil
}

func (j *SQLJournal) Load(ctx context.Context) ([]ledger.Record, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT sequence, content_hash, prev_hash, appended_at, receipt FROM ledger_entries ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]ledger.Record, 0)
	for rows.Next() {
		var (
			seq     int64
			rec     ledger.Record
			at      string
			payload string
		)
		if err := rows.Scan(&seq, &rec.ContentHash, &rec.PrevHash, &at, &payload); err != nil {
			return nil, err
		}
		rec.Sequence = uint64(seq)
		rec.Receipt = []byte(payload)
		if rec.AppendedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("entry %d: bad appended_at: %w", seq, err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (j *SQLJournal) Close() error {
	return j.db.Close()
}
