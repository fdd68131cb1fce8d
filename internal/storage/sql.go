package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/user/maps-harvester/internal/domain"
)

// Dialect holds what differs between the database/sql backends.
type Dialect struct {
	Name    string
	Driver  string
	Pragmas []string
	Schema  []string
}

var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	Pragmas: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	},
	Schema: []string{`
CREATE TABLE IF NOT EXISTS businesses (
	record_key   TEXT PRIMARY KEY,
	place_id     TEXT,
	name         TEXT NOT NULL,
	address      TEXT,
	phone        TEXT,
	website      TEXT,
	email        TEXT,
	category     TEXT,
	rating       REAL,
	review_count INTEGER,
	profile_url  TEXT,
	data         TEXT NOT NULL,
	last_run_id  TEXT NOT NULL,
	scraped_at   DATETIME NOT NULL,
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	found       INTEGER NOT NULL,
	new_count   INTEGER NOT NULL,
	updated     INTEGER NOT NULL,
	duplicates  INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL
)`},
}

var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	Schema: []string{`
CREATE TABLE IF NOT EXISTS businesses (
	record_key   VARCHAR(255) NOT NULL PRIMARY KEY,
	place_id     VARCHAR(255) NULL,
	name         VARCHAR(255) NOT NULL,
	address      VARCHAR(512) NULL,
	phone        VARCHAR(50) NULL,
	website      TEXT NULL,
	email        VARCHAR(255) NULL,
	category     VARCHAR(255) NULL,
	rating       DECIMAL(3,1) NULL,
	review_count INT NULL,
	profile_url  TEXT NULL,
	data         JSON NOT NULL,
	last_run_id  VARCHAR(64) NOT NULL,
	scraped_at   TIMESTAMP NOT NULL,
	created_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS runs (
	run_id      VARCHAR(64) NOT NULL PRIMARY KEY,
	query       VARCHAR(512) NOT NULL,
	outcome     VARCHAR(32) NOT NULL,
	found       INT NOT NULL,
	new_count   INT NOT NULL,
	updated     INT NOT NULL,
	duplicates  INT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

const (
	sqlExists = `SELECT 1 FROM businesses WHERE record_key = ?`
	sqlInsert = `INSERT INTO businesses (record_key, place_id, name, address, phone, website, email, category,
	rating, review_count, profile_url, data, last_run_id, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdate = `UPDATE businesses SET place_id = ?, name = ?, address = ?, phone = ?, website = ?,
	email = ?, category = ?, rating = ?, review_count = ?, profile_url = ?, data = ?, last_run_id = ?, scraped_at = ?
WHERE record_key = ?`
	sqlDeleteRun = `DELETE FROM runs WHERE run_id = ?`
	sqlInsertRun = `INSERT INTO runs (run_id, query, outcome, found, new_count, updated, duplicates, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// SQLStore is the database/sql backend used for SQLite and MySQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	// SQLite allows one writer at a time.
	mu sync.Mutex
}

// OpenSQLStore opens dsn with the dialect's driver, applies its pragmas and
// creates the schema.
func OpenSQLStore(ctx context.Context, d Dialect, dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", d.Name, err)
	}
	for _, p := range d.Pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return NewSQLStore(db, d, logger), nil
}

// NewSQLStore wraps an already prepared database.
func NewSQLStore(db *sql.DB, d Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, dialect: d, logger: logger}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SaveRecords upserts each record in one transaction. A failing record is
// counted in Errors and the rest still commit.
func (s *SQLStore) SaveRecords(ctx context.Context, runID string, records []domain.BusinessRecord) (SaveResult, error) {
	var res SaveResult
	if len(records) == 0 {
		return res, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		inserted, err := s.upsert(ctx, tx, runID, r)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return SaveResult{Errors: len(records)}, ctx.Err()
			}
			s.logger.Warn("record not saved", zap.String("name", r.Name), zap.Error(err))
			res.Errors++
		case inserted:
			res.Inserted++
		default:
			res.Updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return SaveResult{Errors: len(records)}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (s *SQLStore) upsert(ctx context.Context, tx *sql.Tx, runID string, r domain.BusinessRecord) (bool, error) {
	row, err := toRow(r)
	if err != nil {
		return false, err
	}
	var one int
	err = tx.QueryRowContext(ctx, sqlExists, row.key).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, sqlInsert,
			row.key, nullString(row.placeID), row.name, nullString(row.address), nullString(row.phone),
			nullString(row.website), nullString(row.email), nullString(row.category),
			nullFloat64(row.rating), nullInt(row.reviewCount), nullString(row.profileURL),
			string(row.data), runID, row.scrapedAt)
		return err == nil, err
	case err != nil:
		return false, err
	}
	_, err = tx.ExecContext(ctx, sqlUpdate,
		nullString(row.placeID), row.name, nullString(row.address), nullString(row.phone),
		nullString(row.website), nullString(row.email), nullString(row.category),
		nullFloat64(row.rating), nullInt(row.reviewCount), nullString(row.profileURL),
		string(row.data), runID, row.scrapedAt, row.key)
	return false, err
}

// SaveRun replaces the history row of run.RunID.
func (s *SQLStore) SaveRun(ctx context.Context, run RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, sqlDeleteRun, run.RunID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqlInsertRun, runArgs(run)...); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullFloat64(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
