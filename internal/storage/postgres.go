package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/domain"
)

const postgresSchema = `
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
	data         JSONB NOT NULL,
	last_run_id  TEXT NOT NULL,
	scraped_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_businesses_place_id ON businesses (place_id);
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	found       INTEGER NOT NULL,
	new_count   INTEGER NOT NULL,
	updated     INTEGER NOT NULL,
	duplicates  INTEGER NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);`

// xmax is zero only on a row the statement itself inserted.
const postgresUpsert = `
INSERT INTO businesses (record_key, place_id, name, address, phone, website, email, category,
	rating, review_count, profile_url, data, last_run_id, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (record_key) DO UPDATE SET
	place_id = EXCLUDED.place_id, name = EXCLUDED.name, address = EXCLUDED.address,
	phone = EXCLUDED.phone, website = EXCLUDED.website, email = EXCLUDED.email,
	category = EXCLUDED.category, rating = EXCLUDED.rating, review_count = EXCLUDED.review_count,
	profile_url = EXCLUDED.profile_url, data = EXCLUDED.data, last_run_id = EXCLUDED.last_run_id,
	scraped_at = EXCLUDED.scraped_at, updated_at = NOW()
RETURNING (xmax = 0) AS inserted`

const postgresRunUpsert = `
INSERT INTO runs (run_id, query, outcome, found, new_count, updated, duplicates, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id) DO UPDATE SET
	outcome = EXCLUDED.outcome, found = EXCLUDED.found, new_count = EXCLUDED.new_count,
	updated = EXCLUDED.updated, duplicates = EXCLUDED.duplicates, duration_ms = EXCLUDED.duration_ms`

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// SaveRecords upserts records in one batch inside a transaction. A record
// that fails to encode is counted and skipped; a failing statement aborts
// the batch.
func (s *PostgresStore) SaveRecords(ctx context.Context, runID string, records []domain.BusinessRecord) (SaveResult, error) {
	var res SaveResult
	if len(records) == 0 {
		return res, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			s.logger.Warn("skipping record", zap.Error(err))
			res.Errors++
			continue
		}
		batch.Queue(postgresUpsert, postgresArgs(row, runID)...)
	}
	if batch.Len() == 0 {
		return res, nil
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			br.Close()
			return SaveResult{Errors: res.Errors + batch.Len()}, fmt.Errorf("upsert businesses: %w", err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := br.Close(); err != nil {
		return SaveResult{Errors: res.Errors + batch.Len()}, err
	}
	return res, tx.Commit(ctx)
}

func (s *PostgresStore) SaveRun(ctx context.Context, run RunSummary) error {
	_, err := s.db.Exec(ctx, postgresRunUpsert, runArgs(run)...)
	return err
}

func postgresArgs(row recordRow, runID string) []any {
	return []any{
		row.key, row.placeID, row.name, row.address, row.phone, row.website, row.email,
		row.category, row.rating, row.reviewCount, row.profileURL, row.data, runID, row.scrapedAt,
	}
}

func runArgs(run RunSummary) []any {
	return []any{
		run.RunID, run.Query, run.Outcome, run.Found, run.New, run.Updated, run.Duplicates,
		run.StartedAt, run.Duration.Milliseconds(),
	}
}
