// Package storage persists harvested records and run history, and keeps
// cross-run state in Redis.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/dedup"
	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/pkg/utils"
)

// SaveResult counts what SaveRecords did per record.
type SaveResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Errors   int `json:"errors"`
}

// RunSummary is one row of run history.
type RunSummary struct {
	RunID      string
	Query      string
	Outcome    string
	Found      int
	New        int
	Updated    int
	Duplicates int
	StartedAt  time.Time
	Duration   time.Duration
}

// RecordStore upserts records by identity key. Saving the same records
// twice leaves the store as it was after the first call.
type RecordStore interface {
	SaveRecords(ctx context.Context, runID string, records []domain.BusinessRecord) (SaveResult, error)
	SaveRun(ctx context.Context, run RunSummary) error
	Ping(ctx context.Context) error
	Close() error
}

// IdentityKey is the upsert key of a record: the dedup key when the record
// has a placeId, name or address, otherwise a hash of what it does have.
func IdentityKey(r domain.BusinessRecord) string {
	if k := dedup.Key(r); k != "|" {
		return k
	}
	return "gen_" + utils.HashKey(r.Name+"|"+r.Address+"|"+r.ProfileURL)[:20]
}

// recordRow is the flattened column set shared by every SQL backend. The
// full record travels as JSON in data.
type recordRow struct {
	key         string
	placeID     string
	name        string
	address     string
	phone       string
	website     string
	email       string
	category    string
	rating      *float64
	reviewCount *int
	profileURL  string
	data        []byte
	scrapedAt   time.Time
}

func toRow(r domain.BusinessRecord) (recordRow, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return recordRow{}, fmt.Errorf("encode record %q: %w", r.Name, err)
	}
	return recordRow{
		key:         IdentityKey(r),
		placeID:     r.PlaceID,
		name:        r.Name,
		address:     r.Address,
		phone:       r.Phone,
		website:     r.Website,
		email:       r.Email(),
		category:    r.Category,
		rating:      r.Rating,
		reviewCount: r.ReviewCount,
		profileURL:  r.ProfileURL,
		data:        data,
		scrapedAt:   r.ScrapedAt,
	}, nil
}

// Open connects to the backend named by driver: postgres, sqlite or mysql.
// An empty driver means no persistence and returns a nil store.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (RecordStore, error) {
	var (
		store RecordStore
		err   error
	)
	switch driver {
	case "":
		return nil, nil
	case "postgres", "postgresql":
		store, err = NewPostgresStore(ctx, dsn, logger)
	case "sqlite":
		store, err = OpenSQLStore(ctx, SQLite, dsn, logger)
	case "mysql":
		store, err = OpenSQLStore(ctx, MySQL, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
