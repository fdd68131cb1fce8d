package storage

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/maps-harvester/internal/domain"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, SQLite, zaptest.NewLogger(t)), mock
}

func record(placeID, name string) domain.BusinessRecord {
	rating := 4.5
	return domain.BusinessRecord{
		PlaceID:   placeID,
		Name:      name,
		Address:   "Av. Reforma 1",
		Rating:    &rating,
		ScrapedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLStore_SaveRecords(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlExists)).WithArgs("0x1:0xa").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO businesses")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(sqlExists)).WithArgs("0x2:0xb").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE businesses SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := store.SaveRecords(context.Background(), "run-1", []domain.BusinessRecord{
		record("0x1:0xa", "Tacos El Güero"),
		record("0x2:0xb", "Café Tacuba"),
	})
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Inserted: 1, Updated: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveRecords_CountsFailedRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(sqlExists)).WithArgs("0x1:0xa").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO businesses")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectQuery(regexp.QuoteMeta(sqlExists)).WithArgs("0x2:0xb").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO businesses")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	res, err := store.SaveRecords(context.Background(), "run-1", []domain.BusinessRecord{
		record("0x1:0xa", "A"),
		record("0x2:0xb", "B"),
	})
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Inserted: 1, Errors: 1}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveRecords_Empty(t *testing.T) {
	store, mock := newMockStore(t)
	res, err := store.SaveRecords(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveRecords_BeginFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("locked"))

	_, err := store.SaveRecords(context.Background(), "run-1", []domain.BusinessRecord{record("0x1:0xa", "A")})
	assert.ErrorContains(t, err, "locked")
}

func TestSQLStore_SaveRun(t *testing.T) {
	store, mock := newMockStore(t)
	run := RunSummary{
		RunID: "run-1", Query: "tacos en CDMX", Outcome: "completed",
		Found: 12, New: 10, Updated: 2, Duplicates: 1,
		StartedAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Duration:  90 * time.Second,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(sqlDeleteRun)).WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("run-1", "tacos en CDMX", "completed", 12, 10, 2, 1, run.StartedAt, int64(90000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityKey(t *testing.T) {
	assert.Equal(t, "0x1:0xa", IdentityKey(domain.BusinessRecord{PlaceID: "0x1:0xa", Name: "A"}))
	assert.Equal(t, "tacos|centro", IdentityKey(domain.BusinessRecord{Name: " Tacos ", Address: "Centro"}))

	anon := IdentityKey(domain.BusinessRecord{ProfileURL: "https://www.google.com/maps/place/x"})
	assert.Len(t, anon, len("gen_")+20)
	assert.Equal(t, anon, IdentityKey(domain.BusinessRecord{ProfileURL: "https://www.google.com/maps/place/x"}))
	assert.NotEqual(t, anon, IdentityKey(domain.BusinessRecord{ProfileURL: "https://www.google.com/maps/place/y"}))
}

func TestToRow(t *testing.T) {
	r := record("0x1:0xa", "A")
	r.Enrichment = &domain.Enrichment{Email: "hola@a.mx"}
	row, err := toRow(r)
	require.NoError(t, err)
	assert.Equal(t, "0x1:0xa", row.key)
	assert.Equal(t, "hola@a.mx", row.email)
	assert.Contains(t, string(row.data), `"placeId":"0x1:0xa"`)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", nil)
	assert.ErrorContains(t, err, "oracle")

	s, err := Open(context.Background(), "", "", nil)
	assert.NoError(t, err)
	assert.Nil(t, s)
}

func TestOpenSQLStore_SQLiteFile(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLStore(ctx, SQLite, filepath.Join(t.TempDir(), "harvester.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	recs := []domain.BusinessRecord{record("0x1:0xa", "A"), record("0x2:0xb", "B")}
	res, err := store.SaveRecords(ctx, "run-1", recs)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Inserted: 2}, res)

	res, err = store.SaveRecords(ctx, "run-2", recs)
	require.NoError(t, err)
	assert.Equal(t, SaveResult{Updated: 2}, res)

	require.NoError(t, store.SaveRun(ctx, RunSummary{RunID: "run-2", Query: "q", Outcome: "completed", StartedAt: time.Now()}))
	require.NoError(t, store.SaveRun(ctx, RunSummary{RunID: "run-2", Query: "q", Outcome: "blocked", StartedAt: time.Now()}))

	var outcome string
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT outcome FROM runs WHERE run_id = ?`, "run-2").Scan(&outcome))
	assert.Equal(t, "blocked", outcome)
}
