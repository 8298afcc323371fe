package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sportsfeed/internal/model"
	"github.com/sells-group/sportsfeed/internal/quality"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSnapshot(t *testing.T) {
	st, mock := newMockStore(t)
	fetched := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("snap-1", "odds?sport=nfl", "odds", "espn", pgxmock.AnyArg(), fetched).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.SaveSnapshot(context.Background(), &Snapshot{
		ID:        "snap-1",
		Key:       "odds?sport=nfl",
		Domain:    model.DomainOdds,
		Source:    "espn",
		Payload:   &model.Payload{},
		FetchedAt: fetched,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshot(t *testing.T) {
	st, mock := newMockStore(t)
	fetched := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"records":[{"game_id":"g1","total":44.5}]}`)

	mock.ExpectQuery("SELECT id, query_key, domain, source, payload, fetched_at FROM snapshots").
		WithArgs("odds").
		WillReturnRows(pgxmock.NewRows([]string{"id", "query_key", "domain", "source", "payload", "fetched_at"}).
			AddRow("snap-1", "odds", "odds", "espn", payload, fetched))

	got, err := st.LatestSnapshot(context.Background(), "odds")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "snap-1", got.ID)
	assert.Equal(t, model.DomainOdds, got.Domain)
	require.Equal(t, 1, got.Payload.Len())
	total, ok := got.Payload.Records[0].Float(model.FieldTotal)
	require.True(t, ok)
	assert.InDelta(t, 44.5, total, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSnapshotNoRows(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, query_key").
		WithArgs("odds").
		WillReturnError(pgx.ErrNoRows)

	got, err := st.LatestSnapshot(context.Background(), "odds")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PruneSnapshots(t *testing.T) {
	st, mock := newMockStore(t)
	before := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM snapshots").
		WithArgs(before).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := st.PruneSnapshots(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveReport(t *testing.T) {
	st, mock := newMockStore(t)
	created := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO quality_reports").
		WithArgs("rep-1", "props", "odds_api", 0.8, "good", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.SaveReport(context.Background(), quality.Report{
		ID:         "rep-1",
		Domain:     model.DomainProps,
		Source:     "odds_api",
		Confidence: 0.8,
		TrustLevel: quality.TrustGood,
		CreatedAt:  created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReports(t *testing.T) {
	st, mock := newMockStore(t)
	body, err := json.Marshal(quality.Report{ID: "rep-1", Domain: model.DomainOdds, Confidence: 0.9, TrustLevel: quality.TrustExcellent})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT report FROM quality_reports").
		WithArgs("odds", time.Time{}, 5).
		WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow(body))

	got, err := st.ListReports(context.Background(), ReportFilter{Domain: model.DomainOdds, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rep-1", got[0].ID)
	assert.Equal(t, quality.TrustExcellent, got[0].TrustLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListReportsError(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("SELECT report FROM quality_reports").
		WillReturnError(assert.AnError)

	_, err := st.ListReports(context.Background(), ReportFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: list reports")
	assert.NoError(t, mock.ExpectationsWereMet())
}
