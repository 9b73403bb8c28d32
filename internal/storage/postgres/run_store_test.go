package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefinder/internal/store"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestNewRunStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewRunStoreWithPool(nil, "")
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS search_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartRunInsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1723404130, 0).UTC()
	mock.ExpectExec("INSERT INTO search_runs").
		WithArgs(id, "owner-1", store.RunRunning, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StartRun(context.Background(), id, "owner-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1723404190, 0).UTC()
	note := "redis down"
	mock.ExpectExec("UPDATE search_runs").
		WithArgs(now, store.RunFailed, 0, &note, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE search_runs").
		WithArgs(now, store.RunFinished, 3, (*string)(nil), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.CompleteRun(context.Background(), id, now, store.RunFailed, 0, &note))
	err := s.CompleteRun(context.Background(), id, now, store.RunFinished, 3, nil)
	require.ErrorIs(t, err, store.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddPageStatsPropagatesErrors(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	now := time.Unix(1723404190, 0).UTC()
	mock.ExpectExec("UPDATE search_runs").
		WithArgs(int64(2), int64(1), int64(120), now, id).
		WillReturnError(errors.New("connection reset"))

	err := s.AddPageStats(context.Background(), id, 2, 1, 120, now)
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	started := time.Unix(1723404130, 0).UTC()
	finished := started.Add(time.Minute)
	columns := []string{
		"search_id", "owner", "status", "started_at", "finished_at",
		"pages_ok", "pages_failed", "products", "stores", "error_message",
	}
	mock.ExpectQuery("SELECT search_id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(id, "owner-1", store.RunFinished, started, &finished, int64(6), int64(1), int64(240), 4, (*string)(nil)))
	mock.ExpectQuery("SELECT search_id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	run, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, store.RunFinished, run.Status)
	require.Equal(t, int64(240), run.Products)
	require.Equal(t, 4, run.Stores)
	require.NotNil(t, run.FinishedAt)

	_, err = s.GetRun(context.Background(), id)
	require.ErrorIs(t, err, store.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
