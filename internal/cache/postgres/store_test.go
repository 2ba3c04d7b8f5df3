package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "scrape_cache")
	require.NoError(t, err)
	now := time.Unix(1760000000, 0).UTC()
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestSetUpserts(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	payload := []byte(`{"source":"income"}`)
	mock.ExpectExec("INSERT INTO scrape_cache").
		WithArgs("income:M1_1AF", payload, now, now.Add(time.Hour)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), "income:M1_1AF", payload, time.Hour))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHitAndMiss(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("SELECT payload FROM scrape_cache").
		WithArgs("income:M1_1AF", now).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow([]byte(`{"ok":true}`)))
	mock.ExpectQuery("SELECT payload FROM scrape_cache").
		WithArgs("income:ZZ99_9ZZ", now).
		WillReturnError(pgx.ErrNoRows)

	got, found, err := store.Get(context.Background(), "income:M1_1AF")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	_, found, err = store.Get(context.Background(), "income:ZZ99_9ZZ")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("SELECT payload FROM scrape_cache").
		WithArgs("k", now).
		WillReturnError(errors.New("connection lost"))

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_cache").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "cache; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}
