// File: internal/store/postgres_test.go
package store

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPGStore(t *testing.T) (*PGStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	pg, err := NewPGStore(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return pg, mock
}

func TestPGStoreLoad(t *testing.T) {
	pg, mock := newTestPGStore(t)

	raw, err := json.Marshal(sampleState())
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT state FROM session_snapshots`).
		WithArgs("seller-1").
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow(raw))

	out, err := pg.Load(context.Background(), "seller-1")
	require.NoError(t, err)
	assert.True(t, out.Authenticated)
	assert.Len(t, out.Cookies, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreLoadMissing(t *testing.T) {
	pg, mock := newTestPGStore(t)

	mock.ExpectQuery(`SELECT state FROM session_snapshots`).
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"state"}))

	_, err := pg.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGStoreSaveUpserts(t *testing.T) {
	pg, mock := newTestPGStore(t)

	mock.ExpectExec(`INSERT INTO session_snapshots`).
		WithArgs("seller-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	state := sampleState()
	require.NoError(t, pg.Save(context.Background(), "seller-1", state))
	assert.False(t, state.SavedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
