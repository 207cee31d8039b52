package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSetQuotaUpdatesRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMailboxesRepository(db)

	mock.ExpectExec("UPDATE mailboxes SET quota_mb").
		WithArgs(2048, "ops@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.SetQuota(context.Background(), "ops@example.com", 2048)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetQuotaNoopUpdateProbesExistence(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMailboxesRepository(db)

	// MySQL reports 0 affected rows when the value is unchanged; the repo
	// must not confuse that with a missing mailbox.
	mock.ExpectExec("UPDATE mailboxes SET quota_mb").
		WithArgs(2048, "ops@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM mailboxes").
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	found, err := repo.SetQuota(context.Background(), "ops@example.com", 2048)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetQuotaMissingMailbox(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMailboxesRepository(db)

	mock.ExpectExec("UPDATE mailboxes SET quota_mb").
		WithArgs(2048, "ghost@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM mailboxes").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	found, err := repo.SetQuota(context.Background(), "ghost@example.com", 2048)
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByEmailNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMailboxesRepository(db)

	mock.ExpectQuery("SELECT .+ FROM mailboxes WHERE email").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	m, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	require.Nil(t, m)
}
