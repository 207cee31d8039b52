package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/mailplane/mailplane/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func sampleEvent() model.RateLimitEvent {
	return model.RateLimitEvent{
		EventHash: "deadbeef",
		Email:     "ops@example.com",
		Bucket:    "outbound",
		Action:    "rate_limited",
		QueueID:   "AAAA111122",
		Source:    "file:/var/log/mail.log",
		EventTime: time.Date(2025, 6, 1, 9, 59, 0, 0, time.UTC),
		Raw:       "raw line",
	}
}

func TestInsertDedupNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventsRepository(db)

	mock.ExpectExec("INSERT INTO rate_limit_events").
		WithArgs("deadbeef", "ops@example.com", "outbound", "rate_limited", "AAAA111122", "",
			"file:/var/log/mail.log", sqlmock.AnyArg(), "raw line").
		WillReturnResult(sqlmock.NewResult(1, 1))

	inserted, err := repo.InsertDedup(context.Background(), sampleEvent())
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDedupDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventsRepository(db)

	// ON DUPLICATE KEY UPDATE id = id reports zero affected rows
	mock.ExpectExec("INSERT INTO rate_limit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertDedup(context.Background(), sampleEvent())
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountWindow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventsRepository(db)

	since := time.Now().Add(-7 * 24 * time.Hour)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM rate_limit_events").
		WithArgs("ops@example.com", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := repo.CountWindow(context.Background(), "ops@example.com", since)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStampWarnedOnlyOnce(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventsRepository(db)

	at := time.Now()
	mock.ExpectExec("UPDATE rate_limit_events SET warned_at").
		WithArgs(at, "deadbeef").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.StampWarned(context.Background(), "deadbeef", at))
	require.NoError(t, mock.ExpectationsWereMet())
}
