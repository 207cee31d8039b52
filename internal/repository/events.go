package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

// EventsRepository defines persistence for the append-only rate_limit_events
// table. Rows are never updated except to stamp warned_at/disabled_at once.
type EventsRepository interface {
	// InsertDedup inserts the event unless its hash is already recorded.
	// Returns true only for genuinely new rows; re-ingesting overlapping log
	// windows is a no-op.
	InsertDedup(ctx context.Context, e model.RateLimitEvent) (bool, error)
	// CountWindow counts events for a mailbox with event_time >= since.
	CountWindow(ctx context.Context, email string, since time.Time) (int, error)
	StampWarned(ctx context.Context, eventHash string, at time.Time) error
	StampDisabled(ctx context.Context, eventHash string, at time.Time) error
	ListRecent(ctx context.Context, email string, limit int) ([]model.RateLimitEvent, error)
}

type EventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEventsRepository(db *sqlx.DB) *EventsRepositoryImpl {
	return &EventsRepositoryImpl{db: db}
}

var _ EventsRepository = (*EventsRepositoryImpl)(nil)

func (r *EventsRepositoryImpl) InsertDedup(ctx context.Context, e model.RateLimitEvent) (bool, error) {
	// Idempotent insert keyed on event_hash (UNIQUE): duplicates touch the
	// row without changing it and report zero affected rows.
	const q = `
		INSERT INTO rate_limit_events
		    (event_hash, email, bucket, action, queue_id, message_id, source, event_time, raw, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE id = id
	`
	res, err := r.db.ExecContext(ctx, q,
		e.EventHash, e.Email, e.Bucket, e.Action, e.QueueID, e.MessageID, e.Source, e.EventTime, e.Raw,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *EventsRepositoryImpl) CountWindow(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM rate_limit_events
		 WHERE email = ? AND event_time >= ?
	`, email, since)
	return n, err
}

func (r *EventsRepositoryImpl) StampWarned(ctx context.Context, eventHash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rate_limit_events SET warned_at = ?
		 WHERE event_hash = ? AND warned_at IS NULL
	`, at, eventHash)
	return err
}

func (r *EventsRepositoryImpl) StampDisabled(ctx context.Context, eventHash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rate_limit_events SET disabled_at = ?
		 WHERE event_hash = ? AND disabled_at IS NULL
	`, at, eventHash)
	return err
}

func (r *EventsRepositoryImpl) ListRecent(ctx context.Context, email string, limit int) ([]model.RateLimitEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var rows []model.RateLimitEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, event_hash, email, bucket, action, queue_id, message_id, source,
		       event_time, raw, warned_at, disabled_at, created_at
		  FROM rate_limit_events
		 WHERE email = ?
		 ORDER BY event_time DESC
		 LIMIT ?
	`, email, limit)
	return rows, err
}
