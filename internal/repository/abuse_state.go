package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

// StateRepository defines persistence for the mailbox_abuse_state table.
// One row per mailbox email, written only by the abuse worker except for
// the explicit manual reset.
type StateRepository interface {
	Get(ctx context.Context, email string) (*model.MailboxState, error)
	// MarkWarned moves the mailbox to warning, bumping warn_count and
	// stamping last_warn_at. Creates the row when absent.
	MarkWarned(ctx context.Context, email string, at time.Time) error
	// MarkDisabled moves the mailbox to disabled and stamps disabled_at.
	MarkDisabled(ctx context.Context, email string, at time.Time) error
	// Reset returns the mailbox to active with warn_count=0; used by the
	// manual re-enable boundary.
	Reset(ctx context.Context, email string) error
}

type StateRepositoryImpl struct {
	db *sqlx.DB
}

func NewStateRepository(db *sqlx.DB) *StateRepositoryImpl {
	return &StateRepositoryImpl{db: db}
}

var _ StateRepository = (*StateRepositoryImpl)(nil)

func (r *StateRepositoryImpl) Get(ctx context.Context, email string) (*model.MailboxState, error) {
	var s model.MailboxState
	err := r.db.GetContext(ctx, &s, `
		SELECT email, status, warn_count, last_warn_at, disabled_at, updated_at
		  FROM mailbox_abuse_state
		 WHERE email = ? LIMIT 1
	`, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StateRepositoryImpl) MarkWarned(ctx context.Context, email string, at time.Time) error {
	const q = `
		INSERT INTO mailbox_abuse_state (email, status, warn_count, last_warn_at, updated_at)
		VALUES (?, 'warning', 1, ?, NOW())
		ON DUPLICATE KEY UPDATE
		    status       = 'warning',
		    warn_count   = warn_count + 1,
		    last_warn_at = VALUES(last_warn_at),
		    updated_at   = NOW()
	`
	_, err := r.db.ExecContext(ctx, q, email, at)
	return err
}

func (r *StateRepositoryImpl) MarkDisabled(ctx context.Context, email string, at time.Time) error {
	const q = `
		INSERT INTO mailbox_abuse_state (email, status, warn_count, disabled_at, updated_at)
		VALUES (?, 'disabled', 0, ?, NOW())
		ON DUPLICATE KEY UPDATE
		    status      = 'disabled',
		    disabled_at = VALUES(disabled_at),
		    updated_at  = NOW()
	`
	_, err := r.db.ExecContext(ctx, q, email, at)
	return err
}

func (r *StateRepositoryImpl) Reset(ctx context.Context, email string) error {
	const q = `
		INSERT INTO mailbox_abuse_state (email, status, warn_count, last_warn_at, disabled_at, updated_at)
		VALUES (?, 'active', 0, NULL, NULL, NOW())
		ON DUPLICATE KEY UPDATE
		    status       = 'active',
		    warn_count   = 0,
		    last_warn_at = NULL,
		    disabled_at  = NULL,
		    updated_at   = NOW()
	`
	_, err := r.db.ExecContext(ctx, q, email)
	return err
}
