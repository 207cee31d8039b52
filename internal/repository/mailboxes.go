package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

// MailboxesRepository defines persistence for the mailboxes table.
type MailboxesRepository interface {
	// Upsert inserts the mailbox or, on email conflict, refreshes its
	// metadata and reactivates it at the identity level.
	Upsert(ctx context.Context, m model.Mailbox) error
	GetByEmail(ctx context.Context, email string) (*model.Mailbox, error)
	// List returns mailboxes, optionally filtered by owning domain.
	List(ctx context.Context, domain string) ([]model.Mailbox, error)
	Delete(ctx context.Context, email string) (bool, error)
	// DeleteByDomain removes every mailbox under a domain; used when the
	// domain itself is deleted. Runs inside the caller's tx when given.
	DeleteByDomain(ctx context.Context, tx *sqlx.Tx, domain string) (int64, error)
	SetQuota(ctx context.Context, email string, quotaMB int) (bool, error)
	SetPasswordHash(ctx context.Context, email, hash string) (bool, error)
	// SetActive flips the active flag, stamping disabled_at when disabling
	// and clearing it when enabling.
	SetActive(ctx context.Context, email string, active bool) (bool, error)
}

type MailboxesRepositoryImpl struct {
	db *sqlx.DB
}

func NewMailboxesRepository(db *sqlx.DB) *MailboxesRepositoryImpl {
	return &MailboxesRepositoryImpl{db: db}
}

var _ MailboxesRepository = (*MailboxesRepositoryImpl)(nil)

const mailboxCols = `id, email, domain, local_part, display_name, password_hash, quota_mb, active, disabled_at, created_at, updated_at`

func (r *MailboxesRepositoryImpl) Upsert(ctx context.Context, m model.Mailbox) error {
	const q = `
		INSERT INTO mailboxes
		    (email, domain, local_part, display_name, password_hash, quota_mb, active, disabled_at, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, 1, NULL, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    display_name  = VALUES(display_name),
		    password_hash = VALUES(password_hash),
		    quota_mb      = VALUES(quota_mb),
		    active        = 1,
		    disabled_at   = NULL,
		    updated_at    = NOW()
	`
	_, err := r.db.ExecContext(ctx, q,
		m.Email, m.Domain, m.LocalPart, m.DisplayName, m.PasswordHash, m.QuotaMB,
	)
	return err
}

func (r *MailboxesRepositoryImpl) GetByEmail(ctx context.Context, email string) (*model.Mailbox, error) {
	var m model.Mailbox
	err := r.db.GetContext(ctx, &m,
		`SELECT `+mailboxCols+` FROM mailboxes WHERE email = ? LIMIT 1`, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MailboxesRepositoryImpl) List(ctx context.Context, domain string) ([]model.Mailbox, error) {
	q := `SELECT ` + mailboxCols + ` FROM mailboxes`
	args := []any{}
	if domain != "" {
		q += ` WHERE domain = ?`
		args = append(args, domain)
	}
	q += ` ORDER BY email`

	var rows []model.Mailbox
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MailboxesRepositoryImpl) Delete(ctx context.Context, email string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mailboxes WHERE email = ?`, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *MailboxesRepositoryImpl) DeleteByDomain(ctx context.Context, tx *sqlx.Tx, domain string) (int64, error) {
	const q = `DELETE FROM mailboxes WHERE domain = ?`
	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, q, domain)
	} else {
		res, err = r.db.ExecContext(ctx, q, domain)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *MailboxesRepositoryImpl) SetQuota(ctx context.Context, email string, quotaMB int) (bool, error) {
	return r.updateOne(ctx,
		`UPDATE mailboxes SET quota_mb = ?, updated_at = NOW() WHERE email = ?`, quotaMB, email)
}

func (r *MailboxesRepositoryImpl) SetPasswordHash(ctx context.Context, email, hash string) (bool, error) {
	return r.updateOne(ctx,
		`UPDATE mailboxes SET password_hash = ?, updated_at = NOW() WHERE email = ?`, hash, email)
}

func (r *MailboxesRepositoryImpl) SetActive(ctx context.Context, email string, active bool) (bool, error) {
	if active {
		return r.updateOne(ctx,
			`UPDATE mailboxes SET active = 1, disabled_at = NULL, updated_at = NOW() WHERE email = ?`, email)
	}
	return r.updateOne(ctx,
		`UPDATE mailboxes SET active = 0, disabled_at = NOW(), updated_at = NOW() WHERE email = ?`, email)
}

func (r *MailboxesRepositoryImpl) updateOne(ctx context.Context, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// MySQL reports 0 affected rows for no-op updates, so probe existence
	// before declaring not-found.
	if n == 0 {
		var one int
		err := r.db.QueryRowxContext(ctx,
			`SELECT 1 FROM mailboxes WHERE email = ? LIMIT 1`, args[len(args)-1]).Scan(&one)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}
