package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

// DomainsRepository defines persistence for the domains table.
type DomainsRepository interface {
	// Upsert inserts the domain or, on name conflict, refreshes metadata and
	// clears the soft-delete marker (re-adding a deleted domain revives it).
	Upsert(ctx context.Context, d model.Domain) error
	GetByName(ctx context.Context, name string) (*model.Domain, error)
	// ListSummaries returns non-deleted domains enriched with live mailbox
	// counts and aggregate quota.
	ListSummaries(ctx context.Context) ([]model.DomainSummary, error)
	// SoftDelete marks the domain inactive and deleted; reports whether a
	// live row matched.
	SoftDelete(ctx context.Context, tx *sqlx.Tx, name string) (bool, error)
}

type DomainsRepositoryImpl struct {
	db *sqlx.DB
}

func NewDomainsRepository(db *sqlx.DB) *DomainsRepositoryImpl {
	return &DomainsRepositoryImpl{db: db}
}

var _ DomainsRepository = (*DomainsRepositoryImpl)(nil)

func (r *DomainsRepositoryImpl) Upsert(ctx context.Context, d model.Domain) error {
	const q = `
		INSERT INTO domains
		    (name, description, active, dkim_selector, dkim_txt_value, dkim_key_path, created_at, updated_at, deleted_at)
		VALUES
		    (?, ?, 1, ?, ?, ?, NOW(), NOW(), NULL)
		ON DUPLICATE KEY UPDATE
		    description    = VALUES(description),
		    active         = 1,
		    dkim_selector  = VALUES(dkim_selector),
		    dkim_txt_value = VALUES(dkim_txt_value),
		    dkim_key_path  = VALUES(dkim_key_path),
		    updated_at     = NOW(),
		    deleted_at     = NULL
	`
	_, err := r.db.ExecContext(ctx, q,
		d.Name, d.Description, d.DKIMSelector, d.DKIMTxtValue, d.DKIMKeyPath,
	)
	return err
}

func (r *DomainsRepositoryImpl) GetByName(ctx context.Context, name string) (*model.Domain, error) {
	var d model.Domain
	err := r.db.GetContext(ctx, &d, `
		SELECT id, name, description, active, dkim_selector, dkim_txt_value, dkim_key_path,
		       created_at, updated_at, deleted_at
		  FROM domains
		 WHERE name = ? LIMIT 1
	`, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DomainsRepositoryImpl) ListSummaries(ctx context.Context) ([]model.DomainSummary, error) {
	const q = `
		SELECT d.id, d.name, d.description, d.active, d.dkim_selector, d.dkim_txt_value, d.dkim_key_path,
		       d.created_at, d.updated_at, d.deleted_at,
		       (SELECT COUNT(*) FROM mailboxes m WHERE m.domain = d.name)                    AS mailbox_count,
		       (SELECT COALESCE(SUM(m.quota_mb), 0) FROM mailboxes m WHERE m.domain = d.name) AS quota_total_mb
		  FROM domains d
		 WHERE d.deleted_at IS NULL
		 ORDER BY d.name
	`
	var rows []model.DomainSummary
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DomainsRepositoryImpl) SoftDelete(ctx context.Context, tx *sqlx.Tx, name string) (bool, error) {
	const q = `
		UPDATE domains
		   SET active = 0, deleted_at = NOW(), updated_at = NOW()
		 WHERE name = ?
	`
	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.ExecContext(ctx, q, name)
	} else {
		res, err = r.db.ExecContext(ctx, q, name)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
