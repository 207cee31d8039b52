package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

// CHAuditRepository is the long-term audit archive in ClickHouse: the
// archiver worker appends batches, the reports endpoint reads them.
type CHAuditRepository interface {
	InsertBatch(ctx context.Context, events []model.AuditEvent) error
	List(ctx context.Context, email, kind string, limit, offset int) ([]model.AuditEvent, error)
}

type chAuditRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAuditRepository(ch *sqlx.DB) CHAuditRepository {
	return &chAuditRepository{ch: ch}
}

func (r *chAuditRepository) InsertBatch(ctx context.Context, events []model.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO mailplane.audit_events
		(id, kind, email, bucket, event_hash, success, error, created_at) VALUES `)
	args := make([]any, 0, len(events)*8)
	for i, ev := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			ev.ID, ev.Kind.String(), ev.Email, ev.Bucket, ev.EventHash, ev.Success, ev.Error, ev.CreatedAt,
		)
	}

	_, err := r.ch.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *chAuditRepository) List(ctx context.Context, email, kind string, limit, offset int) ([]model.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, kind, email, bucket, event_hash, success, error, created_at
		FROM mailplane.audit_events
		WHERE 1 = 1
	`
	args := []any{}

	if email != "" {
		q += " AND email = ?"
		args = append(args, email)
	}
	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind)
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.AuditEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
