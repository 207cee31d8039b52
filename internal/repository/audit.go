package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/mailplane/mailplane/internal/model"
)

// AuditRecorder persists an audit event together with its outbox row in a
// single transaction, so enforcement decisions and their published trail
// cannot diverge.
type AuditRecorder interface {
	Record(ctx context.Context, ev model.AuditEvent) error
}

type AuditRecorderImpl struct {
	db     *sqlx.DB
	outbox OutboxRepository
	topic  string
}

func NewAuditRecorder(db *sqlx.DB, outbox OutboxRepository, topic string) *AuditRecorderImpl {
	return &AuditRecorderImpl{db: db, outbox: outbox, topic: topic}
}

var _ AuditRecorder = (*AuditRecorderImpl)(nil)

func (r *AuditRecorderImpl) Record(ctx context.Context, ev model.AuditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO audit_events (id, kind, email, bucket, event_hash, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, q,
		ev.ID, ev.Kind.String(), ev.Email, ev.Bucket, ev.EventHash, ev.Success, ev.Error, ev.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	if err := r.outbox.Insert(ctx, tx, "audit", ev.ID, r.topic, payload); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	return tx.Commit()
}
