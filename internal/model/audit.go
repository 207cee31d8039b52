package model

import "time"

type AuditKind string

const (
	AuditMailboxWarned   AuditKind = "mailbox_warned"
	AuditMailboxDisabled AuditKind = "mailbox_disabled"
	AuditMailboxEnabled  AuditKind = "mailbox_enabled"
)

func (k AuditKind) String() string { return string(k) }

// AuditEvent records one enforcement decision. Rows are written in the same
// transaction as an outbox row; the archiver worker mirrors them into
// ClickHouse via Kafka.
type AuditEvent struct {
	ID        string    `db:"id" json:"id"` // ULID
	Kind      AuditKind `db:"kind" json:"kind"`
	Email     string    `db:"email" json:"email"`
	Bucket    string    `db:"bucket" json:"bucket"`
	EventHash string    `db:"event_hash" json:"event_hash"`
	Success   bool      `db:"success" json:"success"`
	Error     string    `db:"error" json:"error,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
