package model

import "time"

type AbuseStatus string

const (
	AbuseActive   AbuseStatus = "active"
	AbuseWarning  AbuseStatus = "warning"
	AbuseDisabled AbuseStatus = "disabled"
)

func (s AbuseStatus) String() string { return string(s) }

func (s AbuseStatus) Valid() bool {
	return s == AbuseActive || s == AbuseWarning || s == AbuseDisabled
}

// MailboxState tracks the abuse lifecycle per mailbox email, independent of
// the mailbox active flag. Written only by the abuse worker; reset only by
// the explicit manual re-enable through the control API.
type MailboxState struct {
	Email      string      `db:"email"`
	Status     AbuseStatus `db:"status"`
	WarnCount  int         `db:"warn_count"`
	LastWarnAt *time.Time  `db:"last_warn_at"`
	DisabledAt *time.Time  `db:"disabled_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

// RateLimitEvent is one parsed abuse signal. Append-only: rows are never
// updated except to stamp warned_at/disabled_at once enforcement ran.
// EventHash dedups overlapping log windows across independent sources.
type RateLimitEvent struct {
	ID         int64      `db:"id"`
	EventHash  string     `db:"event_hash"`
	Email      string     `db:"email"`
	Bucket     string     `db:"bucket"`
	Action     string     `db:"action"`
	QueueID    string     `db:"queue_id"`
	MessageID  string     `db:"message_id"`
	Source     string     `db:"source"`
	EventTime  time.Time  `db:"event_time"`
	Raw        string     `db:"raw"`
	WarnedAt   *time.Time `db:"warned_at"`
	DisabledAt *time.Time `db:"disabled_at"`
	CreatedAt  time.Time  `db:"created_at"`
}
