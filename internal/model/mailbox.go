package model

import "time"

// Mailbox is the DB entity persisted in the mailboxes table.
type Mailbox struct {
	ID           int64      `db:"id"`
	Email        string     `db:"email"`
	Domain       string     `db:"domain"`
	LocalPart    string     `db:"local_part"`
	DisplayName  string     `db:"display_name"`
	PasswordHash string     `db:"password_hash"`
	QuotaMB      int        `db:"quota_mb"`
	Active       bool       `db:"active"`
	DisabledAt   *time.Time `db:"disabled_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// StorageUsage is the inspector's stats view for one mailbox.
type StorageUsage struct {
	UsedBytes  int64  `json:"used_bytes"`
	InboxCount int    `json:"inbox_count"`
	SentCount  int    `json:"sent_count"`
	Path       string `json:"path"`
}

// PurgeResult reports what a storage purge removed.
type PurgeResult struct {
	DeletedFiles int    `json:"deleted_files"`
	DeletedBytes int64  `json:"deleted_bytes"`
	Path         string `json:"path"`
}
