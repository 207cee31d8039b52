package model

import "time"

// Domain is the DB entity persisted in the domains table. The DKIM private
// key itself lives on disk; the row only carries the path and the cached
// public TXT value for DNS rendering.
type Domain struct {
	ID           int64      `db:"id"`
	Name         string     `db:"name"`
	Description  string     `db:"description"`
	Active       bool       `db:"active"`
	DKIMSelector string     `db:"dkim_selector"`
	DKIMTxtValue string     `db:"dkim_txt_value"`
	DKIMKeyPath  string     `db:"dkim_key_path"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at"`
}

// Deleted reports whether the row is soft-deleted.
func (d Domain) Deleted() bool { return d.DeletedAt != nil }

// DomainSummary is the listing view: an identity row merged with live
// per-domain aggregates computed against mailboxes.
type DomainSummary struct {
	Domain
	MailboxCount int   `db:"mailbox_count"`
	QuotaTotalMB int64 `db:"quota_total_mb"`
}

// DKIMRecord is what DNS publication needs: selector plus TXT value.
type DKIMRecord struct {
	Domain   string `json:"domain"`
	Selector string `json:"selector"`
	TxtValue string `json:"txt_value"`
}
