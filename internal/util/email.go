package util

import (
	"regexp"
	"strings"
)

var (
	// RFC-shaped hostname: labels of alnum/hyphen, at least one dot.
	domainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
	localRe  = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9._+-]*[a-z0-9])?$`)
)

// NormalizeEmail lowercases and trims user input.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeDomain lowercases, trims, and strips a trailing dot.
func NormalizeDomain(raw string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
}

// ValidDomain reports whether s is an RFC-shaped hostname.
func ValidDomain(s string) bool {
	return len(s) <= 253 && domainRe.MatchString(s)
}

// ValidLocalPart reports whether s is acceptable as a mailbox local part.
func ValidLocalPart(s string) bool {
	return len(s) <= 64 && localRe.MatchString(s)
}

// ValidEmail reports whether s is a well-formed address per the two rules above.
func ValidEmail(s string) bool {
	local, domain, ok := SplitEmail(s)
	return ok && ValidLocalPart(local) && ValidDomain(domain)
}

// SplitEmail splits an address on the last "@".
func SplitEmail(email string) (local, domain string, ok bool) {
	idx := strings.LastIndex(email, "@")
	if idx <= 0 || idx == len(email)-1 {
		return "", "", false
	}
	return email[:idx], email[idx+1:], true
}
