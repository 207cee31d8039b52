package abuse

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// EventHash is the deterministic dedup key for one rate-limit signal.
// Timestamps are bucketed to the minute so the same event seen through
// overlapping log windows (or via independent sources) hashes identically,
// while distinct events a minute apart do not.
func EventHash(email, bucket, action, messageID, queueID string, eventTime time.Time) string {
	ref := messageID
	if ref == "" {
		ref = queueID
	}
	if ref == "" {
		ref = "none"
	}

	minute := eventTime.Unix() / 60
	sum := sha256.Sum256([]byte(strings.Join([]string{
		email,
		bucket,
		strconv.FormatInt(minute, 10),
		ref,
		action,
	}, "|")))
	return hex.EncodeToString(sum[:])
}
