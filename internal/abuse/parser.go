package abuse

import (
	"regexp"
	"strings"
	"time"
)

// DefaultBucket labels events whose line names no recognizable bucket.
const DefaultBucket = "default"

// defaultAction is recorded when the line carries no explicit action token.
const defaultAction = "rate_limited"

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}`)

	// Bucket extraction fallbacks, tried in order.
	bucketPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)bucket[=: ]+"?([\w.-]+)"?`),
		regexp.MustCompile(`(?i)ratelimit\s*\(\s*([\w.-]+)\s*\)`),
		regexp.MustCompile(`(?i)limit[=: ]+"?([\w.-]+)"?\s+exceeded`),
	}

	actionRe    = regexp.MustCompile(`(?i)action[=: ]+"?([\w.-]+)"?`)
	queueIDRe   = regexp.MustCompile(`(?i)queue[-_ ]?id[=: ]+"?([\w.-]+)"?`)
	postfixQID  = regexp.MustCompile(`\b([0-9A-F]{10,14})\b`)
	messageIDRe = regexp.MustCompile(`(?i)message[-_ ]?id[=: ]+<?([^<>\s]+@[^<>\s]+?)>?(?:\s|$|,)`)
)

// ParsedEvent is one abuse signal extracted from a log line.
type ParsedEvent struct {
	Email     string
	Bucket    string
	Action    string
	QueueID   string
	MessageID string
	EventTime time.Time
	Raw       string
}

// Parser extracts rate-limit signals from filter-daemon log lines.
type Parser struct {
	markers []string // lowercase substrings that mark a rate-limit line
}

func NewParser(markers []string) *Parser {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	if len(lowered) == 0 {
		lowered = []string{"rate limit", "ratelimit"}
	}
	return &Parser{markers: lowered}
}

// Parse returns the event carried by line, or ok=false when the line has no
// rate-limit marker or no recognizable email. A timestamp is taken from the
// line's leading token; unparseable timestamps fall back to now (ingestion
// time).
func (p *Parser) Parse(line string, now time.Time) (ParsedEvent, bool) {
	lower := strings.ToLower(line)
	marked := false
	for _, m := range p.markers {
		if strings.Contains(lower, m) {
			marked = true
			break
		}
	}
	if !marked {
		return ParsedEvent{}, false
	}

	email := emailRe.FindString(line)
	if email == "" {
		return ParsedEvent{}, false
	}

	ev := ParsedEvent{
		Email:     strings.ToLower(email),
		Bucket:    DefaultBucket,
		Action:    defaultAction,
		EventTime: parseLeadingTime(line, now),
		Raw:       line,
	}

	for _, re := range bucketPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			ev.Bucket = strings.ToLower(m[1])
			break
		}
	}
	if m := actionRe.FindStringSubmatch(line); m != nil {
		ev.Action = strings.ToLower(m[1])
	}
	if m := queueIDRe.FindStringSubmatch(line); m != nil {
		ev.QueueID = m[1]
	} else if m := postfixQID.FindStringSubmatch(line); m != nil {
		ev.QueueID = m[1]
	}
	if m := messageIDRe.FindStringSubmatch(line); m != nil {
		ev.MessageID = m[1]
	}

	return ev, true
}

// timeLayouts are tried against the line's leading token(s), longest first.
var timeLayouts = []struct {
	layout string
	tokens int
}{
	{time.RFC3339Nano, 1},
	{time.RFC3339, 1},
	{"2006-01-02T15:04:05", 1},
	{"2006-01-02 15:04:05", 2},
	{time.Stamp, 3}, // syslog: "Jan _2 15:04:05", no year
}

func parseLeadingTime(line string, now time.Time) time.Time {
	fields := strings.Fields(line)
	for _, l := range timeLayouts {
		if len(fields) < l.tokens {
			continue
		}
		candidate := strings.Join(fields[:l.tokens], " ")
		ts, err := time.Parse(l.layout, candidate)
		if err != nil {
			continue
		}
		if ts.Year() == 0 { // layout without year (syslog)
			ts = ts.AddDate(now.Year(), 0, 0)
			if ts.After(now.Add(24 * time.Hour)) {
				ts = ts.AddDate(-1, 0, 0)
			}
		}
		return ts
	}
	return now
}
