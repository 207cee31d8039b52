package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	require.Equal(t, "example.com", NormalizeDomain("  EXAMPLE.COM.  "))
	require.Equal(t, "mail.example.org", NormalizeDomain("Mail.Example.Org"))
}

func TestValidDomain(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"example.com", true},
		{"mail.example.co.uk", true},
		{"xn--bcher-kva.example", true},
		{"a-b.example.com", true},
		{"example", false},       // no dot
		{"-bad.example.com", false},
		{"bad-.example.com", false},
		{"exa mple.com", false},
		{"", false},
		{strings.Repeat("a", 64) + ".com", false}, // label too long
	}
	for _, tt := range tests {
		require.Equal(t, tt.ok, ValidDomain(tt.in), "domain %q", tt.in)
	}
}

func TestValidLocalPart(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"ops", true},
		{"first.last", true},
		{"user+tag", true},
		{"a", true},
		{".leading", false},
		{"trailing.", false},
		{"", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.ok, ValidLocalPart(tt.in), "local part %q", tt.in)
	}
}

func TestSplitEmail(t *testing.T) {
	local, domain, ok := SplitEmail("ops@example.com")
	require.True(t, ok)
	require.Equal(t, "ops", local)
	require.Equal(t, "example.com", domain)

	// last @ wins
	local, domain, ok = SplitEmail(`"weird@inner"@example.com`)
	require.True(t, ok)
	require.Equal(t, `"weird@inner"`, local)
	require.Equal(t, "example.com", domain)

	for _, bad := range []string{"", "no-at", "@example.com", "ops@"} {
		_, _, ok := SplitEmail(bad)
		require.False(t, ok, "input %q", bad)
	}
}

func TestValidEmail(t *testing.T) {
	require.True(t, ValidEmail("ops@example.com"))
	require.True(t, ValidEmail("first.last+tag@mail.example.org"))
	require.False(t, ValidEmail("ops@localhost"))
	require.False(t, ValidEmail(".ops@example.com"))
	require.False(t, ValidEmail("ops"))
}
