package domain

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"text/tabwriter"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Normalize turns user input into an ASCII domain name suitable for
// permutation and registry lookups (RDAP/WHOIS).
//
// It is intentionally permissive (allows URLs, strips paths, strips port) and
// returns an error if the remaining value is not a valid domain name.
func Normalize(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("empty domain")
	}

	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	} else if i := strings.LastIndexByte(s, ':'); i > 0 && i < len(s)-1 {
		if isAllDigits(s[i+1:]) {
			s = s[:i]
		}
	}

	s = strings.TrimSuffix(s, ".")
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", fmt.Errorf("empty domain")
	}

	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}

	// Single-label names are not registrable domains.
	if !strings.Contains(ascii, ".") {
		return "", fmt.Errorf("domain must contain a dot: %q", input)
	}

	if !isValidASCII(ascii) {
		return "", fmt.Errorf("invalid domain: %q", input)
	}

	return ascii, nil
}

// Split returns the leading label and the effective TLD of an ASCII domain.
// "mail.example.co.uk" splits into ("mail", "co.uk"); the effective TLD comes
// from the public suffix list, falling back to the last dot-label when the
// name has no known suffix.
func Split(d string) (label, tld string) {
	tld, _ = publicsuffix.PublicSuffix(d)
	if tld == "" || tld == d {
		i := strings.LastIndexByte(d, '.')
		if i < 0 {
			return d, ""
		}
		return d[:i], d[i+1:]
	}
	label = strings.TrimSuffix(d, "."+tld)
	if i := strings.IndexByte(label, '.'); i >= 0 {
		label = label[:i]
	}
	return label, tld
}

// FirstLabel returns everything before the first dot.
func FirstLabel(d string) string {
	if i := strings.IndexByte(d, '.'); i >= 0 {
		return d[:i]
	}
	return d
}

// LastLabel returns everything after the last dot, or "" when the name has no
// interior dot.
func LastLabel(d string) string {
	i := strings.LastIndexByte(d, '.')
	if i < 0 || i == len(d)-1 {
		return ""
	}
	return d[i+1:]
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func NewTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func isValidASCII(s string) bool {
	// Small, pragmatic validation for registrable names.
	if len(s) < 1 || len(s) > 253 {
		return false
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if !IsValidLabel(label) {
			return false
		}
	}
	return true
}

// IsValidLabel reports whether s is a well-formed LDH label.
func IsValidLabel(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			continue
		}
		return false
	}
	return true
}
