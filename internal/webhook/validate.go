package webhook

import (
	"errors"
	"net/netip"
	"net/url"
	"strings"
)

const DefaultMaxURLLength = 512

var (
	ErrInvalidURL    = errors.New("invalid_webhook_url")
	ErrInsecureURL   = errors.New("webhook_url_must_use_https")
	ErrURLTooLong    = errors.New("webhook_url_too_long")
	ErrForbiddenHost = errors.New("webhook_host_not_allowed")
)

var forbiddenHostSuffixes = []string{".local", ".internal", ".localhost"}

// ValidateURL checks that raw is an HTTPS URL whose host is neither an
// internal name nor a non-public IP literal. The check is lexical: names are
// not resolved.
func ValidateURL(raw string, maxLength int) error {
	if maxLength <= 0 {
		maxLength = DefaultMaxURLLength
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrInvalidURL
	}
	if len(raw) > maxLength {
		return ErrURLTooLong
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return ErrInsecureURL
	}
	if u.User != nil {
		return ErrInvalidURL
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return ErrInvalidURL
	}
	if host == "localhost" {
		return ErrForbiddenHost
	}
	for _, suffix := range forbiddenHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return ErrForbiddenHost
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		if addr.IsLoopback() ||
			addr.IsPrivate() ||
			addr.IsLinkLocalUnicast() ||
			addr.IsLinkLocalMulticast() ||
			addr.IsInterfaceLocalMulticast() ||
			addr.IsMulticast() ||
			addr.IsUnspecified() {
			return ErrForbiddenHost
		}
		return nil
	}

	if numericHost(host) {
		return ErrForbiddenHost
	}
	return nil
}

// numericHost reports hosts that some resolvers read as IPv4 even though
// netip does not: 2130706433, 127.1, 0x7f.1, 0177.0.0.1. No public TLD is
// numeric, so a numeric last label is never a real name.
func numericHost(host string) bool {
	label := host[strings.LastIndex(host, ".")+1:]
	charset := "0123456789"
	if strings.HasPrefix(label, "0x") {
		label, charset = label[2:], "0123456789abcdef"
	}
	if label == "" {
		return false
	}
	for _, r := range label {
		if !strings.ContainsRune(charset, r) {
			return false
		}
	}
	return true
}
