package util

import (
	"net/mail"
	"strings"
)

// NormalizeSender extracts the address from a From header value, lowercases it and
// strips a +alias suffix from the local part. Dots are kept: not every provider
// ignores them. Returns "" when no address can be parsed.
func NormalizeSender(fromHeader string) string {
	fromHeader = strings.TrimSpace(fromHeader)
	if fromHeader == "" {
		return ""
	}
	addr, err := mail.ParseAddress(fromHeader)
	if err != nil || addr == nil {
		// Some headers carry a list; take the first entry that parses.
		addr = nil
		for _, p := range strings.Split(fromHeader, ",") {
			if a, e := mail.ParseAddress(strings.TrimSpace(p)); e == nil && a != nil {
				addr = a
				break
			}
		}
		if addr == nil {
			return ""
		}
	}

	email := strings.ToLower(strings.TrimSpace(addr.Address))
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if plus := strings.IndexByte(local, '+'); plus > -1 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// SplitSender returns the local part and domain of a normalized address.
func SplitSender(email string) (local, domain string) {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return email, ""
	}
	return email[:at], email[at+1:]
}

// ExtractHTTPUnsubscribeURL returns the first http(s) URL of a List-Unsubscribe header,
// e.g. "<https://example.com/unsub>, <mailto:unsub@example.com>".
func ExtractHTTPUnsubscribeURL(header string) string {
	for _, p := range strings.Split(header, ",") {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), "<>"))
		lower := strings.ToLower(p)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return p
		}
	}
	return ""
}
