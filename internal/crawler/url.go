package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// defaultTrackingParams are the query parameters stripped during
// normalization when no explicit set is configured.
var defaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"gclid", "fbclid", "ref", "v", "version", "format", "source",
	"gclsrc", "dclid", "_ga", "mc_cid", "mc_eid", "msclkid",
}

// DefaultTrackingParams returns a copy of the built-in tracking parameter set.
func DefaultTrackingParams() []string {
	return append([]string(nil), defaultTrackingParams...)
}

// URLNormalizer canonicalizes URLs for deduplication and domain comparison.
// Normalization is pure and idempotent.
type URLNormalizer struct {
	tracking map[string]struct{}
}

// NewURLNormalizer builds a normalizer stripping the given tracking
// parameters; an empty list selects the default set.
func NewURLNormalizer(trackingParams []string) *URLNormalizer {
	if len(trackingParams) == 0 {
		trackingParams = defaultTrackingParams
	}
	tracking := make(map[string]struct{}, len(trackingParams))
	for _, p := range trackingParams {
		tracking[strings.ToLower(p)] = struct{}{}
	}
	return &URLNormalizer{tracking: tracking}
}

// Normalize lowercases scheme and host, strips default ports and the
// fragment, collapses trailing slashes (root path preserved), removes
// tracking parameters, and re-encodes the remaining query in sorted order.
func (n *URLNormalizer) Normalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Path = strings.TrimRight(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}

	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if _, drop := n.tracking[strings.ToLower(key)]; drop {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// IsPDFURL reports whether the URL path ends in .pdf, case-insensitive and
// tolerating one trailing slash.
func IsPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".pdf") || strings.HasSuffix(path, ".pdf/")
}

// SameDomain compares the registrable tails (last two host labels) of two
// URLs so subdomain and www variants of one site match.
func SameDomain(a, b string) bool {
	return baseDomain(a) != "" && baseDomain(a) == baseDomain(b)
}

func baseDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

// ExtractInsurer derives an insurer name from the URL's host: the first
// label after any www prefix, capitalized and sanitized for filesystem use.
func ExtractInsurer(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "Unknown"
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return "Unknown"
	}
	runes := []rune(label)
	runes[0] = unicode.ToUpper(runes[0])
	return SanitizeFilename(string(runes))
}

// SanitizeFilename strips path separators and traversal sequences, keeps
// only alphanumerics plus underscore, hyphen and dot, and caps the length.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	name = replacer.Replace(name)

	var b strings.Builder
	for _, r := range name {
		if r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.') {
			b.WriteRune(r)
		}
	}
	safe := strings.TrimLeft(b.String(), ".")
	if safe == "" {
		safe = "unknown"
	}
	if len(safe) > 200 {
		safe = safe[:200]
	}
	return safe
}
