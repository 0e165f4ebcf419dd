package crawler

import (
	"strings"
)

// PolicyTypeGeneral is recorded when no policy-type filters are configured.
const PolicyTypeGeneral = "General"

// policyTypeKeywords maps a policy type to the URL substrings that indicate
// it. Unknown types fall back to matching their own name.
var policyTypeKeywords = map[string][]string{
	"life":     {"life", "lif", "living", "death", "tpd", "income protection", "trauma"},
	"home":     {"home", "house", "property", "contents", "building", "landlord", "rental"},
	"motor":    {"motor", "vehicle", "car", "auto", "comprehensive", "third party", "tpft"},
	"travel":   {"travel", "trip", "overseas", "holiday", "international"},
	"health":   {"health", "medical", "hospital", "dental", "optical"},
	"business": {"business", "commercial", "liability", "sme", "professional indemnity", "public liability"},
}

// DocumentFilter applies the session's keyword and policy-type filters to
// candidate URLs. Filters are fixed at session creation.
type DocumentFilter struct {
	Keywords    []string
	PolicyTypes []string
}

// Match reports whether the URL passes both filter stages and which policy
// type matched. Keyword filters are required when present; policy-type
// filters are optional (empty accepts everything as General). The first
// matching policy type in configuration order wins.
func (f DocumentFilter) Match(rawURL string) (bool, string) {
	urlLower := strings.ToLower(rawURL)

	if len(f.Keywords) > 0 {
		matched := false
		for _, kw := range f.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(urlLower, strings.ToLower(kw)) {
				matched = true
				break
			}
		}
		if !matched {
			return false, ""
		}
	}

	if len(f.PolicyTypes) == 0 {
		return true, PolicyTypeGeneral
	}

	for _, policyType := range f.PolicyTypes {
		keywords, ok := policyTypeKeywords[strings.ToLower(policyType)]
		if !ok {
			keywords = []string{strings.ToLower(policyType)}
		}
		for _, kw := range keywords {
			if strings.Contains(urlLower, kw) {
				return true, policyType
			}
		}
	}

	return false, ""
}
