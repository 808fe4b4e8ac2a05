// Package intelligence turns raw reconnaissance output (endpoints and
// probe observations) into structured attack surface: endpoint
// clusters, parameter roles, auth surfaces, response diffs and
// rule-generated attack candidates.
package intelligence

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Volatile path segment patterns, applied in this order. A segment
// consumed by an earlier pattern is never reconsidered by a later one.
var (
	uuidPattern    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	hexIDPattern   = regexp.MustCompile(`/[0-9a-fA-F]{24,}(/|$)`)
	hashPattern    = regexp.MustCompile(`/[0-9a-f]{32,64}(/|$)`)
	numericPattern = regexp.MustCompile(`/\d+(/|$)`)
)

// NormalizePath collapses volatile path segments into placeholders so
// that /api/users/42 and /api/users/97 land in the same cluster.
// Deterministic: equal inputs always produce equal outputs.
func NormalizePath(path string) string {
	normalized := uuidPattern.ReplaceAllString(path, "{uuid}")
	normalized = replaceSegments(hexIDPattern, normalized, "/{hex_id}$1")
	normalized = replaceSegments(hashPattern, normalized, "/{hash}$1")
	normalized = replaceSegments(numericPattern, normalized, "/{id}$1")

	if len(normalized) > 1 && strings.HasSuffix(normalized, "/") {
		normalized = normalized[:len(normalized)-1]
	}
	if normalized == "" {
		normalized = "/"
	}
	return normalized
}

// replaceSegments applies re until a fixpoint. The trailing separator
// is part of each match, so adjacent volatile segments need repeated
// passes.
func replaceSegments(re *regexp.Regexp, s, repl string) string {
	for {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}

// NormalizeURL extracts and normalizes the path component of a raw URL.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return NormalizePath(rawURL)
	}
	return NormalizePath(u.Path)
}

// ParameterSignature derives the order-independent signature of a
// parameter name set: a 16-character digest prefix, or "no_params".
func ParameterSignature(names []string) string {
	if len(names) == 0 {
		return "no_params"
	}
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	sum := md5.Sum([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// QueryParameters returns the parameter names and values of a URL's
// query string, names sorted for determinism.
func QueryParameters(rawURL string) (names []string, values map[string][]string) {
	values = map[string][]string{}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, values
	}
	for name, vals := range u.Query() {
		names = append(names, name)
		values[name] = append(values[name], vals...)
	}
	sort.Strings(names)
	return names, values
}
