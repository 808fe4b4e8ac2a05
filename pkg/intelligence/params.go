package intelligence

import (
	"regexp"
	"strings"

	"github.com/huntplane/huntplane/pkg/types"
)

// Role inference rules. The first matching role wins, so the slice
// order is part of the contract; within a role the primary pattern
// scores higher than the looser fallbacks.
type rolePatterns struct {
	role     types.SemanticRole
	patterns []*regexp.Regexp
}

var roleRules = []rolePatterns{
	{types.RoleIdentifier, compileAll(
		`^(id|uid|user_?id|account_?id)$`,
		`^.*_id$`,
		`^pk$`,
	)},
	{types.RoleRedirect, compileAll(
		`^(redirect|return|next|callback|url|return_?url|continue)$`,
		`^.*_url$`,
		`^.*_redirect$`,
	)},
	{types.RoleFilePath, compileAll(
		`^(file|path|filename|filepath|dir|directory)$`,
		`^.*_file$`,
		`^.*_path$`,
	)},
	{types.RoleAuth, compileAll(
		`^(token|auth|api_?key|access_?token|session|csrf)$`,
		`^.*_token$`,
		`^.*_key$`,
	)},
	{types.RolePagination, compileAll(
		`^(page|offset|limit|per_?page|start|size)$`,
	)},
	{types.RoleSearch, compileAll(
		`^(q|query|search|keyword|term)$`,
	)},
	{types.RoleFilter, compileAll(
		`^(filter|status|category|type|sort)$`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

var (
	valueUUIDPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	valueEmailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	valueURLPattern   = regexp.MustCompile(`^https?://`)
	valueIntPattern   = regexp.MustCompile(`^\d+$`)
)

var boolLiterals = map[string]bool{
	"true": true, "false": true, "1": true, "0": true, "yes": true, "no": true,
}

// InferDataType inspects up to five sample values. URL detection is
// deliberately any-match: a parameter that ever carries a URL is
// interesting regardless of its other values.
func InferDataType(values []string) types.DataType {
	if len(values) == 0 {
		return types.DataTypeUnknown
	}
	samples := values
	if len(samples) > 5 {
		samples = samples[:5]
	}

	if allMatch(samples, valueUUIDPattern) {
		return types.DataTypeUUID
	}
	if allMatch(samples, valueIntPattern) {
		return types.DataTypeInt
	}
	allBool := true
	for _, v := range samples {
		if !boolLiterals[strings.ToLower(v)] {
			allBool = false
			break
		}
	}
	if allBool {
		return types.DataTypeBool
	}
	if allMatch(samples, valueEmailPattern) {
		return types.DataTypeEmail
	}
	for _, v := range samples {
		if valueURLPattern.MatchString(v) {
			return types.DataTypeURL
		}
	}
	return types.DataTypeString
}

func allMatch(values []string, re *regexp.Regexp) bool {
	for _, v := range values {
		if !re.MatchString(v) {
			return false
		}
	}
	return true
}

// InferRole assigns a semantic role and confidence to a parameter
// name, falling back to data-type heuristics when no name pattern
// matches.
func InferRole(name string, dataType types.DataType) (types.SemanticRole, int) {
	lower := strings.ToLower(name)

	for _, rule := range roleRules {
		for i, pattern := range rule.patterns {
			if pattern.MatchString(lower) {
				confidence := 70
				if i == 0 {
					confidence = 90
				}
				return rule.role, confidence
			}
		}
	}

	if dataType == types.DataTypeUUID && strings.Contains(lower, "id") {
		return types.RoleIdentifier, 80
	}
	if dataType == types.DataTypeInt &&
		(strings.Contains(lower, "id") || strings.Contains(lower, "num") || strings.Contains(lower, "count")) {
		return types.RoleIdentifier, 70
	}
	if dataType == types.DataTypeURL {
		return types.RoleRedirect, 85
	}
	return types.RoleUnknown, 0
}

// UniqueSamples keeps the first occurrence of each value, capped at
// ten, preserving input order.
func UniqueSamples(values []string) []string {
	seen := map[string]bool{}
	samples := []string{}
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		samples = append(samples, v)
		if len(samples) == 10 {
			break
		}
	}
	return samples
}
