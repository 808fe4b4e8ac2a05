package vulntest

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/huntplane/huntplane/pkg/types"
)

// Verification is the verdict for one payload attempt.
type Verification struct {
	Signaled bool
	Evidence string
	Delta    int
}

var sqlErrorPatterns = compilePatterns(
	`SQL syntax.*MySQL`,
	`Warning.*mysql_`,
	`MySQLSyntaxErrorException`,
	`valid MySQL result`,
	`check the manual that corresponds to your MySQL`,
	`PostgreSQL.*ERROR`,
	`Warning.*pg_`,
	`SQLite.*error`,
	`Microsoft SQL Native Client error`,
	`ODBC SQL Server Driver`,
	`SQLServer JDBC Driver`,
	`Oracle error`,
	`ORA-\d{5}`,
	`DB2 SQL error`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// Verifier inspects response snapshots for vulnerability signals.
// Every verdict is heuristic; the scorer decides what the accumulated
// evidence is worth.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

// Verify dispatches to the attack-specific analysis. IDOR is handled
// separately via VerifyIDOR because it needs a baseline snapshot.
func (v *Verifier) Verify(attackType types.AttackType, payload *types.Payload, snapshot *types.Snapshot) Verification {
	switch attackType {
	case types.AttackXSS:
		return v.verifyXSS(payload, snapshot)
	case types.AttackSQLi:
		return v.verifySQLi(snapshot)
	case types.AttackOpenRedirect:
		return v.verifyOpenRedirect(payload, snapshot)
	case types.AttackSSRF:
		return v.verifySSRF(payload, snapshot)
	case types.AttackLFI:
		return v.verifyLFI(payload, snapshot)
	default:
		return v.verifyGeneric(payload, snapshot)
	}
}

func (v *Verifier) verifySQLi(snapshot *types.Snapshot) Verification {
	for _, pattern := range sqlErrorPatterns {
		if loc := pattern.FindString(snapshot.ResponseBody); loc != "" {
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("SQL error detected: %s", truncate(loc, 100)),
				Delta:    18,
			}
		}
	}

	if snapshot.ResponseStatus == 500 {
		lower := strings.ToLower(snapshot.ResponseBody)
		for _, keyword := range []string{"error", "exception", "warning"} {
			if strings.Contains(lower, keyword) {
				return Verification{
					Signaled: true,
					Evidence: "Server error with error keywords in response",
					Delta:    8,
				}
			}
		}
	}
	return Verification{Evidence: "No SQL error patterns detected"}
}

func (v *Verifier) verifyXSS(payload *types.Payload, snapshot *types.Snapshot) Verification {
	body := snapshot.ResponseBody
	if body == "" {
		return Verification{Evidence: "Empty response"}
	}

	if idx := strings.Index(body, payload.PayloadString); idx >= 0 {
		start := idx - 50
		if start < 0 {
			start = 0
		}
		end := idx + len(payload.PayloadString) + 50
		if end > len(body) {
			end = len(body)
		}
		context := body[start:end]

		if strings.Contains(payload.PayloadString, "<script>") && strings.Contains(context, "<script>") {
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Payload reflected in script context: %s", truncate(context, 100)),
				Delta:    20,
			}
		}
		if strings.Contains(payload.PayloadString, "onerror=") {
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Payload reflected with event handler: %s", truncate(context, 100)),
				Delta:    18,
			}
		}
		return Verification{
			Signaled: true,
			Evidence: fmt.Sprintf("Payload reflected: %s", truncate(context, 100)),
			Delta:    10,
		}
	}

	if payload.DetectionPattern != "" {
		if matched, _ := regexp.MatchString(`(?i)`+payload.DetectionPattern, body); matched {
			return Verification{
				Signaled: true,
				Evidence: "Detection pattern matched in response",
				Delta:    15,
			}
		}
	}
	return Verification{Evidence: "Payload not reflected"}
}

// VerifyIDOR compares a test snapshot against the baseline taken with
// the original identifier value.
func (v *Verifier) VerifyIDOR(baseline, test *types.Snapshot) Verification {
	if baseline.ResponseStatus != test.ResponseStatus {
		switch {
		case baseline.ResponseStatus == 403 && test.ResponseStatus == 200:
			return Verification{
				Signaled: true,
				Evidence: "Access granted: 403 -> 200",
				Delta:    25,
			}
		case baseline.ResponseStatus == 404 && test.ResponseStatus == 200:
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Resource found: %d -> %d", baseline.ResponseStatus, test.ResponseStatus),
				Delta:    20,
			}
		default:
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Status change: %d -> %d", baseline.ResponseStatus, test.ResponseStatus),
				Delta:    10,
			}
		}
	}

	if baseline.ResponseBody != "" && test.ResponseBody != "" {
		lenA := float64(len(baseline.ResponseBody))
		lenB := float64(len(test.ResponseBody))
		diffPct := math.Abs(lenA-lenB) / lenA * 100
		if diffPct > 30 {
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Response length differs by %.1f%%", diffPct),
				Delta:    15,
			}
		}
		if diffPct > 10 {
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Response length differs by %.1f%%", diffPct),
				Delta:    8,
			}
		}
	}
	return Verification{Evidence: "No significant behavioral difference"}
}

func (v *Verifier) verifyOpenRedirect(payload *types.Payload, snapshot *types.Snapshot) Verification {
	switch snapshot.ResponseStatus {
	case 301, 302, 303, 307, 308:
	default:
		return Verification{Evidence: "No redirect response"}
	}

	location := ""
	for _, name := range []string{"Location", "location", "LOCATION"} {
		if val, ok := snapshot.ResponseHeaders[name]; ok {
			location = val
			break
		}
	}
	if location == "" {
		return Verification{Evidence: "Redirect without Location header"}
	}

	cleaned := payload.PayloadString
	cleaned = strings.TrimPrefix(cleaned, "https://")
	cleaned = strings.TrimPrefix(cleaned, "http://")
	cleaned = strings.TrimPrefix(cleaned, "//")

	if strings.Contains(location, cleaned) {
		if strings.HasPrefix(location, "//") {
			return Verification{
				Signaled: true,
				Evidence: fmt.Sprintf("Protocol-relative redirect to payload domain: %s", location),
				Delta:    20,
			}
		}
		return Verification{
			Signaled: true,
			Evidence: fmt.Sprintf("Redirect to payload domain: %s", location),
			Delta:    22,
		}
	}
	return Verification{Evidence: "Redirect target does not include payload domain"}
}

func (v *Verifier) verifySSRF(payload *types.Payload, snapshot *types.Snapshot) Verification {
	lowerBody := strings.ToLower(snapshot.ResponseBody)
	if snapshot.ResponseStatus == 200 {
		for _, indicator := range []string{"localhost", "127.0.0.1", "metadata", "instance-id", "ami-id"} {
			if strings.Contains(lowerBody, indicator) {
				return Verification{
					Signaled: true,
					Evidence: fmt.Sprintf("Internal service indicator in response: %s", indicator),
					Delta:    22,
				}
			}
		}
	}

	if strings.Contains(payload.PayloadString, "169.254.169.254") &&
		snapshot.ResponseStatus == 200 && snapshot.ResponseBody != "" {
		return Verification{
			Signaled: true,
			Evidence: "Metadata endpoint payload returned content",
			Delta:    25,
		}
	}

	if (strings.Contains(payload.PayloadString, "localhost") || strings.Contains(payload.PayloadString, "127.0.0.1")) &&
		snapshot.ResponseTimeMs < 100 {
		return Verification{
			Signaled: true,
			Evidence: fmt.Sprintf("Fast response (%dms) suggests local connection", snapshot.ResponseTimeMs),
			Delta:    12,
		}
	}
	return Verification{Evidence: "No SSRF indicators"}
}

// lfiIndicators are ordered by evidentiary strength; the first match
// wins.
var lfiIndicators = []struct {
	pattern  *regexp.Regexp
	delta    int
	evidence string
}{
	{regexp.MustCompile(`(?i)root:.*:0:0:`), 25, "/etc/passwd content in response"},
	{regexp.MustCompile(`(?i)\[extensions\]`), 20, "php.ini content in response"},
	{regexp.MustCompile(`(?i)DAEMON\\CurrentVersion`), 18, "Windows registry content in response"},
	{regexp.MustCompile(`(?i)<\?php`), 15, "PHP source code in response"},
}

func (v *Verifier) verifyLFI(payload *types.Payload, snapshot *types.Snapshot) Verification {
	if payload.DetectionPattern != "" {
		if matched, _ := regexp.MatchString(`(?i)`+payload.DetectionPattern, snapshot.ResponseBody); matched {
			return Verification{
				Signaled: true,
				Evidence: "Detection pattern matched in response",
				Delta:    25,
			}
		}
	}
	for _, indicator := range lfiIndicators {
		if indicator.pattern.MatchString(snapshot.ResponseBody) {
			return Verification{
				Signaled: true,
				Evidence: indicator.evidence,
				Delta:    indicator.delta,
			}
		}
	}
	return Verification{Evidence: "No file content indicators"}
}

// verifyGeneric covers attack types without a dedicated analysis (auth
// bypass, business logic): the payload's own detection pattern is the
// only signal source.
func (v *Verifier) verifyGeneric(payload *types.Payload, snapshot *types.Snapshot) Verification {
	if payload.DetectionPattern != "" {
		if matched, _ := regexp.MatchString(`(?i)`+payload.DetectionPattern, snapshot.ResponseBody); matched {
			return Verification{
				Signaled: true,
				Evidence: "Detection pattern matched in response",
				Delta:    payload.ConfidenceWeight,
			}
		}
	}
	return Verification{Evidence: "No signals detected"}
}

// DetectFalsePositiveSignals inspects a job's full result set for
// patterns that suggest the endpoint reacts identically to everything.
func (v *Verifier) DetectFalsePositiveSignals(results []*types.TestResult) []string {
	var signals []string
	if len(results) <= 2 {
		return signals
	}

	allSignaled := true
	for _, r := range results {
		if !r.SignalDetected {
			allSignaled = false
			break
		}
	}
	if allSignaled {
		signals = append(signals, "echo: every payload produced a signal")
	}

	sameStatus := true
	for _, r := range results[1:] {
		if r.ResponseStatus != results[0].ResponseStatus {
			sameStatus = false
			break
		}
	}
	if sameStatus {
		signals = append(signals, "identical_responses: all payloads returned the same status")
	}

	sameLength := true
	for _, r := range results[1:] {
		if len(r.ResponseBody) != len(results[0].ResponseBody) {
			sameLength = false
			break
		}
	}
	if sameLength {
		signals = append(signals, "no_behavioral_change: all response bodies have equal length")
	}

	return signals
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
