package vulntest

import (
	"fmt"
	"math"
	"strings"

	"github.com/huntplane/huntplane/pkg/types"
)

// Confidence thresholds for categorization.
const (
	verifiedThreshold    = 70
	needsReviewThreshold = 40
)

// baseScores are the per-attack-type priors. The dynamic evidence from
// test results is added on top.
var baseScores = map[types.AttackType]int{
	types.AttackXSS:           30,
	types.AttackSQLi:          35,
	types.AttackIDOR:          25,
	types.AttackOpenRedirect:  30,
	types.AttackSSRF:          28,
	types.AttackLFI:           32,
	types.AttackAuthBypass:    20,
	types.AttackBusinessLogic: 15,
}

const defaultBaseScore = 25

var severityByAttack = map[types.AttackType]types.Severity{
	types.AttackSQLi:          types.SeverityCritical,
	types.AttackAuthBypass:    types.SeverityCritical,
	types.AttackSSRF:          types.SeverityHigh,
	types.AttackLFI:           types.SeverityHigh,
	types.AttackIDOR:          types.SeverityHigh,
	types.AttackXSS:           types.SeverityMedium,
	types.AttackOpenRedirect:  types.SeverityMedium,
	types.AttackBusinessLogic: types.SeverityMedium,
}

// Scorer turns accumulated test results into a bounded confidence
// score with a human-readable explanation.
type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

// Score computes the confidence for one job's result set. Zero results
// means zero confidence, not the base prior.
func (s *Scorer) Score(attackType types.AttackType, results []*types.TestResult) (int, string) {
	if len(results) == 0 {
		return 0, "No tests executed"
	}

	base, ok := baseScores[attackType]
	if !ok {
		base = defaultBaseScore
	}
	score := base
	var parts []string
	parts = append(parts, fmt.Sprintf("Base score %d for %s", base, attackType))

	signals := 0
	signalTypes := map[string]bool{}
	for _, r := range results {
		if !r.SignalDetected {
			continue
		}
		signals++
		score += r.ConfidenceDelta
		if r.SignalType != "" {
			signalTypes[r.SignalType] = true
		}
	}
	if signals > 0 {
		parts = append(parts, fmt.Sprintf("%d signals detected", signals))
	}

	if len(signalTypes) > 1 {
		bonus := 5 * len(signalTypes)
		score += bonus
		parts = append(parts, fmt.Sprintf("Multiple signal types (+%d)", bonus))
	}

	if signals >= 2 {
		bonus := 3 * signals
		if bonus > 15 {
			bonus = 15
		}
		score += bonus
		parts = append(parts, fmt.Sprintf("Repeated signals (+%d)", bonus))
	}

	if consistentTiming(results) {
		score += 5
		parts = append(parts, "Consistent response timing (+5)")
	}

	if score > 100 {
		score = 100
	}
	return score, strings.Join(parts, "; ")
}

// consistentTiming reports whether at least three response times
// cluster tightly (sample standard deviation under 10% of the mean).
func consistentTiming(results []*types.TestResult) bool {
	var times []float64
	for _, r := range results {
		times = append(times, float64(r.ResponseTimeMs))
	}
	if len(times) < 3 {
		return false
	}

	var sum float64
	for _, t := range times {
		sum += t
	}
	mean := sum / float64(len(times))
	if mean == 0 {
		return false
	}

	var variance float64
	for _, t := range times {
		variance += (t - mean) * (t - mean)
	}
	// Bessel's correction: a handful of samples understates the spread
	// otherwise, and the bonus fires on noise.
	stdev := math.Sqrt(variance / float64(len(times)-1))
	return stdev < 0.1*mean
}

// ApplyPenalty subtracts the penalty for the strongest false positive
// signal. Only the first matching class applies.
func (s *Scorer) ApplyPenalty(score int, fpSignals []string) int {
	if len(fpSignals) == 0 {
		return score
	}
	penalty := 0
	for _, class := range []struct {
		prefix string
		amount int
	}{
		{"echo", 30},
		{"identical_responses", 25},
		{"no_behavioral_change", 20},
	} {
		for _, sig := range fpSignals {
			if strings.HasPrefix(sig, class.prefix) {
				penalty = class.amount
				break
			}
		}
		if penalty > 0 {
			break
		}
	}

	score -= penalty
	if score < 0 {
		score = 0
	}
	return score
}

// Categorize maps a confidence score to its outcome bucket.
func (s *Scorer) Categorize(score int) types.Outcome {
	switch {
	case score >= verifiedThreshold:
		return types.OutcomeVerified
	case score >= needsReviewThreshold:
		return types.OutcomeNeedsReview
	default:
		return types.OutcomeDiscard
	}
}

// Severity derives a finding severity from the attack class, downgraded
// one step when the confidence is shaky.
func (s *Scorer) Severity(attackType types.AttackType, confidence int) types.Severity {
	severity, ok := severityByAttack[attackType]
	if !ok {
		severity = types.SeverityMedium
	}
	if confidence < 60 {
		severity = downgrade(severity)
	}
	return severity
}

func downgrade(severity types.Severity) types.Severity {
	switch severity {
	case types.SeverityCritical:
		return types.SeverityHigh
	case types.SeverityHigh:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
