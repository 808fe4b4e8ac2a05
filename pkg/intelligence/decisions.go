package intelligence

import (
	"fmt"
	"strings"

	"github.com/huntplane/huntplane/pkg/types"
)

// CandidateProposal is a rule verdict before persistence. The pipeline
// enforces the one-per-(cluster, attack type) guarantee when saving.
type CandidateProposal struct {
	AttackType         types.AttackType
	RiskLevel          types.RiskLevel
	Reasoning          string
	AffectedParameters []string
	Confidence         int
}

var ssrfNameHints = []string{"url", "uri", "link", "fetch", "proxy"}

// GenerateCandidates runs every attack rule against one cluster and
// its inferred parameters. Rules are independent; a cluster can yield
// several proposals. hasAuth is the tri-state auth verdict
// (nil = undetermined).
func GenerateCandidates(cluster *types.Cluster, params []*types.Parameter) []CandidateProposal {
	proposals := []CandidateProposal{}
	hasAuth := cluster.HasAuth != nil && *cluster.HasAuth

	// XSS: string parameters that are neither auth material nor paging
	// controls may be reflected.
	var xssParams []string
	for _, p := range params {
		if p.DataType == types.DataTypeString &&
			p.SemanticRole != types.RoleAuth && p.SemanticRole != types.RolePagination {
			xssParams = append(xssParams, p.Name)
		}
	}
	if len(xssParams) > 0 {
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackXSS,
			RiskLevel:          types.RiskMedium,
			Reasoning:          fmt.Sprintf("String parameters may be reflected in responses: %s", strings.Join(xssParams, ", ")),
			AffectedParameters: xssParams,
			Confidence:         60,
		})
	}

	var identifierParams []string
	for _, p := range params {
		if p.SemanticRole == types.RoleIdentifier {
			identifierParams = append(identifierParams, p.Name)
		}
	}

	// SQLi: identifier parameters commonly feed database lookups.
	if len(identifierParams) > 0 {
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackSQLi,
			RiskLevel:          types.RiskHigh,
			Reasoning:          fmt.Sprintf("Identifier parameters may reach database queries: %s", strings.Join(identifierParams, ", ")),
			AffectedParameters: identifierParams,
			Confidence:         70,
		})
	}

	// IDOR: identifier parameters on an authenticated endpoint are the
	// classic object-reference shape.
	if len(identifierParams) > 0 {
		risk := types.RiskMedium
		confidence := 50
		reasoning := ""
		if hasAuth {
			risk = types.RiskHigh
			confidence = 75
			reasoning = "Endpoint requires authentication. "
		}
		reasoning += fmt.Sprintf("Object references may lack ownership checks: %s", strings.Join(identifierParams, ", "))
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackIDOR,
			RiskLevel:          risk,
			Reasoning:          reasoning,
			AffectedParameters: identifierParams,
			Confidence:         confidence,
		})
	}

	// Open redirect: redirect-role or URL-typed parameters.
	redirectSeen := map[string]bool{}
	var redirectParams []string
	for _, p := range params {
		if p.SemanticRole == types.RoleRedirect || p.DataType == types.DataTypeURL {
			if !redirectSeen[p.Name] {
				redirectSeen[p.Name] = true
				redirectParams = append(redirectParams, p.Name)
			}
		}
	}
	if len(redirectParams) > 0 {
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackOpenRedirect,
			RiskLevel:          types.RiskMedium,
			Reasoning:          fmt.Sprintf("Redirect destinations may not be validated: %s", strings.Join(redirectParams, ", ")),
			AffectedParameters: redirectParams,
			Confidence:         80,
		})
	}

	// SSRF: URL-typed parameters or fetch-like names.
	var ssrfParams []string
	for _, p := range params {
		if p.DataType == types.DataTypeURL {
			ssrfParams = append(ssrfParams, p.Name)
			continue
		}
		lower := strings.ToLower(p.Name)
		for _, hint := range ssrfNameHints {
			if strings.Contains(lower, hint) {
				ssrfParams = append(ssrfParams, p.Name)
				break
			}
		}
	}
	if len(ssrfParams) > 0 {
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackSSRF,
			RiskLevel:          types.RiskHigh,
			Reasoning:          fmt.Sprintf("Server may fetch attacker-controlled URLs: %s", strings.Join(ssrfParams, ", ")),
			AffectedParameters: ssrfParams,
			Confidence:         65,
		})
	}

	// LFI: file path parameters.
	var fileParams []string
	for _, p := range params {
		if p.SemanticRole == types.RoleFilePath {
			fileParams = append(fileParams, p.Name)
		}
	}
	if len(fileParams) > 0 {
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackLFI,
			RiskLevel:          types.RiskHigh,
			Reasoning:          fmt.Sprintf("File path parameters may allow traversal: %s", strings.Join(fileParams, ", ")),
			AffectedParameters: fileParams,
			Confidence:         70,
		})
	}

	// Auth bypass: only fires on a positive auth verdict, never on the
	// undetermined state.
	if hasAuth {
		var authParams []string
		for _, p := range params {
			if p.SemanticRole == types.RoleAuth {
				authParams = append(authParams, p.Name)
			}
		}
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackAuthBypass,
			RiskLevel:          types.RiskCritical,
			Reasoning:          "Authenticated endpoint; access control enforcement should be verified directly",
			AffectedParameters: authParams,
			Confidence:         55,
		})
	}

	// Business logic: multiple state-steering parameters interacting.
	var logicParams []string
	for _, p := range params {
		switch p.SemanticRole {
		case types.RoleIdentifier, types.RolePagination, types.RoleFilter:
			logicParams = append(logicParams, p.Name)
		}
	}
	if len(logicParams) >= 2 {
		proposals = append(proposals, CandidateProposal{
			AttackType:         types.AttackBusinessLogic,
			RiskLevel:          types.RiskMedium,
			Reasoning:          fmt.Sprintf("Multiple state-steering parameters may interact unsafely: %s", strings.Join(logicParams, ", ")),
			AffectedParameters: logicParams,
			Confidence:         40,
		})
	}

	return proposals
}
