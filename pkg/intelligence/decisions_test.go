package intelligence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntplane/huntplane/pkg/types"
)

func param(name string, dataType types.DataType, role types.SemanticRole) *types.Parameter {
	return &types.Parameter{Name: name, DataType: dataType, SemanticRole: role}
}

func clusterWithAuth(hasAuth *bool) *types.Cluster {
	return &types.Cluster{ID: "c1", TargetID: "t1", NormalizedPath: "/api/users/{id}", HasAuth: hasAuth}
}

func findProposal(t *testing.T, proposals []CandidateProposal, attackType types.AttackType) *CandidateProposal {
	t.Helper()
	for i := range proposals {
		if proposals[i].AttackType == attackType {
			return &proposals[i]
		}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }

func TestGenerateCandidates_XSS(t *testing.T) {
	proposals := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("q", types.DataTypeString, types.RoleSearch),
		param("token", types.DataTypeString, types.RoleAuth),
		param("page", types.DataTypeString, types.RolePagination),
	})
	p := findProposal(t, proposals, types.AttackXSS)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskMedium, p.RiskLevel)
	assert.Equal(t, 60, p.Confidence)
	assert.Equal(t, []string{"q"}, p.AffectedParameters)
	assert.Contains(t, p.Reasoning, "q")
}

func TestGenerateCandidates_SQLi(t *testing.T) {
	proposals := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("user_id", types.DataTypeInt, types.RoleIdentifier),
	})
	p := findProposal(t, proposals, types.AttackSQLi)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskHigh, p.RiskLevel)
	assert.Equal(t, 70, p.Confidence)
	assert.Equal(t, []string{"user_id"}, p.AffectedParameters)
}

func TestGenerateCandidates_IDOR_AuthRaisesRisk(t *testing.T) {
	params := []*types.Parameter{param("order_id", types.DataTypeInt, types.RoleIdentifier)}

	unauth := findProposal(t, GenerateCandidates(clusterWithAuth(nil), params), types.AttackIDOR)
	require.NotNil(t, unauth)
	assert.Equal(t, types.RiskMedium, unauth.RiskLevel)
	assert.Equal(t, 50, unauth.Confidence)
	assert.NotContains(t, unauth.Reasoning, "Endpoint requires authentication")

	authed := findProposal(t, GenerateCandidates(clusterWithAuth(boolPtr(true)), params), types.AttackIDOR)
	require.NotNil(t, authed)
	assert.Equal(t, types.RiskHigh, authed.RiskLevel)
	assert.Equal(t, 75, authed.Confidence)
	assert.Contains(t, authed.Reasoning, "Endpoint requires authentication. ")
}

func TestGenerateCandidates_OpenRedirect_Dedup(t *testing.T) {
	proposals := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("next", types.DataTypeURL, types.RoleRedirect),
	})
	p := findProposal(t, proposals, types.AttackOpenRedirect)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskMedium, p.RiskLevel)
	assert.Equal(t, 80, p.Confidence)
	assert.Equal(t, []string{"next"}, p.AffectedParameters)
}

func TestGenerateCandidates_SSRF(t *testing.T) {
	proposals := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("fetch_target", types.DataTypeString, types.RoleUnknown),
		param("image", types.DataTypeURL, types.RoleUnknown),
	})
	p := findProposal(t, proposals, types.AttackSSRF)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskHigh, p.RiskLevel)
	assert.Equal(t, 65, p.Confidence)
	assert.ElementsMatch(t, []string{"fetch_target", "image"}, p.AffectedParameters)
}

func TestGenerateCandidates_LFI(t *testing.T) {
	proposals := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("template_path", types.DataTypeString, types.RoleFilePath),
	})
	p := findProposal(t, proposals, types.AttackLFI)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskHigh, p.RiskLevel)
	assert.Equal(t, 70, p.Confidence)
}

func TestGenerateCandidates_AuthBypass(t *testing.T) {
	// Fires only on a positive verdict, even with no auth parameters.
	proposals := GenerateCandidates(clusterWithAuth(boolPtr(true)), nil)
	p := findProposal(t, proposals, types.AttackAuthBypass)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskCritical, p.RiskLevel)
	assert.Equal(t, 55, p.Confidence)
	assert.Empty(t, p.AffectedParameters)

	assert.Nil(t, findProposal(t, GenerateCandidates(clusterWithAuth(nil), nil), types.AttackAuthBypass))
	assert.Nil(t, findProposal(t, GenerateCandidates(clusterWithAuth(boolPtr(false)), nil), types.AttackAuthBypass))
}

func TestGenerateCandidates_BusinessLogic_NeedsTwoParams(t *testing.T) {
	one := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("user_id", types.DataTypeInt, types.RoleIdentifier),
	})
	assert.Nil(t, findProposal(t, one, types.AttackBusinessLogic))

	two := GenerateCandidates(clusterWithAuth(nil), []*types.Parameter{
		param("user_id", types.DataTypeInt, types.RoleIdentifier),
		param("page", types.DataTypeInt, types.RolePagination),
	})
	p := findProposal(t, two, types.AttackBusinessLogic)
	require.NotNil(t, p)
	assert.Equal(t, types.RiskMedium, p.RiskLevel)
	assert.Equal(t, 40, p.Confidence)
}

func TestGenerateCandidates_NoParamsNoAuth(t *testing.T) {
	assert.Empty(t, GenerateCandidates(clusterWithAuth(nil), nil))
}
