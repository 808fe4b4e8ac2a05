package intelligence

import (
	"strings"

	"github.com/huntplane/huntplane/pkg/types"
)

var authStatusCodes = map[int]bool{
	401: true, 403: true, 302: true, 303: true, 307: true,
}

var authHeaderNames = map[string]bool{
	"www-authenticate": true,
	"authorization":    true,
	"x-auth-token":     true,
	"x-api-key":        true,
}

// AuthAssessment is the detector's verdict for one cluster.
// Authenticated is nil when no observations were available; absence of
// evidence is not evidence of an open endpoint.
type AuthAssessment struct {
	Authenticated *bool
	AuthType      types.AuthType
	Confidence    int
}

// DetectAuthSurface inspects probe observations for authentication
// signals: challenge status codes and auth-related header names.
func DetectAuthSurface(observations []types.Observation) AuthAssessment {
	if len(observations) == 0 {
		return AuthAssessment{Authenticated: nil, AuthType: types.AuthUnknown, Confidence: 0}
	}

	var (
		saw401        bool
		sawChallenge  bool
		sawRedirect   bool
		sawAuthHeader bool
		sawAPIHeader  bool
		allOK         = true
	)

	for _, obs := range observations {
		switch obs.StatusCode {
		case 401:
			saw401 = true
			sawChallenge = true
		case 403:
			sawChallenge = true
		case 302, 303, 307:
			sawRedirect = true
		}
		if obs.StatusCode != 200 {
			allOK = false
		}
		for _, header := range obs.HeaderNames {
			lower := strings.ToLower(header)
			if authHeaderNames[lower] {
				sawAuthHeader = true
			}
			if strings.Contains(lower, "api") {
				sawAPIHeader = true
			}
		}
	}

	authenticated := sawChallenge || sawRedirect || sawAuthHeader
	assessment := AuthAssessment{Authenticated: &authenticated}

	switch {
	case sawChallenge:
		assessment.Confidence = 90
	case sawRedirect:
		assessment.Confidence = 60
	case allOK:
		assessment.Confidence = 30
	default:
		assessment.Confidence = 50
	}

	switch {
	case saw401:
		assessment.AuthType = types.AuthBasicOrBearer
	case sawRedirect:
		assessment.AuthType = types.AuthSessionBased
	case sawAPIHeader:
		assessment.AuthType = types.AuthAPIKey
	default:
		assessment.AuthType = types.AuthUnknown
	}

	return assessment
}
