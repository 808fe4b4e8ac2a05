package types

import (
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type AttackType string

const (
	AttackXSS           AttackType = "XSS"
	AttackSQLi          AttackType = "SQLi"
	AttackIDOR          AttackType = "IDOR"
	AttackOpenRedirect  AttackType = "Open Redirect"
	AttackSSRF          AttackType = "SSRF"
	AttackLFI           AttackType = "LFI"
	AttackAuthBypass    AttackType = "Auth Bypass"
	AttackBusinessLogic AttackType = "Business Logic"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type DataType string

const (
	DataTypeInt     DataType = "int"
	DataTypeUUID    DataType = "uuid"
	DataTypeBool    DataType = "bool"
	DataTypeEmail   DataType = "email"
	DataTypeURL     DataType = "url"
	DataTypeString  DataType = "string"
	DataTypeUnknown DataType = "unknown"
)

type SemanticRole string

const (
	RoleIdentifier SemanticRole = "identifier"
	RoleRedirect   SemanticRole = "redirect"
	RoleFilePath   SemanticRole = "file_path"
	RoleAuth       SemanticRole = "auth"
	RolePagination SemanticRole = "pagination"
	RoleSearch     SemanticRole = "search"
	RoleFilter     SemanticRole = "filter"
	RoleUnknown    SemanticRole = "unknown"
)

type AuthType string

const (
	AuthBasicOrBearer AuthType = "basic_or_bearer"
	AuthSessionBased  AuthType = "session_based"
	AuthAPIKey        AuthType = "api_key"
	AuthUnknown       AuthType = "unknown"
)

// Confidence categories produced by the scorer.
type Outcome string

const (
	OutcomeVerified    Outcome = "verified"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeDiscard     Outcome = "discard"
)

// Target is the scope anchor every job and safety check hangs off.
type Target struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Domain    string    `json:"domain" db:"domain"`
	Enabled   bool      `json:"enabled" db:"enabled"`
	Paused    bool      `json:"paused" db:"paused"`
	RateLimit int       `json:"rate_limit" db:"rate_limit"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Endpoint is a record from the upstream discovery feed. The pipeline
// reads these but never writes them.
type Endpoint struct {
	ID             string    `json:"id" db:"id"`
	TargetID       string    `json:"target_id" db:"target_id"`
	URL            string    `json:"url" db:"url"`
	Method         string    `json:"method" db:"method"`
	ParameterNames []string  `json:"parameter_names"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Observation holds status codes and header names collected during
// live-host probing. Input to the auth surface detector.
type Observation struct {
	ID          string    `json:"id" db:"id"`
	TargetID    string    `json:"target_id" db:"target_id"`
	Host        string    `json:"host" db:"host"`
	StatusCode  int       `json:"status_code" db:"status_code"`
	HeaderNames []string  `json:"header_names"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Cluster groups endpoints sharing a normalized path, method and
// parameter-name signature.
type Cluster struct {
	ID                 string    `json:"id" db:"id"`
	TargetID           string    `json:"target_id" db:"target_id"`
	NormalizedPath     string    `json:"normalized_path" db:"normalized_path"`
	HTTPMethod         string    `json:"http_method" db:"http_method"`
	ParameterSignature string    `json:"parameter_signature" db:"parameter_signature"`
	EndpointCount      int       `json:"endpoint_count" db:"endpoint_count"`
	HasAuth            *bool     `json:"has_auth" db:"has_auth"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

type Parameter struct {
	ID           string       `json:"id" db:"id"`
	ClusterID    string       `json:"cluster_id" db:"cluster_id"`
	Name         string       `json:"name" db:"name"`
	DataType     DataType     `json:"data_type" db:"data_type"`
	SemanticRole SemanticRole `json:"semantic_role" db:"semantic_role"`
	Confidence   int          `json:"confidence" db:"confidence"`
	SampleValues []string     `json:"sample_values"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}

type AuthSurface struct {
	ID              string    `json:"id" db:"id"`
	ClusterID       string    `json:"cluster_id" db:"cluster_id"`
	IsAuthenticated *bool     `json:"is_authenticated" db:"is_authenticated"`
	AuthType        AuthType  `json:"auth_type" db:"auth_type"`
	Confidence      int       `json:"confidence" db:"confidence"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// AttackCandidate is an unexecuted hypothesis that a cluster is
// vulnerable to one attack class. At most one exists per
// (cluster, attack_type). Confidence here is the static rule prior,
// not the dynamic score a test job produces.
type AttackCandidate struct {
	ID                 string     `json:"id" db:"id"`
	ClusterID          string     `json:"cluster_id" db:"cluster_id"`
	TargetID           string     `json:"target_id" db:"target_id"`
	AttackType         AttackType `json:"attack_type" db:"attack_type"`
	RiskLevel          RiskLevel  `json:"risk_level" db:"risk_level"`
	Reasoning          string     `json:"reasoning" db:"reasoning"`
	AffectedParameters []string   `json:"affected_parameters"`
	Confidence         int        `json:"confidence" db:"confidence"`
	AutoGenerated      bool       `json:"auto_generated" db:"auto_generated"`
	Reviewed           bool       `json:"reviewed" db:"reviewed"`
	ApprovedForTesting bool       `json:"approved_for_testing" db:"approved_for_testing"`
	Rejected           bool       `json:"rejected" db:"rejected"`
	UserNotes          string     `json:"user_notes,omitempty" db:"user_notes"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// ResponseDiff records a suspicious structural variation between two
// sibling endpoints of a cluster, ahead of active IDOR testing.
type ResponseDiff struct {
	ID         string    `json:"id" db:"id"`
	ClusterID  string    `json:"cluster_id" db:"cluster_id"`
	EndpointA  string    `json:"endpoint_a" db:"endpoint_a"`
	EndpointB  string    `json:"endpoint_b" db:"endpoint_b"`
	HashA      uint64    `json:"hash_a" db:"hash_a"`
	HashB      uint64    `json:"hash_b" db:"hash_b"`
	Suspicious bool      `json:"suspicious" db:"suspicious"`
	DiffType   string    `json:"diff_type" db:"diff_type"`
	Notes      string    `json:"notes" db:"notes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Payload is a non-destructive probe from the catalog. Seeding is
// idempotent on (attack_type, payload_string).
type Payload struct {
	ID               string     `json:"id" db:"id"`
	AttackType       AttackType `json:"attack_type" db:"attack_type"`
	PayloadString    string     `json:"payload_string" db:"payload_string"`
	PayloadType      string     `json:"payload_type" db:"payload_type"`
	DetectionPattern string     `json:"detection_pattern,omitempty" db:"detection_pattern"`
	ConfidenceWeight int        `json:"confidence_weight" db:"confidence_weight"`
	Seq              int        `json:"seq" db:"seq"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	IsSafe           bool       `json:"is_safe" db:"is_safe"`
	Description      string     `json:"description,omitempty" db:"description"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Snapshot is the full request/response record of a single payload
// attempt. Success=false means a network-level failure; callers must
// check it before reading the response fields.
type Snapshot struct {
	RequestURL      string            `json:"request_url"`
	RequestMethod   string            `json:"request_method"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseStatus  int               `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseTimeMs  int               `json:"response_time_ms"`
	Success         bool              `json:"success"`
	Error           string            `json:"error,omitempty"`
}

// TestResult is one payload attempt inside a test job. Immutable once
// written.
type TestResult struct {
	ID              string    `json:"id" db:"id"`
	TestJobID       string    `json:"test_job_id" db:"test_job_id"`
	PayloadID       string    `json:"payload_id" db:"payload_id"`
	RequestURL      string    `json:"request_url" db:"request_url"`
	RequestMethod   string    `json:"request_method" db:"request_method"`
	RequestHeaders  string    `json:"request_headers,omitempty" db:"request_headers"`
	RequestBody     string    `json:"request_body,omitempty" db:"request_body"`
	ResponseStatus  int       `json:"response_status" db:"response_status"`
	ResponseHeaders string    `json:"response_headers,omitempty" db:"response_headers"`
	ResponseBody    string    `json:"response_body,omitempty" db:"response_body"`
	ResponseTimeMs  int       `json:"response_time_ms" db:"response_time_ms"`
	SignalDetected  bool      `json:"signal_detected" db:"signal_detected"`
	SignalType      string    `json:"signal_type,omitempty" db:"signal_type"`
	SignalEvidence  string    `json:"signal_evidence,omitempty" db:"signal_evidence"`
	ConfidenceDelta int       `json:"confidence_delta" db:"confidence_delta"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// VerifiedFinding is the terminal output of a test job whose score
// reached the verified threshold. Human review fields are operator
// writable only.
type VerifiedFinding struct {
	ID                  string     `json:"id" db:"id"`
	TestJobID           string     `json:"test_job_id" db:"test_job_id"`
	TargetID            string     `json:"target_id" db:"target_id"`
	AttackType          AttackType `json:"attack_type" db:"attack_type"`
	Severity            Severity   `json:"severity" db:"severity"`
	Confidence          int        `json:"confidence" db:"confidence"`
	EndpointURL         string     `json:"endpoint_url" db:"endpoint_url"`
	VulnerableParameter string     `json:"vulnerable_parameter" db:"vulnerable_parameter"`
	PayloadUsed         string     `json:"payload_used" db:"payload_used"`
	ProofOfConcept      string     `json:"proof_of_concept" db:"proof_of_concept"`
	Evidence            string     `json:"evidence" db:"evidence"`
	Reasoning           string     `json:"reasoning" db:"reasoning"`
	ReproductionSteps   string     `json:"reproduction_steps" db:"reproduction_steps"`
	FalsePositiveProb   int        `json:"false_positive_probability" db:"false_positive_probability"`
	HumanReviewed       bool       `json:"human_reviewed" db:"human_reviewed"`
	HumanConfirmed      *bool      `json:"human_confirmed,omitempty" db:"human_confirmed"`
	ReviewerNotes       string     `json:"reviewer_notes,omitempty" db:"reviewer_notes"`
	ReviewedAt          *time.Time `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
}

// TestJobFeedback summarizes a job outcome for candidate-rule tuning.
// Write-only from this system's perspective.
type TestJobFeedback struct {
	ID                   string    `json:"id" db:"id"`
	TestJobID            string    `json:"test_job_id" db:"test_job_id"`
	CandidateID          string    `json:"candidate_id" db:"candidate_id"`
	Outcome              Outcome   `json:"outcome" db:"outcome"`
	Confidence           int       `json:"confidence" db:"confidence"`
	FalsePositive        bool      `json:"false_positive" db:"false_positive"`
	Reasoning            string    `json:"reasoning" db:"reasoning"`
	AdjustmentsSuggested string    `json:"adjustments_suggested" db:"adjustments_suggested"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// QueueJob is the envelope pushed onto the redis queue. The DB job row
// is the source of truth; this only carries dispatch information.
type QueueJob struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	Status    string                 `json:"status"`
	Priority  int                    `json:"priority"`
	Retries   int                    `json:"retries"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

const (
	QueueKindTest         = "test"
	QueueKindIntelligence = "intelligence"
)

type WorkerStatus struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	Status       string    `json:"status"`
	CurrentJob   string    `json:"current_job,omitempty"`
	JobsComplete int       `json:"jobs_complete"`
	LastPing     time.Time `json:"last_ping"`
}

// KillSwitch is the system-wide emergency stop state.
type KillSwitch struct {
	Active        bool       `json:"active" db:"active"`
	Reason        string     `json:"reason" db:"reason"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
}
