package types

import (
	"fmt"
	"time"
)

// JobStatus is the closed state set for test jobs. Transitions go
// through Transition; direct assignment of an illegal move is a bug.
type JobStatus string

const (
	JobCreated  JobStatus = "CREATED"
	JobRunning  JobStatus = "RUNNING"
	JobVerified JobStatus = "VERIFIED"
	JobFailed   JobStatus = "FAILED"
	JobStopped  JobStatus = "STOPPED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobCreated: {JobRunning, JobStopped, JobFailed},
	JobRunning: {JobVerified, JobFailed, JobStopped},
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobVerified || s == JobFailed || s == JobStopped
}

// CanTransition reports whether s -> next is a legal move.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TestJob executes one approved attack candidate. Counters only move
// while RUNNING; the confidence score and metadata are written exactly
// once, at the transition out of RUNNING.
type TestJob struct {
	ID                string     `json:"id" db:"id"`
	CandidateID       string     `json:"candidate_id" db:"candidate_id"`
	TargetID          string     `json:"target_id" db:"target_id"`
	Status            JobStatus  `json:"status" db:"status"`
	PayloadsTested    int        `json:"payloads_tested" db:"payloads_tested"`
	SignalsDetected   int        `json:"signals_detected" db:"signals_detected"`
	Confidence        int        `json:"confidence" db:"confidence"`
	ExecutionMetadata string     `json:"execution_metadata,omitempty" db:"execution_metadata"`
	ErrorMessage      string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Transition moves the job to next, rejecting illegal moves and
// stamping started/finished times.
func (j *TestJob) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.Status, next)
	}
	now := time.Now().UTC()
	if next == JobRunning {
		j.StartedAt = &now
	}
	if next.Terminal() {
		j.FinishedAt = &now
	}
	j.Status = next
	return nil
}

// IntelligenceStatus is the state set for intelligence pass jobs.
type IntelligenceStatus string

const (
	IntelQueued  IntelligenceStatus = "QUEUED"
	IntelRunning IntelligenceStatus = "RUNNING"
	IntelDone    IntelligenceStatus = "DONE"
	IntelFailed  IntelligenceStatus = "FAILED"
	IntelStopped IntelligenceStatus = "STOPPED"
)

var intelTransitions = map[IntelligenceStatus][]IntelligenceStatus{
	IntelQueued:  {IntelRunning, IntelStopped, IntelFailed},
	IntelRunning: {IntelDone, IntelFailed, IntelStopped},
}

func (s IntelligenceStatus) Terminal() bool {
	return s == IntelDone || s == IntelFailed || s == IntelStopped
}

func (s IntelligenceStatus) CanTransition(next IntelligenceStatus) bool {
	for _, allowed := range intelTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Intelligence pass stages, executed in this order when requested.
const (
	StageClustering = "clustering"
	StageParameters = "parameters"
	StageAuth       = "auth"
	StageDiffs      = "diffs"
	StageCandidates = "candidates"
)

// IntelligenceJob runs a subset of pipeline stages over one target.
type IntelligenceJob struct {
	ID           string             `json:"id" db:"id"`
	TargetID     string             `json:"target_id" db:"target_id"`
	Stages       []string           `json:"stages"`
	Status       IntelligenceStatus `json:"status" db:"status"`
	ResultsCount int                `json:"results_count" db:"results_count"`
	ErrorMessage string             `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time         `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt    time.Time          `json:"created_at" db:"created_at"`
}

func (j *IntelligenceJob) Transition(next IntelligenceStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal intelligence job transition %s -> %s", j.Status, next)
	}
	now := time.Now().UTC()
	if next == IntelRunning {
		j.StartedAt = &now
	}
	if next.Terminal() {
		j.FinishedAt = &now
	}
	j.Status = next
	return nil
}
