// Package models holds the domain types for the patch orchestration core.
package models

import "time"

// JobType identifies the maintenance action a job performs. The set is
// closed: unknown types are rejected at creation, never defaulted.
type JobType string

const (
	JobTypeScanNow           JobType = "SCAN_NOW"
	JobTypeApplyPatches      JobType = "APPLY_PATCHES"
	JobTypeApplySecurityOnly JobType = "APPLY_SECURITY_ONLY"
	JobTypeReportOnly        JobType = "REPORT_ONLY"
	JobTypeReboot            JobType = "REBOOT"
)

// JobTypes lists every valid job type.
func JobTypes() []JobType {
	return []JobType{
		JobTypeScanNow,
		JobTypeApplyPatches,
		JobTypeApplySecurityOnly,
		JobTypeReportOnly,
		JobTypeReboot,
	}
}

// Valid reports whether t is a member of the closed job type set.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeScanNow, JobTypeApplyPatches, JobTypeApplySecurityOnly,
		JobTypeReportOnly, JobTypeReboot:
		return true
	}
	return false
}

// JobStatus represents the current position of a job in its lifecycle.
type JobStatus string

const (
	JobStatusPendingApproval JobStatus = "PENDING_APPROVAL"
	JobStatusScheduled       JobStatus = "SCHEDULED"
	JobStatusDenied          JobStatus = "DENIED"
	JobStatusDispatched      JobStatus = "DISPATCHED"
	JobStatusRunning         JobStatus = "RUNNING"
	JobStatusSucceeded       JobStatus = "SUCCEEDED"
	JobStatusFailed          JobStatus = "FAILED"
)

// Terminal reports whether no further transition is defined from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDenied || s == JobStatusSucceeded || s == JobStatusFailed
}

// jobTransitions is the closed transition table. DISPATCHED -> FAILED covers
// dispatch retry exhaustion, where the last error is recorded as an attempt.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPendingApproval: {JobStatusScheduled, JobStatusDenied},
	JobStatusScheduled:       {JobStatusDispatched, JobStatusDenied},
	JobStatusDispatched:      {JobStatusRunning, JobStatusFailed},
	JobStatusRunning:         {JobStatusSucceeded, JobStatusFailed},
}

// CanTransition reports whether from -> to is a legal job transition.
func CanTransition(from, to JobStatus) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job is a requested maintenance action against one server, tracked through
// an approval/scheduling/execution lifecycle. The orchestrator is the sole
// writer of Status.
type Job struct {
	ID               int64      `json:"id"`
	ServerID         int64      `json:"server_id"`
	JobType          JobType    `json:"job_type"`
	Status           JobStatus  `json:"status"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
	RequiresApproval bool       `json:"requires_approval"`
	ApprovedBy       *int64     `json:"approved_by"`
	ApprovedAt       *time.Time `json:"approved_at"`
	ApprovalReason   *string    `json:"approval_reason"`
	CreatedBy        *int64     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Due reports whether the job's scheduled time has been reached. A nil
// ScheduledAt means "as soon as eligible", including a scheduled time that
// was already in the past at creation.
func (j *Job) Due(now time.Time) bool {
	return j.ScheduledAt == nil || !j.ScheduledAt.After(now)
}

// AttemptStatus represents the outcome of a single execution attempt.
type AttemptStatus string

const (
	AttemptStatusCompleted AttemptStatus = "COMPLETED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
	// AttemptStatusRetrying marks a retryable failure: the attempt is
	// recorded but the job is not finalized.
	AttemptStatusRetrying AttemptStatus = "RETRYING"
)

// Terminal reports whether the attempt represents a terminal outcome.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusFailed
}

// Attempt is one execution try of a job, with captured exit status and
// output. Attempts are append-only and never mutated post-write.
type Attempt struct {
	ID         int64         `json:"id"`
	JobID      int64         `json:"job_id"`
	Status     AttemptStatus `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
