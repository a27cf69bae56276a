// Package orchestrator owns the job lifecycle state machine. It is the sole
// writer of job status: every transition goes through it, under a per-job
// lock, and leaves an audit entry whether accepted or rejected.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/autopatch-dev/autopatch/internal/alerts"
	"github.com/autopatch-dev/autopatch/internal/events"
	"github.com/autopatch-dev/autopatch/internal/gate"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/store"
	"github.com/autopatch-dev/autopatch/internal/telemetry"
)

// Orchestrator drives jobs through their lifecycle. Per-job serialization is
// enforced with a keyed mutex; jobs for different servers never contend.
type Orchestrator struct {
	store     store.Store
	policy    *gate.Policy
	publisher events.Publisher
	notifier  alerts.Notifier
	metrics   *telemetry.Metrics
	locks     *keyedMutex
	now       func() time.Time
}

// New creates an orchestrator. publisher, notifier and metrics may be
// nil-equivalents (NopPublisher, NopNotifier, nil Metrics) in tests.
func New(st store.Store, policy *gate.Policy, publisher events.Publisher, notifier alerts.Notifier, metrics *telemetry.Metrics) *Orchestrator {
	return &Orchestrator{
		store:     st,
		policy:    policy,
		publisher: publisher,
		notifier:  notifier,
		metrics:   metrics,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// WithClock overrides the clock. Used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// CreateRequest is the input for a new job.
type CreateRequest struct {
	ServerID         int64
	JobType          models.JobType
	ScheduledAt      *time.Time
	RequiresApproval *bool
	Actor            models.Actor
}

// Create validates the request, resolves the approval requirement and
// persists the job in its initial status: PENDING_APPROVAL when approval is
// required, SCHEDULED otherwise.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*models.Job, error) {
	if !req.JobType.Valid() {
		return nil, fmt.Errorf("%w: unknown job type %q", models.ErrValidation, req.JobType)
	}
	if _, err := o.store.GetServer(ctx, req.ServerID); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	requiresApproval := o.policy.Resolve(req.JobType, req.RequiresApproval)
	status := models.JobStatusScheduled
	if requiresApproval {
		status = models.JobStatusPendingApproval
	}

	job := &models.Job{
		ServerID:         req.ServerID,
		JobType:          req.JobType,
		Status:           status,
		ScheduledAt:      req.ScheduledAt,
		RequiresApproval: requiresApproval,
		CreatedBy:        req.Actor.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created, err := o.store.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}

	o.audit(ctx, req.Actor, "job.created", created.ID,
		fmt.Sprintf("created %s job for server %d in %s", created.JobType, created.ServerID, created.Status))
	log.Info().Int64("job_id", created.ID).Int64("server_id", created.ServerID).
		Str("job_type", string(created.JobType)).Str("status", string(created.Status)).
		Msg("job created")
	return created, nil
}

// Approve moves a PENDING_APPROVAL job to SCHEDULED and records the decision.
// The reason is stored verbatim, an empty string is kept distinct from an
// omitted (nil) reason.
func (o *Orchestrator) Approve(ctx context.Context, jobID int64, actor models.Actor, reason *string) (*models.Job, error) {
	return o.transition(ctx, jobID, models.JobStatusScheduled, actor, func(job *models.Job) {
		now := o.now().UTC()
		job.ApprovedBy = actor.ID
		job.ApprovedAt = &now
		job.ApprovalReason = reason
	})
}

// Deny moves a PENDING_APPROVAL or SCHEDULED job to DENIED. The reason is
// stored verbatim like in Approve.
func (o *Orchestrator) Deny(ctx context.Context, jobID int64, actor models.Actor, reason *string) (*models.Job, error) {
	return o.transition(ctx, jobID, models.JobStatusDenied, actor, func(job *models.Job) {
		now := o.now().UTC()
		job.ApprovedBy = actor.ID
		job.ApprovedAt = &now
		job.ApprovalReason = reason
	})
}

// Claim attempts the SCHEDULED -> DISPATCHED transition for a due job. This
// is the scheduler's sole at-most-once gate: under the per-job lock only one
// caller can observe SCHEDULED and win.
func (o *Orchestrator) Claim(ctx context.Context, jobID int64) (*models.Job, error) {
	return o.transition(ctx, jobID, models.JobStatusDispatched, models.SystemActor(), nil)
}

// Acknowledge hands the oldest DISPATCHED job for a server to its agent and
// marks it RUNNING. Returns ErrNotFound when no work is waiting.
func (o *Orchestrator) Acknowledge(ctx context.Context, serverID int64) (*models.Job, error) {
	job, err := o.store.OldestDispatchedJob(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return o.transition(ctx, job.ID, models.JobStatusRunning, models.AgentActor(serverID), nil)
}

// Finalize moves a RUNNING job to SUCCEEDED or FAILED.
func (o *Orchestrator) Finalize(ctx context.Context, jobID int64, outcome models.JobStatus, actor models.Actor) (*models.Job, error) {
	if outcome != models.JobStatusSucceeded && outcome != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: %s is not a terminal execution outcome", models.ErrValidation, outcome)
	}
	return o.transition(ctx, jobID, outcome, actor, nil)
}

// FailDispatch marks a DISPATCHED job FAILED after retry exhaustion and
// records the last dispatch error as a synthetic attempt so the failure is
// visible in the job's log.
func (o *Orchestrator) FailDispatch(ctx context.Context, jobID int64, lastErr error) (*models.Job, error) {
	job, err := o.transition(ctx, jobID, models.JobStatusFailed, models.SystemActor(), nil)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	attempt := &models.Attempt{
		JobID:      jobID,
		Status:     models.AttemptStatusFailed,
		ExitCode:   -1,
		Stderr:     fmt.Sprintf("dispatch failed: %v", lastErr),
		StartedAt:  now,
		FinishedAt: now,
	}
	if _, err := o.store.AppendAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("failed to record dispatch failure attempt")
	}
	return job, nil
}

// transition applies the state machine under the job's lock. mutate runs on
// the job after the transition is validated but before persistence.
func (o *Orchestrator) transition(ctx context.Context, jobID int64, to models.JobStatus, actor models.Actor, mutate func(*models.Job)) (*models.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	from := job.Status
	if !models.CanTransition(from, to) {
		o.audit(ctx, actor, "job.transition.rejected", jobID,
			fmt.Sprintf("rejected %s -> %s", from, to))
		return nil, fmt.Errorf("%w: job %d cannot move from %s to %s", models.ErrInvalidState, jobID, from, to)
	}

	job.Status = to
	if mutate != nil {
		mutate(job)
	}
	job.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	o.audit(ctx, actor, "job.transition", jobID, fmt.Sprintf("%s -> %s", from, to))
	o.publisher.PublishTransition(ctx, events.JobTransition{
		JobID:    job.ID,
		ServerID: job.ServerID,
		JobType:  job.JobType,
		From:     from,
		To:       to,
		Actor:    string(actor.Type),
		At:       job.UpdatedAt,
	})
	if o.metrics != nil {
		o.metrics.JobTransitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		))
	}
	if to == models.JobStatusFailed {
		o.notifier.Notify(ctx, fmt.Sprintf("job %d (%s) on server %d failed", job.ID, job.JobType, job.ServerID))
	}
	log.Info().Int64("job_id", job.ID).Str("from", string(from)).Str("to", string(to)).
		Str("actor", string(actor.Type)).Msg("job transitioned")
	return job, nil
}

func (o *Orchestrator) audit(ctx context.Context, actor models.Actor, action string, jobID int64, message string) {
	entry := &models.AuditEntry{
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Action:     action,
		TargetType: "job",
		TargetID:   &jobID,
		Message:    message,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.store.AppendAudit(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", action).Int64("job_id", jobID).
			Msg("failed to append audit entry")
	}
}
