// Package results ingests execution reports from agents and assembles the
// combined log of a job's attempts.
package results

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
	"github.com/autopatch-dev/autopatch/internal/store"
)

// Report is one execution result as submitted by an agent. Status may be
// empty, in which case the outcome is derived from the exit code.
type Report struct {
	Status     models.AttemptStatus
	ExitCode   int
	Stdout     string
	Stderr     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Aggregator records attempts and finalizes jobs on terminal outcomes.
type Aggregator struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	now          func() time.Time
}

// New creates an aggregator.
func New(st store.Store, orch *orchestrator.Orchestrator) *Aggregator {
	return &Aggregator{store: st, orchestrator: orch, now: time.Now}
}

// resolve maps a reported status and exit code to the attempt outcome.
// Explicit COMPLETED/FAILED/RETRYING pass through; anything else falls back
// to the exit code.
func resolve(status models.AttemptStatus, exitCode int) models.AttemptStatus {
	switch status {
	case models.AttemptStatusCompleted, models.AttemptStatusFailed, models.AttemptStatusRetrying:
		return status
	}
	if exitCode == 0 {
		return models.AttemptStatusCompleted
	}
	return models.AttemptStatusFailed
}

// Ingest appends an attempt for a RUNNING job owned by serverID. A terminal
// attempt finalizes the job (COMPLETED -> SUCCEEDED, FAILED -> FAILED);
// RETRYING leaves the job RUNNING for the agent's next try.
func (a *Aggregator) Ingest(ctx context.Context, serverID, jobID int64, report Report) (*models.Attempt, error) {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ServerID != serverID {
		return nil, fmt.Errorf("%w: job %d does not belong to server %d", models.ErrValidation, jobID, serverID)
	}
	if job.Status != models.JobStatusRunning {
		return nil, fmt.Errorf("%w: job %d is %s, results are only accepted while RUNNING", models.ErrInvalidState, jobID, job.Status)
	}

	now := a.now().UTC()
	attempt := &models.Attempt{
		JobID:      jobID,
		Status:     resolve(report.Status, report.ExitCode),
		ExitCode:   report.ExitCode,
		Stdout:     report.Stdout,
		Stderr:     report.Stderr,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}
	if attempt.StartedAt.IsZero() {
		attempt.StartedAt = now
	}
	if attempt.FinishedAt.IsZero() {
		attempt.FinishedAt = now
	}

	stored, err := a.store.AppendAttempt(ctx, attempt)
	if err != nil {
		return nil, err
	}

	if stored.Status.Terminal() {
		outcome := models.JobStatusFailed
		if stored.Status == models.AttemptStatusCompleted {
			outcome = models.JobStatusSucceeded
		}
		if _, err := a.orchestrator.Finalize(ctx, jobID, outcome, models.AgentActor(serverID)); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// Attempts returns a job's attempts in recorded order.
func (a *Aggregator) Attempts(ctx context.Context, jobID int64) ([]*models.Attempt, error) {
	if _, err := a.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return a.store.ListAttempts(ctx, jobID)
}

// BuildLog renders the combined log of all attempts in order. Jobs with no
// attempts yet render a fixed placeholder.
func (a *Aggregator) BuildLog(ctx context.Context, jobID int64) (string, error) {
	attempts, err := a.Attempts(ctx, jobID)
	if err != nil {
		return "", err
	}
	if len(attempts) == 0 {
		return "no attempts recorded", nil
	}

	blocks := make([]string, 0, len(attempts))
	for i, attempt := range attempts {
		var b strings.Builder
		fmt.Fprintf(&b, "=== Attempt %d (%s) ===\n", i+1, attempt.Status)
		fmt.Fprintf(&b, "Exit: %d\n", attempt.ExitCode)
		b.WriteString("--- stdout ---\n")
		b.WriteString(attempt.Stdout)
		if attempt.Stdout != "" && !strings.HasSuffix(attempt.Stdout, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("--- stderr ---\n")
		b.WriteString(attempt.Stderr)
		if attempt.Stderr != "" && !strings.HasSuffix(attempt.Stderr, "\n") {
			b.WriteString("\n")
		}
		blocks = append(blocks, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(blocks, "\n\n"), nil
}
