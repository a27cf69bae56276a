package results_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/alerts"
	"github.com/autopatch-dev/autopatch/internal/events"
	"github.com/autopatch-dev/autopatch/internal/gate"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
	"github.com/autopatch-dev/autopatch/internal/results"
	"github.com/autopatch-dev/autopatch/internal/store"
)

type fixture struct {
	store      *store.Memory
	orch       *orchestrator.Orchestrator
	aggregator *results.Aggregator
	server     *models.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	server, err := st.CreateServer(context.Background(), &models.Server{
		Hostname:   "db-01",
		IP:         "10.0.0.2",
		AgentToken: "token-db-01",
	})
	require.NoError(t, err)
	orch := orchestrator.New(st, gate.DefaultPolicy(), events.NopPublisher{}, alerts.NopNotifier{}, nil)
	return &fixture{
		store:      st,
		orch:       orch,
		aggregator: results.New(st, orch),
		server:     server,
	}
}

// runningJob creates a job and walks it to RUNNING.
func (f *fixture) runningJob(t *testing.T) *models.Job {
	t.Helper()
	ctx := context.Background()
	job, err := f.orch.Create(ctx, orchestrator.CreateRequest{
		ServerID: f.server.ID,
		JobType:  models.JobTypeScanNow,
		Actor:    models.UserActor(1),
	})
	require.NoError(t, err)
	_, err = f.orch.Claim(ctx, job.ID)
	require.NoError(t, err)
	running, err := f.orch.Acknowledge(ctx, f.server.ID)
	require.NoError(t, err)
	return running
}

func TestIngestOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		report      results.Report
		wantAttempt models.AttemptStatus
		wantJob     models.JobStatus
	}{
		{"exit zero succeeds", results.Report{ExitCode: 0, Stdout: "42 packages upgraded"}, models.AttemptStatusCompleted, models.JobStatusSucceeded},
		{"nonzero exit fails", results.Report{ExitCode: 100, Stderr: "dpkg lock held"}, models.AttemptStatusFailed, models.JobStatusFailed},
		{"explicit status wins over exit code", results.Report{Status: models.AttemptStatusFailed, ExitCode: 0}, models.AttemptStatusFailed, models.JobStatusFailed},
		{"retrying does not finalize", results.Report{Status: models.AttemptStatusRetrying, ExitCode: 1}, models.AttemptStatusRetrying, models.JobStatusRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			job := f.runningJob(t)

			attempt, err := f.aggregator.Ingest(ctx, f.server.ID, job.ID, tt.report)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAttempt, attempt.Status)

			got, err := f.store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantJob, got.Status)
		})
	}
}

func TestIngestRejectsWrongServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.runningJob(t)

	other, err := f.store.CreateServer(ctx, &models.Server{
		Hostname:   "db-02",
		IP:         "10.0.0.3",
		AgentToken: "token-db-02",
	})
	require.NoError(t, err)

	_, err = f.aggregator.Ingest(ctx, other.ID, job.ID, results.Report{ExitCode: 0})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestIngestRequiresRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.orch.Create(ctx, orchestrator.CreateRequest{
		ServerID: f.server.ID,
		JobType:  models.JobTypeScanNow,
		Actor:    models.UserActor(1),
	})
	require.NoError(t, err)

	_, err = f.aggregator.Ingest(ctx, f.server.ID, job.ID, results.Report{ExitCode: 0})
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestBuildLogOrderAndFormat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.runningJob(t)

	_, err := f.aggregator.Ingest(ctx, f.server.ID, job.ID, results.Report{
		Status:   models.AttemptStatusRetrying,
		ExitCode: 1,
		Stdout:   "fetching package lists",
		Stderr:   "mirror timed out",
	})
	require.NoError(t, err)
	_, err = f.aggregator.Ingest(ctx, f.server.ID, job.ID, results.Report{
		ExitCode: 0,
		Stdout:   "all packages upgraded",
	})
	require.NoError(t, err)

	combined, err := f.aggregator.BuildLog(ctx, job.ID)
	require.NoError(t, err)

	want := "=== Attempt 1 (RETRYING) ===\n" +
		"Exit: 1\n" +
		"--- stdout ---\n" +
		"fetching package lists\n" +
		"--- stderr ---\n" +
		"mirror timed out\n" +
		"\n" +
		"=== Attempt 2 (COMPLETED) ===\n" +
		"Exit: 0\n" +
		"--- stdout ---\n" +
		"all packages upgraded\n" +
		"--- stderr ---"
	assert.Equal(t, want, combined)
}

func TestBuildLogSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.runningJob(t)

	combined, err := f.aggregator.BuildLog(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "no attempts recorded", combined)

	_, err = f.aggregator.BuildLog(ctx, 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBuildLogManyAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.runningJob(t)

	for i := 1; i <= 3; i++ {
		report := results.Report{Status: models.AttemptStatusRetrying, ExitCode: 1, Stderr: fmt.Sprintf("try %d", i)}
		if i == 3 {
			report = results.Report{ExitCode: 0, Stdout: "done"}
		}
		_, err := f.aggregator.Ingest(ctx, f.server.ID, job.ID, report)
		require.NoError(t, err)
	}

	combined, err := f.aggregator.BuildLog(ctx, job.ID)
	require.NoError(t, err)
	assert.Contains(t, combined, "=== Attempt 1 (RETRYING) ===")
	assert.Contains(t, combined, "=== Attempt 2 (RETRYING) ===")
	assert.Contains(t, combined, "=== Attempt 3 (COMPLETED) ===")
	assert.Less(t, strings.Index(combined, "Attempt 1"), strings.Index(combined, "Attempt 2"))
	assert.Less(t, strings.Index(combined, "Attempt 2"), strings.Index(combined, "Attempt 3"))
}
