package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/alerts"
	"github.com/autopatch-dev/autopatch/internal/events"
	"github.com/autopatch-dev/autopatch/internal/gate"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
	"github.com/autopatch-dev/autopatch/internal/registry"
	"github.com/autopatch-dev/autopatch/internal/scheduler"
	"github.com/autopatch-dev/autopatch/internal/store"
)

// recordingDispatcher records dispatch order and can inject failures.
type recordingDispatcher struct {
	mu    sync.Mutex
	order []int64
	fail  func(jobID int64) error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job *models.Job) error {
	if d.fail != nil {
		if err := d.fail(job.ID); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, job.ID)
	return nil
}

// recordingNotifier captures alert messages.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

type harness struct {
	store      *store.Memory
	orch       *orchestrator.Orchestrator
	sched      *scheduler.Scheduler
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier
	server     *models.Server
}

func newHarness(t *testing.T, opts scheduler.Options) *harness {
	t.Helper()
	st := store.NewMemory()
	lastSeen := time.Now().UTC()
	server, err := st.CreateServer(context.Background(), &models.Server{
		Hostname:   "app-01",
		IP:         "10.0.0.4",
		AgentToken: "token-app-01",
		LastSeen:   &lastSeen,
	})
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	notifier := &recordingNotifier{}
	orch := orchestrator.New(st, gate.DefaultPolicy(), events.NopPublisher{}, alerts.NopNotifier{}, nil)
	reg := registry.New(st, 10*time.Minute)
	sched := scheduler.New(st, orch, reg, dispatcher, notifier, nil, opts)
	return &harness{store: st, orch: orch, sched: sched, dispatcher: dispatcher, notifier: notifier, server: server}
}

func defaultOptions() scheduler.Options {
	return scheduler.Options{Interval: 30 * time.Second, MaxAttempts: 5, RetryBackoff: 30 * time.Second}
}

func (h *harness) createScheduled(t *testing.T, scheduledAt *time.Time) *models.Job {
	t.Helper()
	job, err := h.orch.Create(context.Background(), orchestrator.CreateRequest{
		ServerID:    h.server.ID,
		JobType:     models.JobTypeScanNow,
		ScheduledAt: scheduledAt,
		Actor:       models.UserActor(1),
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusScheduled, job.Status)
	return job
}

func TestTickDispatchesDueJobsInOrder(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	now := time.Now().UTC()

	at := now.Add(-time.Minute)
	// Same scheduled instant: ties break by ascending id.
	first := h.createScheduled(t, &at)
	second := h.createScheduled(t, &at)
	// nil scheduled_at dispatches before any timed job.
	asap := h.createScheduled(t, nil)
	// Future job must not dispatch.
	future := now.Add(time.Hour)
	notYet := h.createScheduled(t, &future)

	require.NoError(t, h.sched.Tick(ctx, now))

	assert.Equal(t, []int64{asap.ID, first.ID, second.ID}, h.dispatcher.order)

	got, err := h.store.GetJob(ctx, notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, got.Status)
}

func TestOverdueJobsAreNotDropped(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	// Scheduled long ago, as if ticks were missed.
	at := time.Now().UTC().Add(-24 * time.Hour)
	job := h.createScheduled(t, &at)

	require.NoError(t, h.sched.Tick(ctx, time.Now().UTC()))

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDispatched, got.Status)
}

func TestTickSkipsAlreadyClaimedJobs(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()
	now := time.Now().UTC()

	job := h.createScheduled(t, nil)
	// Claimed out of band between listing and ticking.
	_, err := h.orch.Claim(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, h.sched.Tick(ctx, now))
	assert.Empty(t, h.dispatcher.order, "a job may be dispatched at most once")
}

func TestTransientDispatchRetriesThenFails(t *testing.T) {
	opts := scheduler.Options{Interval: 30 * time.Second, MaxAttempts: 3, RetryBackoff: 30 * time.Second}
	h := newHarness(t, opts)
	ctx := context.Background()
	now := time.Now().UTC()

	h.dispatcher.fail = func(int64) error {
		return fmt.Errorf("%w: agent endpoint unreachable", models.ErrTransientDispatch)
	}
	job := h.createScheduled(t, nil)

	// First tick claims and fails attempt 1.
	require.NoError(t, h.sched.Tick(ctx, now))
	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDispatched, got.Status, "job stays DISPATCHED while retrying")

	// Backoff not elapsed: no further attempt, still DISPATCHED.
	require.NoError(t, h.sched.Tick(ctx, now.Add(10*time.Second)))
	got, err = h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDispatched, got.Status)

	// Attempt 2 after base backoff, attempt 3 exhausts the budget.
	require.NoError(t, h.sched.Tick(ctx, now.Add(31*time.Second)))
	require.NoError(t, h.sched.Tick(ctx, now.Add(2*time.Minute)))

	got, err = h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)

	attempts, err := h.store.ListAttempts(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1, "exhaustion records the last error as a synthetic attempt")
	assert.Contains(t, attempts[0].Stderr, "agent endpoint unreachable")
}

func TestPermanentDispatchErrorFailsImmediately(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	h.dispatcher.fail = func(int64) error {
		return fmt.Errorf("job payload rejected")
	}
	job := h.createScheduled(t, nil)

	require.NoError(t, h.sched.Tick(ctx, time.Now().UTC()))

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
}

func TestOfflineSweepIsEdgeTriggered(t *testing.T) {
	h := newHarness(t, defaultOptions())
	ctx := context.Background()

	// Server went quiet beyond the staleness threshold.
	stale := time.Now().UTC().Add(-time.Hour)
	server, err := h.store.GetServer(ctx, h.server.ID)
	require.NoError(t, err)
	server.LastSeen = &stale
	require.NoError(t, h.store.UpdateServer(ctx, server))

	require.NoError(t, h.sched.Tick(ctx, time.Now().UTC()))
	require.NoError(t, h.sched.Tick(ctx, time.Now().UTC()))
	assert.Len(t, h.notifier.messages, 1, "offline alert fires once until the server recovers")
	assert.Contains(t, h.notifier.messages[0], "app-01")

	// Server comes back, then goes quiet again: a fresh alert fires.
	back := time.Now().UTC()
	server.LastSeen = &back
	require.NoError(t, h.store.UpdateServer(ctx, server))
	require.NoError(t, h.sched.Tick(ctx, time.Now().UTC()))

	server.LastSeen = &stale
	require.NoError(t, h.store.UpdateServer(ctx, server))
	require.NoError(t, h.sched.Tick(ctx, time.Now().UTC()))
	assert.Len(t, h.notifier.messages, 2)
}
