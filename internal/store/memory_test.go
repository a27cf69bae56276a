package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/store"
)

func seedServer(t *testing.T, st *store.Memory, hostname, token string) *models.Server {
	t.Helper()
	server, err := st.CreateServer(context.Background(), &models.Server{
		Hostname:   hostname,
		IP:         "10.0.0.1",
		AgentToken: token,
	})
	require.NoError(t, err)
	return server
}

func TestListDueJobsOrdering(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	server := seedServer(t, st, "web-01", "tok-1")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	early := now.Add(-2 * time.Hour)
	late := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	mk := func(at *time.Time, status models.JobStatus) *models.Job {
		job, err := st.CreateJob(ctx, &models.Job{
			ServerID:    server.ID,
			JobType:     models.JobTypeScanNow,
			Status:      status,
			ScheduledAt: at,
		})
		require.NoError(t, err)
		return job
	}

	timedLate := mk(&late, models.JobStatusScheduled)
	asapA := mk(nil, models.JobStatusScheduled)
	timedEarly := mk(&early, models.JobStatusScheduled)
	asapB := mk(nil, models.JobStatusScheduled)
	mk(&future, models.JobStatusScheduled)
	mk(nil, models.JobStatusPendingApproval)
	mk(nil, models.JobStatusDispatched)

	due, err := st.ListDueJobs(ctx, now)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, job := range due {
		ids = append(ids, job.ID)
	}
	// nil scheduled_at first (by id), then ascending scheduled_at.
	assert.Equal(t, []int64{asapA.ID, asapB.ID, timedEarly.ID, timedLate.ID}, ids)
}

func TestListJobsNewestFirst(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	server := seedServer(t, st, "web-01", "tok-1")

	var last int64
	for i := 0; i < 3; i++ {
		job, err := st.CreateJob(ctx, &models.Job{ServerID: server.ID, JobType: models.JobTypeScanNow, Status: models.JobStatusScheduled})
		require.NoError(t, err)
		last = job.ID
	}

	jobs, err := st.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, last, jobs[0].ID)
}

func TestOldestDispatchedJob(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	web := seedServer(t, st, "web-01", "tok-1")
	db := seedServer(t, st, "db-01", "tok-2")

	_, err := st.OldestDispatchedJob(ctx, web.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	first, err := st.CreateJob(ctx, &models.Job{ServerID: web.ID, JobType: models.JobTypeScanNow, Status: models.JobStatusDispatched})
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, &models.Job{ServerID: web.ID, JobType: models.JobTypeScanNow, Status: models.JobStatusDispatched})
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, &models.Job{ServerID: db.ID, JobType: models.JobTypeScanNow, Status: models.JobStatusDispatched})
	require.NoError(t, err)

	got, err := st.OldestDispatchedJob(ctx, web.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestLatestInventoryWins(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	server := seedServer(t, st, "web-01", "tok-1")

	_, err := st.LatestInventory(ctx, server.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = st.AddInventory(ctx, &models.InventoryReport{ServerID: server.ID, UpdatesCount: 5})
	require.NoError(t, err)
	_, err = st.AddInventory(ctx, &models.InventoryReport{ServerID: server.ID, UpdatesCount: 0})
	require.NoError(t, err)

	latest, err := st.LatestInventory(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, latest.UpdatesCount)
}

func TestStoreReturnsCopies(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	server := seedServer(t, st, "web-01", "tok-1")

	got, err := st.GetServer(ctx, server.ID)
	require.NoError(t, err)
	got.Hostname = "mutated"

	again, err := st.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, "web-01", again.Hostname)
}

func TestAuditTrailNewestFirstWithLimit(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendAudit(ctx, &models.AuditEntry{
			ActorType: models.ActorSystem,
			Action:    "job.transition",
			Message:   "SCHEDULED -> DISPATCHED",
		}))
	}

	entries, err := st.ListAudit(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Greater(t, entries[0].ID, entries[1].ID)
}
