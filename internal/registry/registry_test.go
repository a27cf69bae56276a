package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/registry"
	"github.com/autopatch-dev/autopatch/internal/store"
)

func TestDeriveStatusMatrix(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	stale := now.Add(-time.Hour)

	reg := registry.New(store.NewMemory(), 10*time.Minute).WithClock(func() time.Time { return now })

	tests := []struct {
		name     string
		lastSeen *time.Time
		latest   *models.InventoryReport
		want     models.ServerStatus
	}{
		{"never seen", nil, nil, models.ServerStatusOffline},
		{"stale heartbeat", &stale, &models.InventoryReport{SecurityUpdatesCount: 3}, models.ServerStatusOffline},
		{"reboot wins over security", &fresh, &models.InventoryReport{RebootRequired: true, SecurityUpdatesCount: 3, UpdatesCount: 5}, models.ServerStatusReboot},
		{"security wins over updates", &fresh, &models.InventoryReport{SecurityUpdatesCount: 1, UpdatesCount: 5}, models.ServerStatusSecurity},
		{"plain updates", &fresh, &models.InventoryReport{UpdatesCount: 5}, models.ServerStatusUpdates},
		{"clean", &fresh, &models.InventoryReport{}, models.ServerStatusUpToDate},
		{"online with no inventory yet", &fresh, nil, models.ServerStatusUpToDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &models.Server{LastSeen: tt.lastSeen}
			assert.Equal(t, tt.want, reg.DeriveStatus(server, tt.latest))
		})
	}
}

func TestRegisterCreatesAndRekeys(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New(st, 10*time.Minute)
	ctx := context.Background()

	created, err := reg.Register(ctx, registry.RegistrationInfo{
		Hostname: "web-01",
		IP:       "10.0.0.1",
		OSName:   "Ubuntu",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.AgentToken)
	assert.Equal(t, "Ubuntu", created.OSName)
	assert.Equal(t, "unknown", created.PackageManager)

	// Same host registers again: same server, fresh token.
	rekeyed, err := reg.Register(ctx, registry.RegistrationInfo{
		Hostname: "web-01",
		IP:       "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, rekeyed.ID)
	assert.NotEqual(t, created.AgentToken, rekeyed.AgentToken)

	servers, err := st.ListServers(ctx)
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}

func TestRegisterValidation(t *testing.T) {
	reg := registry.New(store.NewMemory(), 10*time.Minute)
	_, err := reg.Register(context.Background(), registry.RegistrationInfo{Hostname: "web-01"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHeartbeatStoresInventoryAndCounts(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New(st, 10*time.Minute)
	ctx := context.Background()

	server, err := reg.Register(ctx, registry.RegistrationInfo{Hostname: "web-01", IP: "10.0.0.1"})
	require.NoError(t, err)

	report := &models.InventoryReport{
		Hostname:       "web-01",
		IP:             "10.0.0.1",
		RebootRequired: true,
		Updates: []models.Update{
			{Name: "openssl", CurrentVersion: "3.0.2", CandidateVersion: "3.0.3", IsSecurity: true},
			{Name: "vim", CurrentVersion: "9.0", CandidateVersion: "9.1"},
		},
	}
	stored, err := reg.Heartbeat(ctx, server, report)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.UpdatesCount)
	assert.Equal(t, 1, stored.SecurityUpdatesCount)

	summary, err := reg.Get(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusReboot, summary.Status)
	assert.Equal(t, 2, summary.UpdatesCount)
	require.NotNil(t, summary.LastSeen)

	// A second clean report supersedes the first.
	_, err = reg.Heartbeat(ctx, server, &models.InventoryReport{Hostname: "web-01", IP: "10.0.0.1"})
	require.NoError(t, err)
	summary, err = reg.Get(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ServerStatusUpToDate, summary.Status)
}

// brokenInventoryStore fails inventory lookups with an infrastructure error
// rather than ErrNotFound.
type brokenInventoryStore struct {
	store.Store
	err error
}

func (s *brokenInventoryStore) LatestInventory(ctx context.Context, serverID int64) (*models.InventoryReport, error) {
	return nil, s.err
}

func TestInventoryLookupFailureIsNotUpToDate(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New(st, 10*time.Minute)
	ctx := context.Background()

	server, err := reg.Register(ctx, registry.RegistrationInfo{Hostname: "web-01", IP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = reg.Heartbeat(ctx, server, &models.InventoryReport{
		Hostname: "web-01",
		IP:       "10.0.0.1",
		Updates:  []models.Update{{Name: "openssl", IsSecurity: true}},
	})
	require.NoError(t, err)

	storeErr := errors.New("connection reset")
	broken := registry.New(&brokenInventoryStore{Store: st, err: storeErr}, 10*time.Minute)

	_, err = broken.Get(ctx, server.ID)
	assert.ErrorIs(t, err, storeErr)

	_, err = broken.List(ctx)
	assert.ErrorIs(t, err, storeErr)
}

func TestRotateToken(t *testing.T) {
	st := store.NewMemory()
	reg := registry.New(st, 10*time.Minute)
	ctx := context.Background()

	server, err := reg.Register(ctx, registry.RegistrationInfo{Hostname: "web-01", IP: "10.0.0.1"})
	require.NoError(t, err)
	oldToken := server.AgentToken

	rotated, err := reg.RotateToken(ctx, server.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, rotated.AgentToken)

	_, err = st.GetServerByToken(ctx, oldToken)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = reg.RotateToken(ctx, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
