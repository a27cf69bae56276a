// Package registry tracks managed hosts and their inventory truth.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopatch-dev/autopatch/internal/auth"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/store"
)

// Summary is a server plus its derived status and latest inventory counts.
type Summary struct {
	models.Server
	Status               models.ServerStatus `json:"status"`
	RebootRequired       bool                `json:"reboot_required"`
	UpdatesCount         int                 `json:"updates_count"`
	SecurityUpdatesCount int                 `json:"security_updates_count"`
}

// RegistrationInfo is the host identity an agent presents at registration.
type RegistrationInfo struct {
	Hostname       string
	IP             string
	OSName         string
	OSVersion      string
	KernelVersion  string
	PackageManager string
}

// Registry owns the set of known servers. Status is derived on read, never
// stored, so it cannot drift from inventory truth.
type Registry struct {
	store     store.Store
	staleness time.Duration
	now       func() time.Time
}

// New creates a registry with the given staleness threshold.
func New(st store.Store, staleness time.Duration) *Registry {
	return &Registry{store: st, staleness: staleness, now: time.Now}
}

// WithClock overrides the clock. Used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// DeriveStatus evaluates the status policy over the current server fields
// and its latest inventory. Pure function, no retries.
func (r *Registry) DeriveStatus(server *models.Server, latest *models.InventoryReport) models.ServerStatus {
	if server.LastSeen == nil || r.now().Sub(*server.LastSeen) > r.staleness {
		return models.ServerStatusOffline
	}
	if latest == nil {
		return models.ServerStatusUpToDate
	}
	switch {
	case latest.RebootRequired:
		return models.ServerStatusReboot
	case latest.SecurityUpdatesCount > 0:
		return models.ServerStatusSecurity
	case latest.UpdatesCount > 0:
		return models.ServerStatusUpdates
	}
	return models.ServerStatusUpToDate
}

// Register creates a server on first agent contact, or re-keys an existing
// one matching the same hostname+ip. Returns the server with its fresh
// agent token.
func (r *Registry) Register(ctx context.Context, info RegistrationInfo) (*models.Server, error) {
	if info.Hostname == "" || info.IP == "" {
		return nil, fmt.Errorf("%w: missing host identity", models.ErrValidation)
	}

	token, err := auth.NewAgentToken()
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()

	existing, err := r.store.FindServerByHost(ctx, info.Hostname, info.IP)
	if err == nil {
		existing.AgentToken = token
		applyIdentity(existing, info)
		existing.UpdatedAt = now
		if err := r.store.UpdateServer(ctx, existing); err != nil {
			return nil, err
		}
		log.Info().Int64("server_id", existing.ID).Str("hostname", existing.Hostname).
			Msg("agent re-registered, token rotated")
		return existing, nil
	}

	server := &models.Server{
		Hostname:       info.Hostname,
		IP:             info.IP,
		OSName:         orUnknown(info.OSName),
		OSVersion:      orUnknown(info.OSVersion),
		KernelVersion:  orUnknown(info.KernelVersion),
		PackageManager: orUnknown(info.PackageManager),
		AgentToken:     token,
		LastSeen:       &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := r.store.CreateServer(ctx, server)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("server_id", created.ID).Str("hostname", created.Hostname).
		Msg("agent registered")
	return created, nil
}

// RotateToken issues a new agent credential for the server.
func (r *Registry) RotateToken(ctx context.Context, serverID int64) (*models.Server, error) {
	server, err := r.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	token, err := auth.NewAgentToken()
	if err != nil {
		return nil, err
	}
	server.AgentToken = token
	server.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateServer(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

// Heartbeat records agent liveness and stores a new inventory snapshot.
// The server's identity fields follow the report (replace-on-report).
func (r *Registry) Heartbeat(ctx context.Context, server *models.Server, report *models.InventoryReport) (*models.InventoryReport, error) {
	now := r.now().UTC()
	report.ServerID = server.ID
	if report.CollectedAt.IsZero() {
		report.CollectedAt = now
	}
	report.UpdatesCount = len(report.Updates)
	report.SecurityUpdatesCount = 0
	for _, u := range report.Updates {
		if u.IsSecurity {
			report.SecurityUpdatesCount++
		}
	}

	stored, err := r.store.AddInventory(ctx, report)
	if err != nil {
		return nil, err
	}

	applyIdentity(server, RegistrationInfo{
		Hostname:       report.Hostname,
		IP:             report.IP,
		OSName:         report.OSName,
		OSVersion:      report.OSVersion,
		KernelVersion:  report.KernelVersion,
		PackageManager: report.PackageManager,
	})
	server.LastUpdateTime = report.LastUpdateTime
	server.LastSeen = &now
	server.UpdatedAt = now
	if err := r.store.UpdateServer(ctx, server); err != nil {
		return nil, err
	}
	return stored, nil
}

// Get returns one server with derived status.
func (r *Registry) Get(ctx context.Context, id int64) (*Summary, error) {
	server, err := r.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.summarize(ctx, server)
}

// List returns all servers with derived status, ordered by id.
func (r *Registry) List(ctx context.Context) ([]*Summary, error) {
	servers, err := r.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(servers))
	for _, server := range servers {
		summary, err := r.summarize(ctx, server)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// summarize derives status from the latest inventory. A missing inventory is
// a normal state for a freshly registered server; any other lookup failure
// must not masquerade as "no updates".
func (r *Registry) summarize(ctx context.Context, server *models.Server) (*Summary, error) {
	summary := &Summary{Server: *server}
	latest, err := r.store.LatestInventory(ctx, server.ID)
	switch {
	case err == nil:
		summary.RebootRequired = latest.RebootRequired
		summary.UpdatesCount = latest.UpdatesCount
		summary.SecurityUpdatesCount = latest.SecurityUpdatesCount
	case errors.Is(err, models.ErrNotFound):
		latest = nil
	default:
		return nil, fmt.Errorf("failed to load latest inventory for server %d: %w", server.ID, err)
	}
	summary.Status = r.DeriveStatus(server, latest)
	return summary, nil
}

func applyIdentity(server *models.Server, info RegistrationInfo) {
	server.Hostname = info.Hostname
	server.IP = info.IP
	if info.OSName != "" {
		server.OSName = info.OSName
	}
	if info.OSVersion != "" {
		server.OSVersion = info.OSVersion
	}
	if info.KernelVersion != "" {
		server.KernelVersion = info.KernelVersion
	}
	if info.PackageManager != "" {
		server.PackageManager = info.PackageManager
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
