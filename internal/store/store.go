// Package store persists servers, inventory, users, jobs, attempts and the
// audit trail. Two implementations exist: PostgreSQL for deployments and an
// in-memory store backing tests and noop mode.
package store

import (
	"context"
	"time"

	"github.com/autopatch-dev/autopatch/internal/models"
)

// Store is the persistence contract consumed by the registry, orchestrator,
// scheduler and result aggregator. Implementations return models.ErrNotFound
// and models.ErrAlreadyExists; state-machine validation is not their job.
type Store interface {
	// Servers
	CreateServer(ctx context.Context, server *models.Server) (*models.Server, error)
	UpdateServer(ctx context.Context, server *models.Server) error
	GetServer(ctx context.Context, id int64) (*models.Server, error)
	GetServerByToken(ctx context.Context, token string) (*models.Server, error)
	FindServerByHost(ctx context.Context, hostname, ip string) (*models.Server, error)
	ListServers(ctx context.Context) ([]*models.Server, error)

	// Inventory snapshots (append-only, latest wins on read)
	AddInventory(ctx context.Context, report *models.InventoryReport) (*models.InventoryReport, error)
	LatestInventory(ctx context.Context, serverID int64) (*models.InventoryReport, error)

	// Users
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	// Jobs. ListDueJobs returns SCHEDULED jobs whose scheduled_at is nil or
	// <= now, ordered scheduled_at ascending (nil first) then id ascending;
	// this ordering is the scheduler's documented dispatch order.
	CreateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobs(ctx context.Context) ([]*models.Job, error)
	ListJobsByServer(ctx context.Context, serverID int64) ([]*models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	ListDueJobs(ctx context.Context, now time.Time) ([]*models.Job, error)
	OldestDispatchedJob(ctx context.Context, serverID int64) (*models.Job, error)

	// Attempts (append-only)
	AppendAttempt(ctx context.Context, attempt *models.Attempt) (*models.Attempt, error)
	ListAttempts(ctx context.Context, jobID int64) ([]*models.Attempt, error)

	// Audit trail (append-only)
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*models.AuditEntry, error)

	Close() error
}
