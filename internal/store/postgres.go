package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopatch-dev/autopatch/internal/models"
)

const uniqueViolation = "23505"

// PostgreSQL is the production Store implementation.
type PostgreSQL struct {
	pool *pgxpool.Pool
}

// NewPostgreSQL connects, configures the pool and runs migrations.
func NewPostgreSQL(ctx context.Context, connectionURI string) (*PostgreSQL, error) {
	config, err := pgxpool.ParseConfig(connectionURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	config.MaxConns = 30
	config.MinConns = 5
	config.MaxConnIdleTime = 30 * time.Minute
	config.MaxConnLifetime = 2 * time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	if err := migrate(ctx, conn.Conn()); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.ErrAlreadyExists
	}
	return err
}

const serverColumns = `id, hostname, ip, os_name, os_version, kernel_version,
	package_manager, last_update_time, last_seen, agent_token, created_at, updated_at`

func scanServer(row pgx.Row) (*models.Server, error) {
	var s models.Server
	err := row.Scan(&s.ID, &s.Hostname, &s.IP, &s.OSName, &s.OSVersion,
		&s.KernelVersion, &s.PackageManager, &s.LastUpdateTime, &s.LastSeen,
		&s.AgentToken, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (db *PostgreSQL) CreateServer(ctx context.Context, server *models.Server) (*models.Server, error) {
	row := db.pool.QueryRow(ctx, `INSERT INTO servers
		(hostname, ip, os_name, os_version, kernel_version, package_manager,
		 last_update_time, last_seen, agent_token, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+serverColumns,
		server.Hostname, server.IP, server.OSName, server.OSVersion,
		server.KernelVersion, server.PackageManager, server.LastUpdateTime,
		server.LastSeen, server.AgentToken, server.CreatedAt, server.UpdatedAt)
	return scanServer(row)
}

func (db *PostgreSQL) UpdateServer(ctx context.Context, server *models.Server) error {
	tag, err := db.pool.Exec(ctx, `UPDATE servers SET
		hostname=$2, ip=$3, os_name=$4, os_version=$5, kernel_version=$6,
		package_manager=$7, last_update_time=$8, last_seen=$9, agent_token=$10,
		updated_at=$11
		WHERE id=$1`,
		server.ID, server.Hostname, server.IP, server.OSName, server.OSVersion,
		server.KernelVersion, server.PackageManager, server.LastUpdateTime,
		server.LastSeen, server.AgentToken, server.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgreSQL) GetServer(ctx context.Context, id int64) (*models.Server, error) {
	return scanServer(db.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE id=$1`, id))
}

func (db *PostgreSQL) GetServerByToken(ctx context.Context, token string) (*models.Server, error) {
	return scanServer(db.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE agent_token=$1`, token))
}

func (db *PostgreSQL) FindServerByHost(ctx context.Context, hostname, ip string) (*models.Server, error) {
	return scanServer(db.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM servers WHERE hostname=$1 AND ip=$2 LIMIT 1`,
		hostname, ip))
}

func (db *PostgreSQL) ListServers(ctx context.Context) ([]*models.Server, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	return out, rows.Err()
}

func (db *PostgreSQL) AddInventory(ctx context.Context, report *models.InventoryReport) (*models.InventoryReport, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := *report
	out.Updates = append([]models.Update(nil), report.Updates...)
	err = tx.QueryRow(ctx, `INSERT INTO inventories
		(server_id, collected_at, hostname, ip, os_name, os_version,
		 kernel_version, package_manager, last_update_time, reboot_required,
		 updates_count, security_updates_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		report.ServerID, report.CollectedAt, report.Hostname, report.IP,
		report.OSName, report.OSVersion, report.KernelVersion,
		report.PackageManager, report.LastUpdateTime, report.RebootRequired,
		report.UpdatesCount, report.SecurityUpdatesCount).Scan(&out.ID)
	if err != nil {
		return nil, mapError(err)
	}

	for i := range report.Updates {
		u := &report.Updates[i]
		err = tx.QueryRow(ctx, `INSERT INTO updates
			(inventory_id, name, current_version, candidate_version, is_security)
			VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			out.ID, u.Name, u.CurrentVersion, u.CandidateVersion, u.IsSecurity).
			Scan(&out.Updates[i].ID)
		if err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError(err)
	}
	return &out, nil
}

const inventoryColumns = `id, server_id, collected_at, hostname, ip, os_name,
	os_version, kernel_version, package_manager, last_update_time,
	reboot_required, updates_count, security_updates_count`

func (db *PostgreSQL) LatestInventory(ctx context.Context, serverID int64) (*models.InventoryReport, error) {
	var r models.InventoryReport
	err := db.pool.QueryRow(ctx, `SELECT `+inventoryColumns+`
		FROM inventories WHERE server_id=$1
		ORDER BY collected_at DESC, id DESC LIMIT 1`, serverID).
		Scan(&r.ID, &r.ServerID, &r.CollectedAt, &r.Hostname, &r.IP, &r.OSName,
			&r.OSVersion, &r.KernelVersion, &r.PackageManager, &r.LastUpdateTime,
			&r.RebootRequired, &r.UpdatesCount, &r.SecurityUpdatesCount)
	if err != nil {
		return nil, mapError(err)
	}

	rows, err := db.pool.Query(ctx, `SELECT id, name, current_version,
		candidate_version, is_security FROM updates WHERE inventory_id=$1 ORDER BY id`, r.ID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.Update
		if err := rows.Scan(&u.ID, &u.Name, &u.CurrentVersion, &u.CandidateVersion, &u.IsSecurity); err != nil {
			return nil, err
		}
		r.Updates = append(r.Updates, u)
	}
	return &r, rows.Err()
}

func (db *PostgreSQL) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	out := *user
	err := db.pool.QueryRow(ctx, `INSERT INTO users
		(email, password_hash, role, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		user.Email, user.PasswordHash, user.Role, user.IsActive, user.CreatedAt).
		Scan(&out.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &out, nil
}

func (db *PostgreSQL) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := db.pool.QueryRow(ctx, `SELECT id, email, password_hash, role,
		is_active, created_at FROM users WHERE email=$1`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (db *PostgreSQL) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, email, password_hash, role,
		is_active, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

const jobColumns = `id, server_id, job_type, status, scheduled_at,
	requires_approval, approved_by, approved_at, approval_reason, created_by,
	created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ServerID, &j.JobType, &j.Status, &j.ScheduledAt,
		&j.RequiresApproval, &j.ApprovedBy, &j.ApprovedAt, &j.ApprovalReason,
		&j.CreatedBy, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &j, nil
}

func (db *PostgreSQL) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	row := db.pool.QueryRow(ctx, `INSERT INTO jobs
		(server_id, job_type, status, scheduled_at, requires_approval,
		 approved_by, approved_at, approval_reason, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING `+jobColumns,
		job.ServerID, job.JobType, job.Status, job.ScheduledAt,
		job.RequiresApproval, job.ApprovedBy, job.ApprovedAt,
		job.ApprovalReason, job.CreatedBy, job.CreatedAt, job.UpdatedAt)
	return scanJob(row)
}

func (db *PostgreSQL) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := db.pool.Exec(ctx, `UPDATE jobs SET
		status=$2, scheduled_at=$3, approved_by=$4, approved_at=$5,
		approval_reason=$6, updated_at=$7
		WHERE id=$1`,
		job.ID, job.Status, job.ScheduledAt, job.ApprovedBy, job.ApprovedAt,
		job.ApprovalReason, job.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgreSQL) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id))
}

func (db *PostgreSQL) listJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (db *PostgreSQL) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return db.listJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY id DESC`)
}

func (db *PostgreSQL) ListJobsByServer(ctx context.Context, serverID int64) ([]*models.Job, error) {
	return db.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE server_id=$1 ORDER BY id DESC`, serverID)
}

func (db *PostgreSQL) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return db.listJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status=$1 ORDER BY id DESC`, status)
}

func (db *PostgreSQL) ListDueJobs(ctx context.Context, now time.Time) ([]*models.Job, error) {
	return db.listJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE status=$1 AND (scheduled_at IS NULL OR scheduled_at <= $2)
		ORDER BY scheduled_at ASC NULLS FIRST, id ASC`,
		models.JobStatusScheduled, now)
}

func (db *PostgreSQL) OldestDispatchedJob(ctx context.Context, serverID int64) (*models.Job, error) {
	return scanJob(db.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE server_id=$1 AND status=$2 ORDER BY id ASC LIMIT 1`,
		serverID, models.JobStatusDispatched))
}

func (db *PostgreSQL) AppendAttempt(ctx context.Context, attempt *models.Attempt) (*models.Attempt, error) {
	out := *attempt
	err := db.pool.QueryRow(ctx, `INSERT INTO attempts
		(job_id, status, exit_code, stdout, stderr, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		attempt.JobID, attempt.Status, attempt.ExitCode, attempt.Stdout,
		attempt.Stderr, attempt.StartedAt, attempt.FinishedAt).Scan(&out.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &out, nil
}

func (db *PostgreSQL) ListAttempts(ctx context.Context, jobID int64) ([]*models.Attempt, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, job_id, status, exit_code,
		stdout, stderr, started_at, finished_at
		FROM attempts WHERE job_id=$1 ORDER BY id`, jobID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Attempt
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.JobID, &a.Status, &a.ExitCode, &a.Stdout,
			&a.Stderr, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (db *PostgreSQL) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	_, err := db.pool.Exec(ctx, `INSERT INTO audit_logs
		(actor_type, actor_id, action, target_type, target_id, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.ActorType, entry.ActorID, entry.Action, entry.TargetType,
		entry.TargetID, entry.Message, entry.CreatedAt)
	return mapErrorNil(err)
}

func (db *PostgreSQL) ListAudit(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, actor_type, actor_id, action,
		target_type, target_id, message, created_at
		FROM audit_logs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorType, &e.ActorID, &e.Action,
			&e.TargetType, &e.TargetID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (db *PostgreSQL) Close() error {
	db.pool.Close()
	return nil
}

func mapErrorNil(err error) error {
	if err == nil {
		return nil
	}
	return mapError(err)
}
