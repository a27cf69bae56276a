package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/autopatch-dev/autopatch/internal/models"
)

// Memory is an in-memory Store. It backs the test suite and noop database
// mode. All methods return copies so callers never share mutable state.
type Memory struct {
	mu sync.RWMutex

	servers     map[int64]*models.Server
	inventories map[int64][]*models.InventoryReport
	users       map[int64]*models.User
	jobs        map[int64]*models.Job
	attempts    map[int64][]*models.Attempt
	audit       []*models.AuditEntry

	nextServerID    int64
	nextInventoryID int64
	nextUserID      int64
	nextJobID       int64
	nextAttemptID   int64
	nextAuditID     int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		servers:     make(map[int64]*models.Server),
		inventories: make(map[int64][]*models.InventoryReport),
		users:       make(map[int64]*models.User),
		jobs:        make(map[int64]*models.Job),
		attempts:    make(map[int64][]*models.Attempt),
	}
}

func (m *Memory) CreateServer(_ context.Context, server *models.Server) (*models.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.servers {
		if existing.AgentToken == server.AgentToken {
			return nil, models.ErrAlreadyExists
		}
	}
	m.nextServerID++
	s := *server
	s.ID = m.nextServerID
	m.servers[s.ID] = &s
	out := s
	return &out, nil
}

func (m *Memory) UpdateServer(_ context.Context, server *models.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[server.ID]; !ok {
		return models.ErrNotFound
	}
	s := *server
	m.servers[s.ID] = &s
	return nil
}

func (m *Memory) GetServer(_ context.Context, id int64) (*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	server, ok := m.servers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *server
	return &out, nil
}

func (m *Memory) GetServerByToken(_ context.Context, token string) (*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, server := range m.servers {
		if server.AgentToken == token {
			out := *server
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *Memory) FindServerByHost(_ context.Context, hostname, ip string) (*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, server := range m.servers {
		if server.Hostname == hostname && server.IP == ip {
			out := *server
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *Memory) ListServers(_ context.Context) ([]*models.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Server, 0, len(m.servers))
	for _, server := range m.servers {
		s := *server
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddInventory(_ context.Context, report *models.InventoryReport) (*models.InventoryReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.servers[report.ServerID]; !ok {
		return nil, models.ErrNotFound
	}
	m.nextInventoryID++
	r := *report
	r.ID = m.nextInventoryID
	r.Updates = append([]models.Update(nil), report.Updates...)
	m.inventories[r.ServerID] = append(m.inventories[r.ServerID], &r)
	out := r
	out.Updates = append([]models.Update(nil), r.Updates...)
	return &out, nil
}

func (m *Memory) LatestInventory(_ context.Context, serverID int64) (*models.InventoryReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reports := m.inventories[serverID]
	if len(reports) == 0 {
		return nil, models.ErrNotFound
	}
	latest := reports[len(reports)-1]
	out := *latest
	out.Updates = append([]models.Update(nil), latest.Updates...)
	return &out, nil
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Email == user.Email {
			return nil, models.ErrAlreadyExists
		}
	}
	m.nextUserID++
	u := *user
	u.ID = m.nextUserID
	m.users[u.ID] = &u
	out := u
	return &out, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Email == email {
			out := *user
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.User, 0, len(m.users))
	for _, user := range m.users {
		u := *user
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateJob(_ context.Context, job *models.Job) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextJobID++
	j := *job
	j.ID = m.nextJobID
	m.jobs[j.ID] = &j
	out := j
	return &out, nil
}

func (m *Memory) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return models.ErrNotFound
	}
	j := *job
	m.jobs[j.ID] = &j
	return nil
}

func (m *Memory) GetJob(_ context.Context, id int64) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (m *Memory) ListJobs(_ context.Context) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectJobs(func(*models.Job) bool { return true }), nil
}

func (m *Memory) ListJobsByServer(_ context.Context, serverID int64) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectJobs(func(j *models.Job) bool { return j.ServerID == serverID }), nil
}

func (m *Memory) ListJobsByStatus(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectJobs(func(j *models.Job) bool { return j.Status == status }), nil
}

// collectJobs returns matching jobs newest first. Callers must hold mu.
func (m *Memory) collectJobs(match func(*models.Job) bool) []*models.Job {
	out := make([]*models.Job, 0)
	for _, job := range m.jobs {
		if match(job) {
			j := *job
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *Memory) ListDueJobs(_ context.Context, now time.Time) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Job, 0)
	for _, job := range m.jobs {
		if job.Status == models.JobStatusScheduled && job.Due(now) {
			j := *job
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ScheduledAt == nil && b.ScheduledAt != nil:
			return true
		case a.ScheduledAt != nil && b.ScheduledAt == nil:
			return false
		case a.ScheduledAt != nil && b.ScheduledAt != nil && !a.ScheduledAt.Equal(*b.ScheduledAt):
			return a.ScheduledAt.Before(*b.ScheduledAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *Memory) OldestDispatchedJob(_ context.Context, serverID int64) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *models.Job
	for _, job := range m.jobs {
		if job.ServerID != serverID || job.Status != models.JobStatusDispatched {
			continue
		}
		if oldest == nil || job.ID < oldest.ID {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, models.ErrNotFound
	}
	out := *oldest
	return &out, nil
}

func (m *Memory) AppendAttempt(_ context.Context, attempt *models.Attempt) (*models.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[attempt.JobID]; !ok {
		return nil, models.ErrNotFound
	}
	m.nextAttemptID++
	a := *attempt
	a.ID = m.nextAttemptID
	m.attempts[a.JobID] = append(m.attempts[a.JobID], &a)
	out := a
	return &out, nil
}

func (m *Memory) ListAttempts(_ context.Context, jobID int64) ([]*models.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempts := m.attempts[jobID]
	out := make([]*models.Attempt, 0, len(attempts))
	for _, attempt := range attempts {
		a := *attempt
		out = append(out, &a)
	}
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAuditID++
	e := *entry
	e.ID = m.nextAuditID
	m.audit = append(m.audit, &e)
	return nil
}

func (m *Memory) ListAudit(_ context.Context, limit int) ([]*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.AuditEntry, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := *m.audit[i]
		out = append(out, &e)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
