package v0

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/registry"
	"github.com/autopatch-dev/autopatch/internal/results"
)

// rateLimiter enforces a minimum interval between calls per server.
type rateLimiter struct {
	mu   sync.Mutex
	last map[int64]time.Time
	min  time.Duration
}

func newRateLimiter(min time.Duration) *rateLimiter {
	return &rateLimiter{last: make(map[int64]time.Time), min: min}
}

func (r *rateLimiter) allow(serverID int64) bool {
	if r.min <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if last, ok := r.last[serverID]; ok && now.Sub(last) < r.min {
		return false
	}
	r.last[serverID] = now
	return true
}

// RegisterInput is the agent registration request.
type RegisterInput struct {
	BootstrapToken string `header:"X-Bootstrap-Token" doc:"Fleet bootstrap token"`
	Body           struct {
		Hostname       string `json:"hostname"`
		IP             string `json:"ip"`
		OSName         string `json:"os_name,omitempty"`
		OSVersion      string `json:"os_version,omitempty"`
		KernelVersion  string `json:"kernel_version,omitempty"`
		PackageManager string `json:"package_manager,omitempty"`
	}
}

// AgentCredentialsBody is returned on registration and token rotation.
type AgentCredentialsBody struct {
	ServerID   int64  `json:"server_id"`
	AgentToken string `json:"agent_token"`
}

// HeartbeatInput carries an inventory report from an agent.
type HeartbeatInput struct {
	AgentToken string `header:"X-Agent-Token" doc:"Agent credential"`
	Body       struct {
		Hostname       string     `json:"hostname"`
		IP             string     `json:"ip"`
		OSName         string     `json:"os_name,omitempty"`
		OSVersion      string     `json:"os_version,omitempty"`
		KernelVersion  string     `json:"kernel_version,omitempty"`
		PackageManager string     `json:"package_manager,omitempty"`
		LastUpdateTime *time.Time `json:"last_update_time,omitempty"`
		RebootRequired bool       `json:"reboot_required,omitempty"`
		CollectedAt    *time.Time `json:"collected_at,omitempty"`
		Updates        []struct {
			Name             string `json:"name"`
			CurrentVersion   string `json:"current_version,omitempty"`
			CandidateVersion string `json:"candidate_version,omitempty"`
			IsSecurity       bool   `json:"is_security,omitempty"`
		} `json:"updates,omitempty"`
	}
}

// PollInput asks for the next dispatched job.
type PollInput struct {
	AgentToken string `header:"X-Agent-Token" doc:"Agent credential"`
}

// ResultInput reports one execution attempt for a job.
type ResultInput struct {
	AgentToken string `header:"X-Agent-Token" doc:"Agent credential"`
	ID         int64  `path:"id" doc:"Job id"`
	Body       struct {
		Status     string     `json:"status,omitempty" doc:"COMPLETED, FAILED or RETRYING; omitted derives from exit_code"`
		ExitCode   int        `json:"exit_code"`
		Stdout     string     `json:"stdout,omitempty"`
		Stderr     string     `json:"stderr,omitempty"`
		StartedAt  *time.Time `json:"started_at,omitempty"`
		FinishedAt *time.Time `json:"finished_at,omitempty"`
	}
}

// RegisterAgentEndpoints registers the agent-facing endpoints.
func RegisterAgentEndpoints(api huma.API, pathPrefix string, deps Deps) {
	tags := []string{"agent"}
	limiter := newRateLimiter(deps.Config.AgentRateLimit)

	huma.Register(api, huma.Operation{
		OperationID:   "agent-register",
		Method:        http.MethodPost,
		Path:          pathPrefix + "/agent/register",
		Summary:       "Register agent",
		Description:   "Creates a server on first contact or re-keys an existing one. Requires the fleet bootstrap token.",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *RegisterInput) (*Response[AgentCredentialsBody], error) {
		if deps.Config.AgentBootstrapToken == "" || input.BootstrapToken != deps.Config.AgentBootstrapToken {
			return nil, huma.Error401Unauthorized("invalid bootstrap token")
		}
		server, err := deps.Registry.Register(ctx, registry.RegistrationInfo{
			Hostname:       input.Body.Hostname,
			IP:             input.Body.IP,
			OSName:         input.Body.OSName,
			OSVersion:      input.Body.OSVersion,
			KernelVersion:  input.Body.KernelVersion,
			PackageManager: input.Body.PackageManager,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[AgentCredentialsBody]{Body: AgentCredentialsBody{ServerID: server.ID, AgentToken: server.AgentToken}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-rotate-token",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/agent/rotate-token",
		Summary:     "Rotate own agent token",
		Tags:        tags,
	}, func(ctx context.Context, input *PollInput) (*Response[AgentCredentialsBody], error) {
		server, err := deps.agentServer(ctx, input.AgentToken)
		if err != nil {
			return nil, err
		}
		rotated, err := deps.Registry.RotateToken(ctx, server.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[AgentCredentialsBody]{Body: AgentCredentialsBody{ServerID: rotated.ID, AgentToken: rotated.AgentToken}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-heartbeat",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/agent/heartbeat",
		Summary:     "Report inventory",
		Description: "Updates liveness and stores a new inventory snapshot.",
		Tags:        tags,
	}, func(ctx context.Context, input *HeartbeatInput) (*Response[models.InventoryReport], error) {
		server, err := deps.agentServer(ctx, input.AgentToken)
		if err != nil {
			return nil, err
		}
		if !limiter.allow(server.ID) {
			return nil, huma.Error429TooManyRequests("heartbeat rate limit exceeded")
		}

		hadSecurity := false
		if previous, err := deps.Store.LatestInventory(ctx, server.ID); err == nil {
			hadSecurity = previous.SecurityUpdatesCount > 0
		}

		report := models.InventoryReport{
			Hostname:       input.Body.Hostname,
			IP:             input.Body.IP,
			OSName:         input.Body.OSName,
			OSVersion:      input.Body.OSVersion,
			KernelVersion:  input.Body.KernelVersion,
			PackageManager: input.Body.PackageManager,
			LastUpdateTime: input.Body.LastUpdateTime,
			RebootRequired: input.Body.RebootRequired,
		}
		if input.Body.CollectedAt != nil {
			report.CollectedAt = *input.Body.CollectedAt
		}
		for _, u := range input.Body.Updates {
			report.Updates = append(report.Updates, models.Update{
				Name:             u.Name,
				CurrentVersion:   u.CurrentVersion,
				CandidateVersion: u.CandidateVersion,
				IsSecurity:       u.IsSecurity,
			})
		}
		stored, err := deps.Registry.Heartbeat(ctx, server, &report)
		if err != nil {
			return nil, mapError(err)
		}

		// Edge-triggered: alert only when security updates first appear.
		if stored.SecurityUpdatesCount > 0 && !hadSecurity {
			deps.Notifier.Notify(ctx, fmt.Sprintf("server %s (%s) reports %d security updates",
				server.Hostname, server.IP, stored.SecurityUpdatesCount))
		}
		return &Response[models.InventoryReport]{Body: *stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-poll",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/agent/jobs/poll",
		Summary:     "Poll for work",
		Description: "Hands out the oldest dispatched job for this server and marks it RUNNING. 404 when no work is waiting.",
		Tags:        tags,
	}, func(ctx context.Context, input *PollInput) (*Response[models.Job], error) {
		server, err := deps.agentServer(ctx, input.AgentToken)
		if err != nil {
			return nil, err
		}
		if !limiter.allow(server.ID) {
			return nil, huma.Error429TooManyRequests("poll rate limit exceeded")
		}
		job, err := deps.Orchestrator.Acknowledge(ctx, server.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.Job]{Body: *job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-job-result",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/agent/jobs/{id}/result",
		Summary:     "Report job result",
		Description: "Appends an execution attempt. Terminal attempts finalize the job.",
		Tags:        tags,
	}, func(ctx context.Context, input *ResultInput) (*Response[models.Attempt], error) {
		server, err := deps.agentServer(ctx, input.AgentToken)
		if err != nil {
			return nil, err
		}
		report := results.Report{
			Status:   models.AttemptStatus(input.Body.Status),
			ExitCode: input.Body.ExitCode,
			Stdout:   input.Body.Stdout,
			Stderr:   input.Body.Stderr,
		}
		if input.Body.StartedAt != nil {
			report.StartedAt = *input.Body.StartedAt
		}
		if input.Body.FinishedAt != nil {
			report.FinishedAt = *input.Body.FinishedAt
		}
		attempt, err := deps.Aggregator.Ingest(ctx, server.ID, input.ID, report)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.Attempt]{Body: *attempt}, nil
	})
}
