package v0

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
)

// JobIDInput selects one job by id.
type JobIDInput struct {
	ID int64 `path:"id" doc:"Job id" example:"1"`
}

// CreateJobInput is the request body for creating a job.
type CreateJobInput struct {
	Body struct {
		ServerID         int64      `json:"server_id" doc:"Target server id"`
		JobType          string     `json:"job_type" doc:"One of SCAN_NOW, APPLY_PATCHES, APPLY_SECURITY_ONLY, REPORT_ONLY, REBOOT"`
		ScheduledAt      *time.Time `json:"scheduled_at,omitempty" doc:"Earliest dispatch time; omit for as-soon-as-possible"`
		RequiresApproval *bool      `json:"requires_approval,omitempty" doc:"Explicit approval override; omitted falls back to policy"`
	}
}

// DecisionInput carries an approve/deny decision.
type DecisionInput struct {
	ID   int64 `path:"id" doc:"Job id"`
	Body struct {
		Reason *string `json:"reason,omitempty" doc:"Free-form decision reason, stored verbatim; an empty string is kept"`
	}
}

// JobListBody is the payload for job listings.
type JobListBody struct {
	Jobs  []*models.Job `json:"jobs"`
	Count int           `json:"count"`
}

// AttemptListBody is the payload for a job's attempts.
type AttemptListBody struct {
	Attempts []*models.Attempt `json:"attempts"`
	Count    int               `json:"count"`
}

// JobLogBody is the combined log of a job's attempts.
type JobLogBody struct {
	JobID int64  `json:"job_id"`
	Log   string `json:"log"`
}

// RegisterJobsEndpoints registers job creation, inspection and result
// retrieval endpoints.
func RegisterJobsEndpoints(api huma.API, pathPrefix string, deps Deps) {
	tags := []string{"jobs"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-job",
		Method:        http.MethodPost,
		Path:          pathPrefix + "/jobs",
		Summary:       "Create job",
		Description:   "Creates a maintenance job. Jobs requiring approval start in PENDING_APPROVAL, others in SCHEDULED.",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateJobInput) (*Response[models.Job], error) {
		session, err := operatorSession(ctx)
		if err != nil {
			return nil, err
		}
		job, err := deps.Orchestrator.Create(ctx, orchestrator.CreateRequest{
			ServerID:         input.Body.ServerID,
			JobType:          models.JobType(input.Body.JobType),
			ScheduledAt:      input.Body.ScheduledAt,
			RequiresApproval: input.Body.RequiresApproval,
			Actor:            models.UserActor(session.UserID),
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.Job]{Body: *job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/jobs",
		Summary:     "List jobs",
		Description: "All jobs, newest first.",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[JobListBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		jobs, err := deps.Store.ListJobs(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[JobListBody]{Body: JobListBody{Jobs: jobs, Count: len(jobs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/jobs/{id}",
		Summary:     "Get job",
		Tags:        tags,
	}, func(ctx context.Context, input *JobIDInput) (*Response[models.Job], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		job, err := deps.Store.GetJob(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.Job]{Body: *job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job-results",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/jobs/{id}/results",
		Summary:     "List job attempts",
		Description: "Execution attempts in recorded order.",
		Tags:        tags,
	}, func(ctx context.Context, input *JobIDInput) (*Response[AttemptListBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		attempts, err := deps.Aggregator.Attempts(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[AttemptListBody]{Body: AttemptListBody{Attempts: attempts, Count: len(attempts)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job-log",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/jobs/{id}/log",
		Summary:     "Get combined job log",
		Tags:        tags,
	}, func(ctx context.Context, input *JobIDInput) (*Response[JobLogBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		combined, err := deps.Aggregator.BuildLog(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[JobLogBody]{Body: JobLogBody{JobID: input.ID, Log: combined}}, nil
	})
}

// RegisterApprovalsEndpoints registers the approval queue and decisions.
func RegisterApprovalsEndpoints(api huma.API, pathPrefix string, deps Deps) {
	tags := []string{"approvals"}

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/approvals",
		Summary:     "List jobs awaiting approval",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[JobListBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		jobs, err := deps.Store.ListJobsByStatus(ctx, models.JobStatusPendingApproval)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[JobListBody]{Body: JobListBody{Jobs: jobs, Count: len(jobs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-job",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/approvals/{id}/approve",
		Summary:     "Approve job",
		Description: "Moves a PENDING_APPROVAL job to SCHEDULED. Conflict if the job already left the approval queue.",
		Tags:        tags,
	}, func(ctx context.Context, input *DecisionInput) (*Response[models.Job], error) {
		session, err := operatorSession(ctx)
		if err != nil {
			return nil, err
		}
		job, err := deps.Orchestrator.Approve(ctx, input.ID, models.UserActor(session.UserID), input.Body.Reason)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.Job]{Body: *job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deny-job",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/approvals/{id}/deny",
		Summary:     "Deny job",
		Description: "Moves a PENDING_APPROVAL or SCHEDULED job to DENIED. Dispatched jobs cannot be recalled.",
		Tags:        tags,
	}, func(ctx context.Context, input *DecisionInput) (*Response[models.Job], error) {
		session, err := operatorSession(ctx)
		if err != nil {
			return nil, err
		}
		job, err := deps.Orchestrator.Deny(ctx, input.ID, models.UserActor(session.UserID), input.Body.Reason)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.Job]{Body: *job}, nil
	})
}
