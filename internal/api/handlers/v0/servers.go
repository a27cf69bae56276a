package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/registry"
)

// ServerIDInput selects one server by id.
type ServerIDInput struct {
	ID int64 `path:"id" doc:"Server id" example:"1"`
}

// ServerListBody is the payload for listing servers.
type ServerListBody struct {
	Servers []*registry.Summary `json:"servers"`
	Count   int                 `json:"count"`
}

// UpdatesBody is the payload for a server's pending update list.
type UpdatesBody struct {
	Updates []models.Update `json:"updates"`
	Count   int             `json:"count"`
}

// RotateTokenBody returns a freshly rotated agent credential.
type RotateTokenBody struct {
	ServerID   int64  `json:"server_id"`
	AgentToken string `json:"agent_token"`
}

// RegisterServersEndpoints registers the operator-facing server endpoints.
func RegisterServersEndpoints(api huma.API, pathPrefix string, deps Deps) {
	tags := []string{"servers"}

	huma.Register(api, huma.Operation{
		OperationID: "list-servers",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers",
		Summary:     "List servers",
		Description: "List all managed servers with their derived status and latest inventory counts.",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[ServerListBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		summaries, err := deps.Registry.List(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[ServerListBody]{Body: ServerListBody{Servers: summaries, Count: len(summaries)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-server",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers/{id}",
		Summary:     "Get server",
		Tags:        tags,
	}, func(ctx context.Context, input *ServerIDInput) (*Response[registry.Summary], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		summary, err := deps.Registry.Get(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[registry.Summary]{Body: *summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-server-inventory",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers/{id}/inventory",
		Summary:     "Get latest inventory snapshot",
		Description: "Returns the server's most recent inventory report including its update list.",
		Tags:        tags,
	}, func(ctx context.Context, input *ServerIDInput) (*Response[models.InventoryReport], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		if _, err := deps.Store.GetServer(ctx, input.ID); err != nil {
			return nil, mapError(err)
		}
		report, err := deps.Store.LatestInventory(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.InventoryReport]{Body: *report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-server-updates",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers/{id}/updates",
		Summary:     "List pending updates",
		Tags:        tags,
	}, func(ctx context.Context, input *ServerIDInput) (*Response[UpdatesBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		if _, err := deps.Store.GetServer(ctx, input.ID); err != nil {
			return nil, mapError(err)
		}
		updates := []models.Update{}
		if report, err := deps.Store.LatestInventory(ctx, input.ID); err == nil {
			updates = report.Updates
		}
		return &Response[UpdatesBody]{Body: UpdatesBody{Updates: updates, Count: len(updates)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-server-jobs",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/servers/{id}/jobs",
		Summary:     "List jobs for a server",
		Description: "Jobs are returned newest first.",
		Tags:        tags,
	}, func(ctx context.Context, input *ServerIDInput) (*Response[JobListBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		if _, err := deps.Store.GetServer(ctx, input.ID); err != nil {
			return nil, mapError(err)
		}
		jobs, err := deps.Store.ListJobsByServer(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[JobListBody]{Body: JobListBody{Jobs: jobs, Count: len(jobs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rotate-server-token",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/servers/{id}/rotate-token",
		Summary:     "Rotate agent token",
		Description: "Issues a new agent credential for the server. Admin only.",
		Tags:        []string{"servers", "admin"},
	}, func(ctx context.Context, input *ServerIDInput) (*Response[RotateTokenBody], error) {
		if _, err := adminSession(ctx); err != nil {
			return nil, err
		}
		server, err := deps.Registry.RotateToken(ctx, input.ID)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[RotateTokenBody]{Body: RotateTokenBody{ServerID: server.ID, AgentToken: server.AgentToken}}, nil
	})
}
