package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// HealthBody is the health check payload.
type HealthBody struct {
	Status string `json:"status" example:"ok"`
}

// VersionBody carries build information.
type VersionBody struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// RegisterHealthEndpoint registers the liveness probe.
func RegisterHealthEndpoint(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"health"},
	}, func(_ context.Context, _ *struct{}) (*Response[HealthBody], error) {
		return &Response[HealthBody]{Body: HealthBody{Status: "ok"}}, nil
	})
}

// RegisterVersionEndpoint registers build info.
func RegisterVersionEndpoint(api huma.API, pathPrefix string, info *VersionBody) {
	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/version",
		Summary:     "Version information",
		Tags:        []string{"version"},
	}, func(_ context.Context, _ *struct{}) (*Response[VersionBody], error) {
		return &Response[VersionBody]{Body: *info}, nil
	})
}
