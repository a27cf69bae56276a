// Package router assembles the Huma API, middleware stack and route table.
package router

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	v0 "github.com/autopatch-dev/autopatch/internal/api/handlers/v0"
	"github.com/autopatch-dev/autopatch/internal/auth"
	"github.com/autopatch-dev/autopatch/internal/telemetry"
)

type middlewareConfig struct {
	skipPaths map[string]bool
}

// MiddlewareOption configures the metrics middleware.
type MiddlewareOption func(*middlewareConfig)

// WithSkipPaths skips instrumentation for the given paths.
func WithSkipPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) {
		for _, path := range paths {
			c.skipPaths[path] = true
		}
	}
}

func routePath(ctx huma.Context) string {
	if op := ctx.Operation().Path; op != "" {
		return op
	}
	return ctx.URL().Path
}

// MetricsMiddleware records request count, error count and latency per route.
func MetricsMiddleware(metrics *telemetry.Metrics, options ...MiddlewareOption) func(huma.Context, func(huma.Context)) {
	config := &middlewareConfig{skipPaths: make(map[string]bool)}
	for _, opt := range options {
		opt(config)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		if config.skipPaths[ctx.URL().Path] {
			next(ctx)
			return
		}

		start := time.Now()
		method := ctx.Method()
		path := routePath(ctx)

		next(ctx)

		duration := time.Since(start).Seconds()
		statusCode := ctx.Status()
		attrs := []attribute.KeyValue{
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status_code", statusCode),
		}

		metrics.Requests.Add(ctx.Context(), 1, metric.WithAttributes(attrs...))
		if statusCode >= 400 {
			metrics.ErrorCount.Add(ctx.Context(), 1, metric.WithAttributes(attrs...))
		}
		metrics.RequestDuration.Record(ctx.Context(), duration, metric.WithAttributes(attrs...))
	}
}

// AuthMiddleware resolves the bearer Authorization header into a session on
// the request context. A missing header passes through anonymously; handlers
// decide whether a session is required. A present but invalid token is
// rejected here.
func AuthMiddleware(api huma.API, jwt *auth.JWTManager) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		session, err := jwt.Authenticate(ctx.Header("Authorization"))
		if err != nil {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if session != nil {
			ctx = huma.WithContext(ctx, auth.WithSession(ctx.Context(), session))
		}
		next(ctx)
	}
}

// NewHumaAPI creates the Huma API on the given mux and registers all routes.
func NewHumaAPI(deps v0.Deps, mux *http.ServeMux, metrics *telemetry.Metrics, versionInfo *v0.VersionBody) huma.API {
	humaConfig := huma.DefaultConfig("AutoPatch API", "1.0.0")
	humaConfig.Info.Description = "Patch maintenance orchestration: server inventory, job approval and lifecycle, agent dispatch."
	// Disable $schema property in responses.
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	api := humago.New(mux, humaConfig)

	api.UseMiddleware(AuthMiddleware(api, deps.JWT))
	api.UseMiddleware(MetricsMiddleware(metrics,
		WithSkipPaths("/health", "/metrics", "/docs"),
	))

	api.OpenAPI().Tags = []*huma.Tag{
		{Name: "servers", Description: "Managed server inventory and status"},
		{Name: "jobs", Description: "Maintenance job lifecycle"},
		{Name: "approvals", Description: "Approval queue and decisions"},
		{Name: "agent", Description: "Agent registration, heartbeat and work polling"},
		{Name: "users", Description: "User provisioning"},
		{Name: "auth", Description: "Operator authentication"},
		{Name: "audit", Description: "Audit trail"},
		{Name: "admin", Description: "Operations requiring the admin role"},
		{Name: "health", Description: "Liveness probe"},
		{Name: "version", Description: "Build information"},
	}

	prefix := deps.Config.APIPrefix
	v0.RegisterHealthEndpoint(api)
	v0.RegisterVersionEndpoint(api, prefix, versionInfo)
	v0.RegisterAuthEndpoints(api, prefix, deps)
	v0.RegisterServersEndpoints(api, prefix, deps)
	v0.RegisterJobsEndpoints(api, prefix, deps)
	v0.RegisterApprovalsEndpoints(api, prefix, deps)
	v0.RegisterUsersEndpoints(api, prefix, deps)
	v0.RegisterAuditEndpoint(api, prefix, deps)
	v0.RegisterAgentEndpoints(api, prefix, deps)

	mux.Handle("/metrics", metrics.PrometheusHandler())

	return api
}
