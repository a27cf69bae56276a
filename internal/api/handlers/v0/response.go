// Package v0 contains the HTTP handlers for the /api surface.
package v0

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/alerts"
	"github.com/autopatch-dev/autopatch/internal/auth"
	"github.com/autopatch-dev/autopatch/internal/config"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
	"github.com/autopatch-dev/autopatch/internal/registry"
	"github.com/autopatch-dev/autopatch/internal/results"
	"github.com/autopatch-dev/autopatch/internal/store"
)

// Response is a generic wrapper for Huma responses.
type Response[T any] struct {
	Body T
}

// MessageBody is a simple success payload.
type MessageBody struct {
	Message string `json:"message" doc:"Success message"`
}

// Deps carries the services the handlers operate on.
type Deps struct {
	Config       *config.Config
	Store        store.Store
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Aggregator   *results.Aggregator
	JWT          *auth.JWTManager
	Notifier     alerts.Notifier
}

// mapError translates domain sentinel errors to HTTP status errors. The
// status code is the only wire signal for error category.
func mapError(err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, models.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrInvalidState):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, models.ErrAlreadyExists):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}

// operatorSession requires an authenticated operator or admin.
func operatorSession(ctx context.Context) (*auth.Session, error) {
	session := auth.SessionFrom(ctx)
	if session == nil {
		return nil, huma.Error401Unauthorized("authentication required")
	}
	return session, nil
}

// adminSession requires an authenticated admin.
func adminSession(ctx context.Context) (*auth.Session, error) {
	session, err := operatorSession(ctx)
	if err != nil {
		return nil, err
	}
	if !session.IsAdmin() {
		return nil, huma.Error403Forbidden("admin role required")
	}
	return session, nil
}

// agentServer resolves the X-Agent-Token header to the owning server.
func (d Deps) agentServer(ctx context.Context, token string) (*models.Server, error) {
	if token == "" {
		return nil, huma.Error401Unauthorized("agent token required")
	}
	server, err := d.Store.GetServerByToken(ctx, token)
	if err != nil {
		return nil, huma.Error401Unauthorized("invalid agent token")
	}
	return server, nil
}
