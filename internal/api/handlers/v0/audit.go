package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/models"
)

const auditLimit = 500

// AuditListBody is the payload for the audit trail.
type AuditListBody struct {
	Entries []*models.AuditEntry `json:"entries"`
	Count   int                  `json:"count"`
}

// RegisterAuditEndpoint registers the audit trail listing.
func RegisterAuditEndpoint(api huma.API, pathPrefix string, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/audit",
		Summary:     "List audit entries",
		Description: "Latest audit entries, newest first.",
		Tags:        []string{"audit"},
	}, func(ctx context.Context, _ *struct{}) (*Response[AuditListBody], error) {
		if _, err := operatorSession(ctx); err != nil {
			return nil, err
		}
		entries, err := deps.Store.ListAudit(ctx, auditLimit)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[AuditListBody]{Body: AuditListBody{Entries: entries, Count: len(entries)}}, nil
	})
}
