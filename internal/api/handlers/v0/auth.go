package v0

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/auth"
)

// LoginInput is the credential payload for operator login.
type LoginInput struct {
	Body struct {
		Email    string `json:"email" format:"email"`
		Password string `json:"password"`
	}
}

// TokenBody carries an issued bearer token.
type TokenBody struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type" doc:"Always 'Bearer'"`
}

// RegisterAuthEndpoints registers operator login.
func RegisterAuthEndpoints(api huma.API, pathPrefix string, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        pathPrefix + "/auth/login",
		Summary:     "Log in",
		Description: "Exchanges email and password for a bearer token.",
		Tags:        []string{"auth"},
	}, func(ctx context.Context, input *LoginInput) (*Response[TokenBody], error) {
		user, err := deps.Store.GetUserByEmail(ctx, input.Body.Email)
		if err != nil || !user.IsActive || !auth.VerifyPassword(input.Body.Password, user.PasswordHash) {
			// Same error either way so credentials cannot be probed.
			return nil, huma.Error401Unauthorized("invalid credentials")
		}
		token, err := deps.JWT.GenerateToken(user)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to issue token", err)
		}
		return &Response[TokenBody]{Body: TokenBody{Token: token, TokenType: "Bearer"}}, nil
	})
}
