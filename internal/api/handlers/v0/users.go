package v0

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/autopatch-dev/autopatch/internal/auth"
	"github.com/autopatch-dev/autopatch/internal/models"
)

// CreateUserInput is the request body for provisioning a user.
type CreateUserInput struct {
	Body struct {
		Email    string `json:"email" format:"email"`
		Password string `json:"password" minLength:"8"`
		Role     string `json:"role" doc:"operator or admin"`
	}
}

// UserListBody is the payload for listing users.
type UserListBody struct {
	Users []*models.User `json:"users"`
	Count int            `json:"count"`
}

// RegisterUsersEndpoints registers admin-only user management.
func RegisterUsersEndpoints(api huma.API, pathPrefix string, deps Deps) {
	tags := []string{"users", "admin"}

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          pathPrefix + "/users",
		Summary:       "Create user",
		Tags:          tags,
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateUserInput) (*Response[models.User], error) {
		if _, err := adminSession(ctx); err != nil {
			return nil, err
		}
		role := models.Role(input.Body.Role)
		if !role.Valid() {
			return nil, huma.Error400BadRequest(fmt.Sprintf("unknown role %q", input.Body.Role))
		}
		hash, err := auth.HashPassword(input.Body.Password)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to hash password", err)
		}
		user, err := deps.Store.CreateUser(ctx, &models.User{
			Email:        input.Body.Email,
			PasswordHash: hash,
			Role:         role,
			IsActive:     true,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[models.User]{Body: *user}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        pathPrefix + "/users",
		Summary:     "List users",
		Tags:        tags,
	}, func(ctx context.Context, _ *struct{}) (*Response[UserListBody], error) {
		if _, err := adminSession(ctx); err != nil {
			return nil, err
		}
		users, err := deps.Store.ListUsers(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		return &Response[UserListBody]{Body: UserListBody{Users: users, Count: len(users)}}, nil
	})
}
