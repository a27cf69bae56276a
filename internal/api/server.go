// Package api hosts the HTTP server and middleware stack.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v0 "github.com/autopatch-dev/autopatch/internal/api/handlers/v0"
	"github.com/autopatch-dev/autopatch/internal/api/router"
	"github.com/autopatch-dev/autopatch/internal/telemetry"
)

// Server is the HTTP front end.
type Server struct {
	humaAPI huma.API
	mux     *http.ServeMux
	server  *http.Server
	addr    string
}

// NewServer builds the server with its full middleware stack.
func NewServer(deps v0.Deps, metrics *telemetry.Metrics, versionInfo *v0.VersionBody) *Server {
	mux := http.NewServeMux()
	api := router.NewHumaAPI(deps, mux, metrics, versionInfo)

	allowedOrigins := []string{"*"}
	allowCredentials := false
	if deps.Config.FrontendOrigin != "" {
		allowedOrigins = []string{deps.Config.FrontendOrigin}
		allowCredentials = true
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Type", "Content-Length"},
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	})

	return &Server{
		humaAPI: api,
		mux:     mux,
		addr:    deps.Config.ServerAddress,
		server: &http.Server{
			Addr:              deps.Config.ServerAddress,
			Handler:           corsHandler.Handler(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// HumaAPI returns the Huma API instance for additional route registration.
func (s *Server) HumaAPI() huma.API {
	return s.humaAPI
}

// Mux returns the underlying mux for custom HTTP handlers.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("http server starting")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
