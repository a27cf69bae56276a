// Package app wires configuration, storage, services, the scheduler and the
// HTTP server into a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autopatch-dev/autopatch/internal/alerts"
	"github.com/autopatch-dev/autopatch/internal/api"
	v0 "github.com/autopatch-dev/autopatch/internal/api/handlers/v0"
	"github.com/autopatch-dev/autopatch/internal/auth"
	"github.com/autopatch-dev/autopatch/internal/config"
	"github.com/autopatch-dev/autopatch/internal/events"
	"github.com/autopatch-dev/autopatch/internal/gate"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
	"github.com/autopatch-dev/autopatch/internal/registry"
	"github.com/autopatch-dev/autopatch/internal/results"
	"github.com/autopatch-dev/autopatch/internal/scheduler"
	"github.com/autopatch-dev/autopatch/internal/store"
	"github.com/autopatch-dev/autopatch/internal/telemetry"
	"github.com/autopatch-dev/autopatch/internal/version"
)

// App runs the AutoPatch API process until it receives SIGINT or SIGTERM.
func App(_ context.Context) error {
	cfg := config.NewConfig()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Storage. DATABASE_URL="noop" runs entirely in memory, for local
	// development without Postgres.
	var st store.Store
	if cfg.DatabaseURL == "noop" {
		log.Warn().Msg("running with in-memory store, state will not survive restarts")
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgreSQL(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		st = pg
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	jwtManager, err := auth.NewJWTManager(cfg.JWTPrivateKey, cfg.TokenDuration)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	if err := seedAdminUser(ctx, st, cfg); err != nil {
		return err
	}

	policy := gate.DefaultPolicy()
	if cfg.ApprovalPolicyFile != "" {
		policy, err = gate.LoadPolicy(cfg.ApprovalPolicyFile)
		if err != nil {
			return fmt.Errorf("failed to load approval policy: %w", err)
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to initialize event publisher: %w", err)
		}
		publisher = natsPublisher
	}
	defer publisher.Close()

	var notifier alerts.Notifier = alerts.NopNotifier{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = alerts.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	}

	shutdownTelemetry, metrics, err := telemetry.InitMetrics(version.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shut down telemetry")
		}
	}()

	reg := registry.New(st, cfg.StalenessThreshold)
	orch := orchestrator.New(st, policy, publisher, notifier, metrics)
	aggregator := results.New(st, orch)

	sched := scheduler.New(st, orch, reg, scheduler.PullDispatcher{}, notifier, metrics, scheduler.Options{
		Interval:     cfg.SchedulerInterval,
		MaxAttempts:  cfg.MaxDispatchAttempts,
		RetryBackoff: cfg.DispatchRetryBackoff,
	})
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go sched.Run(schedCtx)

	log.Info().Str("version", version.Version).Str("commit", version.GitCommit).
		Msg("starting autopatch")

	server := api.NewServer(v0.Deps{
		Config:       cfg,
		Store:        st,
		Registry:     reg,
		Orchestrator: orch,
		Aggregator:   aggregator,
		JWT:          jwtManager,
		Notifier:     notifier,
	}, metrics, &v0.VersionBody{
		Version:   version.Version,
		GitCommit: version.GitCommit,
		BuildTime: version.BuildDate,
	})

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	stopScheduler()
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := server.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	}
	log.Info().Msg("server exiting")
	return nil
}

// seedAdminUser creates the initial admin account when configured and no
// user with that email exists yet.
func seedAdminUser(ctx context.Context, st store.Store, cfg *config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	if _, err := st.GetUserByEmail(ctx, cfg.AdminEmail); err == nil {
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if _, err := st.CreateUser(ctx, &models.User{
		Email:        cfg.AdminEmail,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		IsActive:     true,
	}); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	log.Info().Str("email", cfg.AdminEmail).Msg("seeded admin user")
	return nil
}
