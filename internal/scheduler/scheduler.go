// Package scheduler periodically promotes due SCHEDULED jobs to DISPATCHED
// and watches server liveness. Dispatch order is deterministic: earliest
// scheduled time first (unscheduled jobs before all scheduled ones), ties
// broken by ascending job id.
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autopatch-dev/autopatch/internal/alerts"
	"github.com/autopatch-dev/autopatch/internal/models"
	"github.com/autopatch-dev/autopatch/internal/orchestrator"
	"github.com/autopatch-dev/autopatch/internal/registry"
	"github.com/autopatch-dev/autopatch/internal/store"
	"github.com/autopatch-dev/autopatch/internal/telemetry"
)

// Dispatcher delivers a dispatched job toward its agent. Errors wrapping
// models.ErrTransientDispatch are retried with backoff; any other error
// fails the job immediately.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
}

// PullDispatcher is the default delivery mode: agents poll for work, so
// marking the job DISPATCHED already makes it visible and delivery always
// succeeds.
type PullDispatcher struct{}

func (PullDispatcher) Dispatch(context.Context, *models.Job) error { return nil }

type retryState struct {
	attempts int
	nextTry  time.Time
	lastErr  error
}

// Options configure the scheduler loop.
type Options struct {
	Interval     time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Scheduler is the single background promoter of due jobs. At-most-once
// dispatch is guaranteed by the orchestrator's SCHEDULED -> DISPATCHED
// transition, not by this loop.
type Scheduler struct {
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	registry     *registry.Registry
	dispatcher   Dispatcher
	notifier     alerts.Notifier
	metrics      *telemetry.Metrics
	opts         Options

	retries map[int64]*retryState
	alerted map[int64]bool
}

// New creates a scheduler.
func New(st store.Store, orch *orchestrator.Orchestrator, reg *registry.Registry, dispatcher Dispatcher, notifier alerts.Notifier, metrics *telemetry.Metrics, opts Options) *Scheduler {
	return &Scheduler{
		store:        st,
		orchestrator: orch,
		registry:     reg,
		dispatcher:   dispatcher,
		notifier:     notifier,
		metrics:      metrics,
		opts:         opts,
		retries:      make(map[int64]*retryState),
		alerted:      make(map[int64]bool),
	}
}

// Run executes ticks at the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Tick(ctx, time.Now().UTC()); err != nil {
				log.Error().Err(err).Msg("scheduler tick failed")
			}
		}
	}
}

// Tick runs one scheduling pass at the given instant: promote due jobs,
// drive pending dispatch retries, then sweep for servers that went offline.
// Exported so tests can drive the scheduler deterministically.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	if err := s.promoteDue(ctx, now); err != nil {
		return err
	}
	s.driveRetries(ctx, now)
	s.sweepOffline(ctx)
	return nil
}

func (s *Scheduler) promoteDue(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDueJobs(ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due jobs")
	}

	for _, job := range due {
		claimed, err := s.orchestrator.Claim(ctx, job.ID)
		if err != nil {
			// Lost the claim or the job moved since listing; not this
			// loop's problem.
			if errors.Is(err, models.ErrInvalidState) || errors.Is(err, models.ErrNotFound) {
				continue
			}
			log.Error().Err(err).Int64("job_id", job.ID).Msg("failed to claim due job")
			continue
		}
		s.attemptDispatch(ctx, claimed, now)
	}
	return nil
}

func (s *Scheduler) driveRetries(ctx context.Context, now time.Time) {
	for jobID, state := range s.retries {
		if state.nextTry.After(now) {
			continue
		}
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil || job.Status != models.JobStatusDispatched {
			// Picked up by the agent or gone; nothing left to deliver.
			delete(s.retries, jobID)
			continue
		}
		s.attemptDispatch(ctx, job, now)
	}
}

func (s *Scheduler) attemptDispatch(ctx context.Context, job *models.Job, now time.Time) {
	err := s.dispatcher.Dispatch(ctx, job)
	if err == nil {
		delete(s.retries, job.ID)
		return
	}

	if !errors.Is(err, models.ErrTransientDispatch) {
		log.Error().Err(err).Int64("job_id", job.ID).Msg("dispatch failed permanently")
		s.failDispatch(ctx, job.ID, err)
		return
	}

	state, ok := s.retries[job.ID]
	if !ok {
		state = &retryState{}
		s.retries[job.ID] = state
	}
	state.attempts++
	state.lastErr = err
	if state.attempts >= s.opts.MaxAttempts {
		log.Warn().Err(err).Int64("job_id", job.ID).Int("attempts", state.attempts).
			Msg("dispatch retries exhausted")
		s.failDispatch(ctx, job.ID, err)
		return
	}

	// Exponential backoff: base, 2x, 4x, ...
	backoff := s.opts.RetryBackoff << (state.attempts - 1)
	state.nextTry = now.Add(backoff)
	if s.metrics != nil {
		s.metrics.DispatchRetries.Add(ctx, 1)
	}
	log.Warn().Err(err).Int64("job_id", job.ID).Int("attempt", state.attempts).
		Dur("backoff", backoff).Msg("dispatch failed, will retry")
}

func (s *Scheduler) failDispatch(ctx context.Context, jobID int64, lastErr error) {
	delete(s.retries, jobID)
	if _, err := s.orchestrator.FailDispatch(ctx, jobID, lastErr); err != nil {
		log.Error().Err(err).Int64("job_id", jobID).Msg("failed to fail dispatched job")
	}
}

// sweepOffline raises an edge-triggered alert when a server transitions to
// offline and clears it when the server comes back.
func (s *Scheduler) sweepOffline(ctx context.Context) {
	summaries, err := s.registry.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list servers for offline sweep")
		return
	}
	for _, summary := range summaries {
		if summary.Status == models.ServerStatusOffline {
			if !s.alerted[summary.ID] {
				s.alerted[summary.ID] = true
				message := "server " + summary.Hostname + " (" + summary.IP + ") is offline"
				s.notifier.Notify(ctx, message)
				log.Warn().Int64("server_id", summary.ID).Str("hostname", summary.Hostname).
					Msg("server offline")
			}
			continue
		}
		delete(s.alerted, summary.ID)
	}
}
