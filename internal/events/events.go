// Package events publishes job lifecycle transitions for downstream
// consumers (dashboards, notification fanout).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/autopatch-dev/autopatch/internal/models"
)

// JobTransition is the payload emitted on every accepted job transition.
type JobTransition struct {
	JobID    int64            `json:"job_id"`
	ServerID int64            `json:"server_id"`
	JobType  models.JobType   `json:"job_type"`
	From     models.JobStatus `json:"from"`
	To       models.JobStatus `json:"to"`
	Actor    string           `json:"actor"`
	At       time.Time        `json:"at"`
}

// Publisher emits lifecycle events. Publishing is best effort: a failed
// publish never rolls back the transition that produced it.
type Publisher interface {
	PublishTransition(ctx context.Context, event JobTransition)
	Close()
}

// NATSPublisher publishes transitions to a NATS subject per target status,
// e.g. autopatch.jobs.scheduled.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher connects to the broker with unlimited reconnects.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("autopatch-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) PublishTransition(_ context.Context, event JobTransition) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Int64("job_id", event.JobID).Msg("failed to encode job event")
		return
	}
	subject := fmt.Sprintf("autopatch.jobs.%s", event.To)
	if err := p.nc.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Int64("job_id", event.JobID).
			Msg("failed to publish job event")
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// NopPublisher drops all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishTransition(context.Context, JobTransition) {}
func (NopPublisher) Close()                                          {}
