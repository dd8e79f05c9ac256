// Package redisevents publishes engine lifecycle events to a Redis channel so
// host shells and dashboards can observe runs without polling the ledgers.
package redisevents

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pixeldeck/pixeldeck/internal/core"
)

// DefaultChannel is the pub/sub channel events are published to.
const DefaultChannel = "pixeldeck:events"

// Publisher fans engine events out over Redis pub/sub. Publishing is
// best-effort: a Redis outage is logged and never fails the job that
// produced the event.
type Publisher struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

var _ core.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher on the default channel.
func NewPublisher(client redis.UniversalClient, logger *slog.Logger) *Publisher {
	return NewPublisherWithChannel(client, DefaultChannel, logger)
}

// NewPublisherWithChannel creates a Publisher with a custom channel name.
func NewPublisherWithChannel(client redis.UniversalClient, channel string, logger *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	var l *slog.Logger
	if logger != nil {
		l = logger.With("component", "redis_events")
	}
	return &Publisher{client: client, channel: channel, logger: l}
}

// Publish sends one event. Safe to call on a nil Publisher or without a
// client; both are silent no-ops so callers never need nil checks.
func (p *Publisher) Publish(ctx context.Context, event core.Event) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		if p.logger != nil {
			p.logger.WarnContext(ctx, "encode event", "type", event.Type, "err", err)
		}
		return
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil && p.logger != nil {
		p.logger.WarnContext(ctx, "publish event", "type", event.Type, "err", err)
	}
}
