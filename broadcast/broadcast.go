// Package broadcast pushes completed events to live clients over
// per-user pub/sub channels. Broadcasts are advisory: a client that
// misses one catches up from the log, so senders never retry and never
// block the executor that fired them.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/executor"
)

// Channel returns the pub/sub channel for one user's events.
func Channel(userID string) string {
	return "spindle:user:" + userID
}

// Redis broadcasts events over Redis pub/sub. Messages are event
// envelopes, the same wire shape webhook consumers see.
type Redis struct {
	rdb    goredis.UniversalClient
	logger *slog.Logger
}

// NewRedis creates a Redis broadcaster.
func NewRedis(rdb goredis.UniversalClient, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}

	return &Redis{rdb: rdb, logger: logger}
}

// Send publishes the event on the user's channel.
func (b *Redis) Send(ctx context.Context, userID string, evt *eventlog.Event) error {
	payload, err := dispatch.NewEnvelope(evt).Encode()
	if err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	if err := b.rdb.Publish(ctx, Channel(userID), payload).Err(); err != nil {
		return fmt.Errorf("broadcast: publish: %w", err)
	}

	b.logger.DebugContext(ctx, "event broadcast",
		"user_id", userID,
		"event_id", evt.ID,
		"type", evt.Type,
	)

	return nil
}

// Noop discards every broadcast. Use it when no live client transport is
// deployed.
type Noop struct{}

// Send implements the executor broadcast port by doing nothing.
func (Noop) Send(context.Context, string, *eventlog.Event) error {
	return nil
}

var (
	_ executor.Broadcaster = (*Redis)(nil)
	_ executor.Broadcaster = Noop{}
)
