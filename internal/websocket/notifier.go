package websocket

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Notifier fans attempt changes out over Redis PubSub so every open stream
// of the same attempt, on any instance, can resync.
type Notifier struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(rdb *redis.Client, log zerolog.Logger) *Notifier {
	return &Notifier{
		rdb: rdb,
		log: log.With().Str("component", "attempt_notifier").Logger(),
	}
}

// AttemptChanged publishes the saved attempt. Failures are logged only.
func (n *Notifier) AttemptChanged(ctx context.Context, a *model.Attempt) {
	payload, err := json.Marshal(a)
	if err != nil {
		n.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to encode attempt change")
		return
	}
	channel := config.CacheKey.AttemptStreamChannel(a.ID.String())
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		n.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to publish attempt change")
	}
}

// Subscribe opens the change channel of one attempt.
func (n *Notifier) Subscribe(ctx context.Context, attemptID string) *redis.PubSub {
	return n.rdb.Subscribe(ctx, config.CacheKey.AttemptStreamChannel(attemptID))
}
