// Package adapters connects the engine's outbound collaborator interfaces
// to concrete infrastructure.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkwell-hq/audience-engine/pkg/retry"
	"github.com/inkwell-hq/audience-engine/pkg/services"
)

// RedisAutomationDispatcher publishes automation events to Redis pub/sub.
// Each action type gets its own channel ("<prefix>:<action_type>"), so
// automation workers subscribe only to the actions they execute.
type RedisAutomationDispatcher struct {
	client        *redis.Client
	channelPrefix string
	retryCfg      *retry.Config
	logger        *zap.Logger
}

// NewRedisAutomationDispatcher creates a dispatcher publishing on client.
func NewRedisAutomationDispatcher(client *redis.Client, channelPrefix string, logger *zap.Logger) *RedisAutomationDispatcher {
	return &RedisAutomationDispatcher{
		client:        client,
		channelPrefix: channelPrefix,
		retryCfg:      retry.DefaultConfig(),
		logger:        logger.Named("automation-dispatch"),
	}
}

var _ services.AutomationDispatcher = (*RedisAutomationDispatcher)(nil)

// Dispatch publishes the event as JSON, retrying transient Redis failures
// with backoff before giving up.
func (d *RedisAutomationDispatcher) Dispatch(ctx context.Context, event *services.AutomationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal automation event: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", d.channelPrefix, event.ActionType)
	err = retry.Do(ctx, d.retryCfg, func() error {
		return d.client.Publish(ctx, channel, payload).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to publish automation event: %w", err)
	}

	d.logger.Debug("Published automation event",
		zap.String("channel", channel),
		zap.String("person_id", event.PersonID.String()))

	return nil
}
