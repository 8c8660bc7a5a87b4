package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher hands events to whatever websocket gateway subscribes to the
// Redis channels.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event, channel, err)
	}
	return nil
}
