package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events as JSON on a Redis channel for other processes to consume.
type RedisPublisher struct {
	Client  redis.UniversalClient
	Channel string
}

func NewRedisPublisher(opt *redis.Options, channel string) *RedisPublisher {
	return &RedisPublisher{Client: redis.NewClient(opt), Channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Client.Publish(ctx, p.Channel, b).Err()
}

func (p *RedisPublisher) Close() error {
	return p.Client.Close()
}
