package directory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisTopicPrefix = "dir:"

// RedisNotifier carries change signals across instances over Redis Pub/Sub, so
// a write on one instance refreshes subscriptions held by every other one.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, topic string) error {
	if err := n.client.Publish(ctx, redisTopicPrefix+topic, "1").Err(); err != nil {
		return fmt.Errorf("directory: notify %s: %w", topic, err)
	}
	return nil
}

func (n *RedisNotifier) Watch(ctx context.Context, topic string) (<-chan struct{}, error) {
	pubsub := n.client.Subscribe(ctx, redisTopicPrefix+topic)

	// Wait for the subscription confirmation so that a Notify issued right
	// after Watch returns is not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("directory: watch %s: %w", topic, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}
