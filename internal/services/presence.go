package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const PresenceKeyPrefix = "presence:"

// Presence tracks which actors have a live connection. A heartbeat refreshes
// the key; an actor whose key expired is offline.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) SetOnline(ctx context.Context, actorID string) error {
	return p.client.Set(ctx, PresenceKeyPrefix+actorID, "1", p.ttl).Err()
}

func (p *Presence) SetOffline(ctx context.Context, actorID string) error {
	return p.client.Del(ctx, PresenceKeyPrefix+actorID).Err()
}

func (p *Presence) IsOnline(ctx context.Context, actorID string) (bool, error) {
	n, err := p.client.Exists(ctx, PresenceKeyPrefix+actorID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
