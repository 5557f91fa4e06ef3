package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionDuration is 7 days
	SessionDuration = 7 * 24 * time.Hour
	// SessionKeyPrefix is the Redis key prefix for sessions
	SessionKeyPrefix = "session:"
	// ActorSessionKeyPrefix maps an actor to its current session token
	ActorSessionKeyPrefix = "actor_session:"
)

// SessionStore keeps bearer tokens in Redis. One actor has at most one live
// session; signing in again replaces it.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

// Create issues a new token for actorID, invalidating the previous one so the
// 7-day timer restarts from this sign-in.
func (s *SessionStore) Create(ctx context.Context, actorID uuid.UUID) (string, error) {
	if err := s.InvalidateActor(ctx, actorID); err != nil {
		return "", err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, SessionKeyPrefix+token, actorID.String(), SessionDuration)
	pipe.Set(ctx, ActorSessionKeyPrefix+actorID.String(), token, SessionDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate returns the actor a token belongs to. ok is false for unknown or
// expired tokens.
func (s *SessionStore) Validate(ctx context.Context, token string) (uuid.UUID, bool, error) {
	if token == "" {
		return uuid.Nil, false, nil
	}

	raw, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	actorID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, err
	}
	return actorID, true, nil
}

// Invalidate removes a session.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	raw, err := s.client.Get(ctx, SessionKeyPrefix+token).Result()
	if err == nil && raw != "" {
		s.client.Del(ctx, ActorSessionKeyPrefix+raw)
	}
	return s.client.Del(ctx, SessionKeyPrefix+token).Err()
}

// InvalidateActor removes whatever session actorID currently holds.
func (s *SessionStore) InvalidateActor(ctx context.Context, actorID uuid.UUID) error {
	key := ActorSessionKeyPrefix + actorID.String()

	token, err := s.client.Get(ctx, key).Result()
	if err == nil && token != "" {
		s.client.Del(ctx, SessionKeyPrefix+token)
	}
	return s.client.Del(ctx, key).Err()
}
