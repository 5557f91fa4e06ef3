package services

import (
	"context"
	"errors"

	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

var ErrUnauthenticated = errors.New("no valid session")

// Identity resolves the acting participant of a request: the session token
// names the actor, the actors table supplies the profile and Redis presence
// the online flag.
type Identity struct {
	sessions *SessionStore
	actors   *ActorService
	presence *Presence
}

func NewIdentity(sessions *SessionStore, actors *ActorService, presence *Presence) *Identity {
	return &Identity{sessions: sessions, actors: actors, presence: presence}
}

func (i *Identity) CurrentActor(ctx context.Context, token string) (*models.Actor, error) {
	actorID, ok, err := i.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthenticated
	}

	actor, err := i.actors.GetByID(ctx, actorID.String())
	if errors.Is(err, ErrActorNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}

	if i.presence != nil {
		online, err := i.presence.IsOnline(ctx, actor.ID)
		if err == nil {
			actor.PresenceOnline = online
		}
	}
	return actor, nil
}

// Lookup returns another actor's profile, e.g. a conversation counterpart.
func (i *Identity) Lookup(ctx context.Context, actorID string) (*models.Actor, error) {
	return i.actors.GetByID(ctx, actorID)
}
