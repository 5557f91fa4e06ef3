package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/pkg/utils"
)

const (
	MinPasswordLength = 8
	actorCacheTTL     = 10 * time.Minute

	pqUniqueViolation = "23505"
)

var (
	ErrActorNotFound      = errors.New("actor not found")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidRole        = errors.New("role must be patient or doctor")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

// ActorService reads and writes the actors table. Lookups by id go through
// the Redis cache since every authenticated request resolves its actor.
type ActorService struct {
	db    *sql.DB
	cache *CacheService
}

func NewActorService(db *sql.DB, cache *CacheService) *ActorService {
	return &ActorService{db: db, cache: cache}
}

type RegisterInput struct {
	Username    string
	DisplayName string
	Role        models.SenderType
	Password    string
}

func (s *ActorService) Register(ctx context.Context, in RegisterInput) (*models.Actor, error) {
	if err := utils.ValidateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := utils.ValidateDisplayName(in.DisplayName); err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	if len(in.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	username := utils.NormalizeUsername(in.Username)
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	a := &models.Actor{DisplayName: displayName, Role: in.Role}
	var id uuid.UUID
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO actors (username, display_name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, username, displayName, string(in.Role), hash).Scan(&id, &a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert actor: %w", err)
	}
	a.ID = id.String()
	return a, nil
}

// Authenticate checks a username/password pair.
func (s *ActorService) Authenticate(ctx context.Context, username, password string) (*models.Actor, error) {
	var (
		id   uuid.UUID
		role string
		hash string
		a    models.Actor
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, password_hash, created_at
		FROM actors WHERE LOWER(username) = $1 AND is_active = TRUE
	`, utils.NormalizeUsername(username)).Scan(&id, &a.DisplayName, &role, &hash, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}

	ok, err := utils.VerifyPassword(password, hash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	a.ID = id.String()
	a.Role = models.SenderType(role)
	return &a, nil
}

// GetByID returns an active actor.
func (s *ActorService) GetByID(ctx context.Context, actorID string) (*models.Actor, error) {
	parsed, err := uuid.Parse(actorID)
	if err != nil {
		return nil, ErrActorNotFound
	}

	cacheKey := CacheKey("actor", parsed.String())
	var cached models.Actor
	if found, _ := s.cache.Get(ctx, cacheKey, &cached); found {
		return &cached, nil
	}

	var (
		a    models.Actor
		role string
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT display_name, role, created_at
		FROM actors WHERE id = $1 AND is_active = TRUE
	`, parsed).Scan(&a.DisplayName, &role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load actor %s: %w", actorID, err)
	}
	a.ID = parsed.String()
	a.Role = models.SenderType(role)

	_ = s.cache.SetWithTTL(ctx, cacheKey, a, actorCacheTTL)
	return &a, nil
}
