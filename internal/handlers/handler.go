package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/directory"
	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
	"github.com/AnshRaj112/medconsult-backend/pkg/utils"
)

// Accounts creates and checks patient and doctor accounts.
type Accounts interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.Actor, error)
	Authenticate(ctx context.Context, username, password string) (*models.Actor, error)
}

// Sessions issues and revokes bearer tokens.
type Sessions interface {
	Create(ctx context.Context, actorID uuid.UUID) (string, error)
	Invalidate(ctx context.Context, token string) error
}

// Peers looks up the other participant of a conversation.
type Peers interface {
	Lookup(ctx context.Context, actorID string) (*models.Actor, error)
}

// Heartbeat marks an actor as connected for one presence TTL.
type Heartbeat interface {
	SetOnline(ctx context.Context, actorID string) error
}

type Deps struct {
	Channel            *chat.Channel
	Accounts           Accounts
	Sessions           Sessions
	Peers              Peers
	Presence           Heartbeat
	SendLimiter        *middleware.SendLimiter
	MaxAttachmentBytes int64
	Logger             zerolog.Logger
}

// Handler serves the conversation API. Every route except sign-up and
// sign-in expects middleware.RequireActor in front of it.
type Handler struct {
	channel  *chat.Channel
	accounts Accounts
	sessions Sessions
	peers    Peers
	presence Heartbeat
	limiter  *middleware.SendLimiter
	maxBytes int64
	log      zerolog.Logger
}

func New(d Deps) *Handler {
	maxBytes := d.MaxAttachmentBytes
	if maxBytes <= 0 {
		maxBytes = chat.DefaultMaxAttachmentBytes
	}
	return &Handler{
		channel:  d.Channel,
		accounts: d.Accounts,
		sessions: d.Sessions,
		peers:    d.Peers,
		presence: d.Presence,
		limiter:  d.SendLimiter,
		maxBytes: maxBytes,
		log:      d.Logger,
	}
}

// SendLimiter is the per-actor send limiter shared by the send route and the
// socket. Nil means unlimited.
func (h *Handler) SendLimiter() *middleware.SendLimiter {
	return h.limiter
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// writeFailure maps a domain error onto a status code. Refusals and missing
// data carry their own text; anything else is logged and hidden.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusBadGateway {
			writeError(w, status, chat.ErrUploadFailed.Error())
			return
		}
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var validation *utils.ValidationError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge), errors.Is(err, chat.ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge
	case chat.IsMissingPrerequisite(err),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidAttachment),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials), errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrBlocked),
		errors.Is(err, chat.ErrAwaitingApproval),
		errors.Is(err, chat.ErrNotParticipant),
		errors.Is(err, chat.ErrNotMessageOwner),
		errors.Is(err, chat.ErrNotConversationDoctor):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, directory.ErrNotFound),
		errors.Is(err, services.ErrActorNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrSendInProgress),
		errors.Is(err, chat.ErrContended),
		errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, chat.ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, middleware.ErrSendRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
