package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
)

type SignupRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	Password    string `json:"password"`
}

type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Signup registers a patient or doctor and signs them in.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "Username, password, and role are required")
		return
	}

	actor, err := h.accounts.Register(r.Context(), services.RegisterInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Role:        models.SenderType(req.Role),
		Password:    req.Password,
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.issueSession(w, r, actor, http.StatusCreated, "Account created")
}

// Signin checks credentials and returns a fresh session token. Signing in
// again replaces the previous session.
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	actor, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.issueSession(w, r, actor, http.StatusOK, "Signed in")
}

func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Invalidate(r.Context(), middleware.BearerToken(r)); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Signed out",
	})
}

// Me returns the actor behind the session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"actor":   middleware.ActorFromContext(r.Context()),
	})
}

func (h *Handler) issueSession(w http.ResponseWriter, r *http.Request, actor *models.Actor, status int, message string) {
	id, err := uuid.Parse(actor.ID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	token, err := h.sessions.Create(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.log.Info().Str("actor_id", actor.ID).Str("role", string(actor.Role)).Msg("session issued")
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"message": message,
		"actor":   actor,
		"token":   token,
	})
}
