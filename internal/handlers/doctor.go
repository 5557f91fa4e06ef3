package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
)

type ApprovalRequest struct {
	Approved *bool `json:"approved"`
}

type BlockRequest struct {
	Blocked *bool `json:"blocked"`
}

// SetApproval lets the doctor approve (or revoke) the patient's unlimited
// messaging. The patient's counter stays where it is.
func (h *Handler) SetApproval(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}
	if !t.actor.IsDoctor() {
		writeError(w, http.StatusForbidden, chat.ErrNotConversationDoctor.Error())
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		writeError(w, http.StatusBadRequest, "approved is required")
		return
	}

	conv, err := h.channel.SetApproval(r.Context(), t.key, t.actor.ID, *req.Approved)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	msg := "Conversation approved"
	if !*req.Approved {
		msg = "Approval revoked"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      msg,
		"conversation": conv,
	})
}

// SetBlocked blocks or unblocks the patient. Blocking wins over approval.
func (h *Handler) SetBlocked(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}
	if !t.actor.IsDoctor() {
		writeError(w, http.StatusForbidden, chat.ErrNotConversationDoctor.Error())
		return
	}

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Blocked == nil {
		writeError(w, http.StatusBadRequest, "blocked is required")
		return
	}

	conv, err := h.channel.SetBlocked(r.Context(), t.key, t.actor.ID, *req.Blocked)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	msg := "Patient blocked"
	if !*req.Blocked {
		msg = "Patient unblocked"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      msg,
		"conversation": conv,
	})
}
