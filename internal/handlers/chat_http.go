package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
)

// multipartOverhead leaves room for the form boundary and the text field
// around a maximum size attachment.
const multipartOverhead = 1 << 20

var errSameRole = errors.New("conversations are between a patient and a doctor")

// thread is the resolved pair behind /api/conversations/{peerID}.
type thread struct {
	actor *models.Actor
	peer  *models.Actor
	key   string
}

// resolveThread loads both participants before anything is opened. A missing
// session, an unknown peer or two actors of the same role end the request.
func (h *Handler) resolveThread(w http.ResponseWriter, r *http.Request) (*thread, bool) {
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}

	peerID := strings.TrimSpace(chi.URLParam(r, "peerID"))
	if peerID == "" {
		writeError(w, http.StatusBadRequest, chat.ErrMissingParticipant.Error())
		return nil, false
	}
	peer, err := h.peers.Lookup(r.Context(), peerID)
	if errors.Is(err, services.ErrActorNotFound) {
		writeError(w, http.StatusNotFound, "Conversation partner not found")
		return nil, false
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return nil, false
	}
	if peer.Role == actor.Role {
		writeError(w, http.StatusBadRequest, errSameRole.Error())
		return nil, false
	}

	key, err := chat.ResolveKey(actor.ID, peer.ID)
	if err != nil {
		h.writeFailure(w, r, err)
		return nil, false
	}
	return &thread{actor: actor, peer: peer, key: key}, true
}

func (t *thread) patientAndDoctor() (string, string) {
	if t.actor.IsDoctor() {
		return t.peer.ID, t.actor.ID
	}
	return t.actor.ID, t.peer.ID
}

// GetConversation returns the summary and the gate as the current actor sees
// it. A conversation nobody has written to yet has no summary.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}

	conv, err := h.channel.Conversation(r.Context(), t.key)
	if err != nil && !errors.Is(err, chat.ErrConversationNotFound) {
		h.writeFailure(w, r, err)
		return
	}
	gate, err := h.channel.GateFor(r.Context(), t.key, t.actor)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"key":          t.key,
		"peer":         t.peer,
		"conversation": conv,
		"gate":         gate,
		"banner":       chat.BannerFor(gate),
		"input":        chat.InputFor(gate),
		"limit":        h.channel.Limit(),
	})
}

// GetMessages returns one page of the feed, newest first, projected for the
// current actor.
// Query params:
//
//	before    (optional RFC3339 timestamp for pagination)
//	before_id (optional id of the message at before, from next_cursor)
//	limit     (optional, default 50, max 100)
//	tz        (optional IANA zone for day labels, default UTC)
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}

	q := chat.FeedQuery{}
	if lStr := r.URL.Query().Get("limit"); lStr != "" {
		if parsed, err := strconv.Atoi(lStr); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if bStr := r.URL.Query().Get("before"); bStr != "" {
		before, err := time.Parse(time.RFC3339Nano, bStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		q.Before = before
		q.BeforeID = r.URL.Query().Get("before_id")
	}

	msgs, hasMore, err := h.channel.Feed(r.Context(), t.key, q)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	gate, err := h.channel.GateFor(r.Context(), t.key, t.actor)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	view := chat.Project(chat.ProjectInput{
		Messages:     msgs,
		Gate:         gate,
		LocalActorID: t.actor.ID,
		Now:          time.Now(),
		Location:     locationFrom(r),
	})
	body := map[string]interface{}{
		"success":  true,
		"messages": view.Items,
		"banner":   view.Banner,
		"input":    view.Input,
		"gate":     view.Gate,
		"has_more": hasMore,
	}
	if hasMore && len(msgs) > 0 {
		oldest := msgs[len(msgs)-1]
		body["next_cursor"] = map[string]string{
			"before":    oldest.Timestamp.UTC().Format(time.RFC3339Nano),
			"before_id": oldest.ID,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// SendMessage accepts JSON {"text": "..."} or a multipart form with a "file"
// part and an optional "text" field.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}

	payload, cleanup, err := h.readPayload(w, r)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	res, err := h.channel.Send(r.Context(), chat.SendRequest{
		Key:        t.key,
		SenderID:   t.actor.ID,
		ReceiverID: t.peer.ID,
		SenderType: t.actor.Role,
		Payload:    payload,
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success": true,
		"message": "Message sent",
		"data":    res,
		"banner":  chat.BannerFor(res.Gate),
		"input":   chat.InputFor(res.Gate),
	}
	if res.QuotaExhaustedNotice {
		body["notice"] = chat.QuotaExhaustedAlert
	}
	writeJSON(w, http.StatusCreated, body)
}

func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request) (chat.Payload, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
			return chat.Payload{}, nil, chat.ErrEmptyMessage
		}
		return chat.Payload{Text: body.Text}, nil, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return chat.Payload{}, nil, chat.ErrAttachmentTooLarge
		}
		return chat.Payload{}, nil, chat.ErrInvalidAttachment
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	p := chat.Payload{Text: r.FormValue("text")}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return p, cleanup, nil
	}
	if err != nil {
		return p, cleanup, chat.ErrInvalidAttachment
	}
	prev := cleanup
	cleanup = func() {
		file.Close()
		prev()
	}
	p.Attachment = &chat.Attachment{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	return p, cleanup, nil
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}
	if err := h.channel.Delete(r.Context(), t.key, t.actor.ID, chi.URLParam(r, "messageID")); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Message deleted",
	})
}

// MarkRead flips every message the peer sent to read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}
	n, err := h.channel.MarkRead(r.Context(), t.key, t.actor.ID)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"marked":  n,
	})
}

func locationFrom(r *http.Request) *time.Location {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
