package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/pkg/logger"
)

const (
	wsReadLimit    = 64 * 1024
	wsReadTimeout  = 90 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Frame types exchanged on the conversation socket.
const (
	FrameMessage    = "message"
	FrameRead       = "read"
	FrameDelete     = "delete"
	FramePing       = "ping"
	FramePong       = "pong"
	FrameView       = "view"
	FrameMessageAck = "message_ack"
	FrameNotice     = "notice"
	FrameError      = "error"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// ClientFrame is what the app sends over the socket.
type ClientFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ServerFrame is what the socket pushes to the app.
type ServerFrame struct {
	Type   string           `json:"type"`
	View   *chat.View       `json:"view,omitempty"`
	Result *chat.SendResult `json:"result,omitempty"`
	Marked int              `json:"marked,omitempty"`
	Text   string           `json:"text,omitempty"`
	Error  string           `json:"error,omitempty"`
	Status int              `json:"status,omitempty"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(f ServerFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(f)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// ConversationSocket streams the live view of one conversation and accepts
// sends, read receipts and deletes. Attachments go through the HTTP endpoint.
// Query params: token (session, when no Authorization header), tz.
func (h *Handler) ConversationSocket(w http.ResponseWriter, r *http.Request) {
	t, ok := h.resolveThread(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := h.channel.Open(ctx, t.actor, t.peer.ID, locationFrom(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	defer session.Close()

	raw, err := chatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	log := logger.WithActor(h.log.With().Str("conversation", t.key).Logger(), t.actor.ID)
	log.Debug().Msg("conversation socket opened")
	h.heartbeat(ctx, t.actor.ID, log)

	// Writer: push every new view, and keep the connection alive.
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case v, ok := <-session.Views():
				if !ok {
					return
				}
				if err := conn.write(ServerFrame{Type: FrameView, View: &v}); err != nil {
					cancel()
					return
				}
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	raw.SetReadLimit(wsReadLimit)
	_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
		h.heartbeat(ctx, t.actor.ID, log)
		return nil
	})

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			// Presence expires on its own after the TTL.
			log.Debug().Err(err).Msg("conversation socket closed")
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		var reply []ServerFrame
		switch frame.Type {
		case FrameMessage:
			reply = h.socketSend(ctx, session, t.actor.ID, frame, log)
		case FrameRead:
			n, err := session.Acknowledge(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("mark read failed")
				continue
			}
			reply = []ServerFrame{{Type: FrameRead, Marked: n}}
		case FrameDelete:
			if err := session.Delete(ctx, frame.MessageID); err != nil {
				reply = []ServerFrame{errorFrame(err)}
			}
		case FramePing:
			h.heartbeat(ctx, t.actor.ID, log)
			reply = []ServerFrame{{Type: FramePong}}
		default:
			// Ignore unknown types
		}

		for _, f := range reply {
			if err := conn.write(f); err != nil {
				return
			}
		}
	}
}

func (h *Handler) socketSend(ctx context.Context, s *chat.Session, actorID string, frame ClientFrame, log zerolog.Logger) []ServerFrame {
	if !h.limiter.Allow(actorID) {
		return []ServerFrame{errorFrame(middleware.ErrSendRateLimited)}
	}
	res, err := s.Send(ctx, chat.Payload{Text: frame.Text})
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("socket send failed")
		}
		return []ServerFrame{errorFrame(err)}
	}
	out := []ServerFrame{{Type: FrameMessageAck, Result: res}}
	if res.QuotaExhaustedNotice {
		out = append(out, ServerFrame{Type: FrameNotice, Text: chat.QuotaExhaustedAlert})
	}
	return out
}

func (h *Handler) heartbeat(ctx context.Context, actorID string, log zerolog.Logger) {
	if h.presence == nil {
		return
	}
	if err := h.presence.SetOnline(ctx, actorID); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("presence heartbeat failed")
	}
}

func errorFrame(err error) ServerFrame {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	return ServerFrame{Type: FrameError, Error: msg, Status: status}
}
