package services

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

// ChatMetrics exports conversation engine counters. It implements chat.Recorder.
type ChatMetrics struct {
	messagesSent   *prometheus.CounterVec
	sendsRefused   *prometheus.CounterVec
	quotaExhausted prometheus.Counter
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	f := promauto.With(reg)
	return &ChatMetrics{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_messages_sent_total",
				Help: "Messages appended to conversations",
			},
			[]string{"sender_type", "attachment"},
		),
		sendsRefused: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_sends_refused_total",
				Help: "Send attempts refused before any write",
			},
			[]string{"reason"},
		),
		quotaExhausted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chat_quota_exhausted_total",
				Help: "Patient sends that used up the unapproved message quota",
			},
		),
	}
}

func (m *ChatMetrics) MessageSent(senderType models.SenderType, attachment bool) {
	m.messagesSent.WithLabelValues(string(senderType), strconv.FormatBool(attachment)).Inc()
}

func (m *ChatMetrics) SendRefused(err error) {
	m.sendsRefused.WithLabelValues(refusalReason(err)).Inc()
}

func (m *ChatMetrics) QuotaExhausted() {
	m.quotaExhausted.Inc()
}

func refusalReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrBlocked):
		return "blocked"
	case errors.Is(err, chat.ErrAwaitingApproval):
		return "awaiting_approval"
	case errors.Is(err, chat.ErrAttachmentTooLarge):
		return "attachment_too_large"
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidAttachment):
		return "invalid_payload"
	case errors.Is(err, chat.ErrSendInProgress):
		return "send_in_progress"
	}
	return "other"
}
