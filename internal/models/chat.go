package models

import (
	"time"
)

// MessageStatus represents the delivery/read status of a message from the sender's point of view.
// Valid values: "sent", "delivered", "read".
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// Advance returns the status after moving towards next. Status never moves
// backwards, so an older status is ignored.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// SenderType is the role a participant speaks with.
type SenderType string

const (
	SenderPatient SenderType = "patient"
	SenderDoctor  SenderType = "doctor"
)

func (t SenderType) Valid() bool {
	return t == SenderPatient || t == SenderDoctor
}

// Conversation is the summary document of a patient/doctor thread, keyed by the
// canonical conversation key.
type Conversation struct {
	Key                 string    `json:"key"`
	Participants        []string  `json:"participants"`
	PatientID           string    `json:"patient_id,omitempty"`
	DoctorID            string    `json:"doctor_id,omitempty"`
	Approved            bool      `json:"approved"`
	IsBlocked           bool      `json:"is_blocked"`
	FirstSenderID       string    `json:"first_sender_id,omitempty"`
	PatientMessageCount int       `json:"patient_message_count"`
	LastMessage         string    `json:"last_message,omitempty"`
	LastMessageTime     time.Time `json:"last_message_time,omitempty"`
	LastSenderID        string    `json:"last_sender_id,omitempty"`
	Read                bool      `json:"read"`
	CreatedAt           time.Time `json:"created_at,omitempty"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// HasParticipant reports whether actorID takes part in the conversation.
func (c *Conversation) HasParticipant(actorID string) bool {
	for _, p := range c.Participants {
		if p == actorID {
			return true
		}
	}
	return false
}

// Message is a single entry of a conversation feed. A message carries text,
// an attachment, or both.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	SenderType SenderType    `json:"sender_type"`
	Text       string        `json:"text,omitempty"`
	FileURL    string        `json:"file_url,omitempty"`
	FileType   string        `json:"file_type,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status"`
	ReadAt     *time.Time    `json:"read_at,omitempty"`
}

// HasAttachment reports whether the message carries a file.
func (m *Message) HasAttachment() bool {
	return m.FileURL != ""
}
