package chat

import (
	"github.com/AnshRaj112/medconsult-backend/internal/directory"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

const conversationsCollection = "conversations"

// Conversation document fields.
const (
	fieldParticipants        = "participants"
	fieldPatientID           = "patientId"
	fieldDoctorID            = "doctorId"
	fieldApproved            = "approved"
	fieldIsBlocked           = "isBlocked"
	fieldFirstSenderID       = "firstSenderId"
	fieldPatientMessageCount = "patientMessageCount"
	fieldLastMessage         = "lastMessage"
	fieldLastMessageTime     = "lastMessageTime"
	fieldLastSenderID        = "lastSenderId"
	fieldRead                = "read"
	fieldCreatedAt           = "createdAt"
	fieldUpdatedAt           = "updatedAt"
)

// Message document fields.
const (
	fieldSenderID   = "senderId"
	fieldReceiverID = "receiverId"
	fieldSenderType = "senderType"
	fieldText       = "text"
	fieldFileURL    = "fileUrl"
	fieldFileType   = "fileType"
	fieldTimestamp  = "timestamp"
	fieldStatus     = "status"
	fieldReadAt     = "readAt"
)

func conversationPath(key string) string {
	return directory.Join(conversationsCollection, key)
}

func messagesPath(key string) string {
	return directory.Join(conversationsCollection, key, "messages")
}

func messagePath(key, id string) string {
	return directory.Join(conversationsCollection, key, "messages", id)
}

func conversationFromDoc(d directory.Document) *models.Conversation {
	if !d.Exists {
		return nil
	}
	return &models.Conversation{
		Key:                 d.ID,
		Participants:        d.Strings(fieldParticipants),
		PatientID:           d.String(fieldPatientID),
		DoctorID:            d.String(fieldDoctorID),
		Approved:            d.Bool(fieldApproved),
		IsBlocked:           d.Bool(fieldIsBlocked),
		FirstSenderID:       d.String(fieldFirstSenderID),
		PatientMessageCount: int(d.Int(fieldPatientMessageCount)),
		LastMessage:         d.String(fieldLastMessage),
		LastMessageTime:     d.Time(fieldLastMessageTime),
		LastSenderID:        d.String(fieldLastSenderID),
		Read:                d.Bool(fieldRead),
		CreatedAt:           d.Time(fieldCreatedAt),
		UpdatedAt:           d.Time(fieldUpdatedAt),
	}
}

func messageFromDoc(d directory.Document) models.Message {
	m := models.Message{
		ID:         d.ID,
		SenderID:   d.String(fieldSenderID),
		ReceiverID: d.String(fieldReceiverID),
		SenderType: models.SenderType(d.String(fieldSenderType)),
		Text:       d.String(fieldText),
		FileURL:    d.String(fieldFileURL),
		FileType:   d.String(fieldFileType),
		Timestamp:  d.Time(fieldTimestamp),
		Status:     models.MessageStatus(d.String(fieldStatus)),
	}
	if t := d.Time(fieldReadAt); !t.IsZero() {
		m.ReadAt = &t
	}
	return m
}

func messagesFromDocs(docs []directory.Document) []models.Message {
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, messageFromDoc(d))
	}
	return out
}
