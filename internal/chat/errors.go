package chat

import (
	"errors"
)

// Missing prerequisite data. A screen that hits one of these cannot render a chat.
var (
	ErrMissingParticipant = errors.New("both participants are required")
	ErrInvalidActorID     = errors.New("invalid actor id")
	ErrSameParticipant    = errors.New("a conversation needs two different participants")
	ErrKeyMismatch        = errors.New("conversation key does not match participants")
	ErrInvalidSenderType  = errors.New("sender type must be patient or doctor")
)

// Precondition refusals, decided before any write.
var (
	ErrBlocked            = errors.New("conversation is blocked")
	ErrAwaitingApproval   = errors.New("message limit reached, waiting for doctor approval")
	ErrEmptyMessage       = errors.New("message must carry text or an attachment")
	ErrAttachmentTooLarge = errors.New("attachment exceeds the size limit")
	ErrInvalidAttachment  = errors.New("attachment has no content")
	ErrSendInProgress     = errors.New("a message is already being sent")
)

// Lookup and permission failures.
var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrMessageNotFound       = errors.New("message not found")
	ErrNotMessageOwner       = errors.New("only the author can delete a message")
	ErrNotParticipant        = errors.New("actor is not a participant of this conversation")
	ErrNotConversationDoctor = errors.New("only the conversation's doctor can do this")
)

// Transient failures.
var (
	ErrUploadFailed = errors.New("attachment upload failed")
	ErrContended    = errors.New("conversation changed concurrently, try again")
)

// IsRefusal reports whether err is a precondition refusal: nothing was written
// and the user only needs to see the notice.
func IsRefusal(err error) bool {
	return errors.Is(err, ErrBlocked) ||
		errors.Is(err, ErrAwaitingApproval) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrAttachmentTooLarge) ||
		errors.Is(err, ErrInvalidAttachment) ||
		errors.Is(err, ErrSendInProgress)
}

// IsMissingPrerequisite reports whether err means the conversation cannot be
// opened at all.
func IsMissingPrerequisite(err error) bool {
	return errors.Is(err, ErrMissingParticipant) ||
		errors.Is(err, ErrInvalidActorID) ||
		errors.Is(err, ErrSameParticipant) ||
		errors.Is(err, ErrKeyMismatch) ||
		errors.Is(err, ErrInvalidSenderType)
}
