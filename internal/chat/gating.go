package chat

import (
	"fmt"

	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

// State is the gating state of a conversation as seen by one sender. It is
// derived from the stored conversation on every render and send attempt.
type State string

const (
	// StateBlocked: the doctor blocked the thread; the patient cannot send.
	StateBlocked State = "BLOCKED"
	// StateExempt: the doctor sent first; the patient is never throttled.
	StateExempt State = "EXEMPT"
	// StateLimited: unapproved, quota left.
	StateLimited State = "LIMITED"
	// StateExhausted: unapproved, quota used up.
	StateExhausted State = "EXHAUSTED"
	// StateUnlimited: approved by the doctor.
	StateUnlimited State = "UNLIMITED"
	// StateDoctor: the doctor's own side, which gating never applies to.
	StateDoctor State = "DOCTOR"
)

// DefaultUnapprovedLimit is how many messages an unapproved patient may send.
const DefaultUnapprovedLimit = 2

type Gate struct {
	State State `json:"state"`
	Sent  int   `json:"sent"`
	Limit int   `json:"limit"`
}

// Remaining is the quota left in StateLimited and 0 otherwise.
func (g Gate) Remaining() int {
	if g.State != StateLimited {
		return 0
	}
	return g.Limit - g.Sent
}

// CanSend reports whether the next message or attachment is allowed. Banner
// and input affordance both derive from it.
func (g Gate) CanSend() bool {
	return g.State != StateBlocked && g.State != StateExhausted
}

func (g Gate) String() string {
	if g.State == StateLimited {
		return fmt.Sprintf("%s(%d)", g.State, g.Sent)
	}
	return string(g.State)
}

// Err returns the refusal matching a gate that cannot send.
func (g Gate) Err() error {
	switch g.State {
	case StateBlocked:
		return ErrBlocked
	case StateExhausted:
		return ErrAwaitingApproval
	}
	return nil
}

// Evaluate derives the gate for a sender. conv may be nil when the
// conversation does not exist yet. doctorID is the conversation's doctor; it
// decides whether the doctor opened the thread.
func Evaluate(conv *models.Conversation, sender models.SenderType, doctorID string, limit int) Gate {
	if limit < 1 {
		limit = DefaultUnapprovedLimit
	}
	if sender == models.SenderDoctor {
		return Gate{State: StateDoctor, Limit: limit}
	}
	if conv == nil {
		return Gate{State: StateLimited, Limit: limit}
	}

	g := Gate{Sent: conv.PatientMessageCount, Limit: limit}
	if conv.DoctorID != "" {
		doctorID = conv.DoctorID
	}

	switch {
	case conv.IsBlocked:
		g.State = StateBlocked
	case conv.FirstSenderID != "" && conv.FirstSenderID == doctorID:
		g.State = StateExempt
	case conv.Approved:
		g.State = StateUnlimited
	case conv.PatientMessageCount >= limit:
		g.State = StateExhausted
	default:
		g.State = StateLimited
	}
	return g
}
