package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

func TestEvaluate(t *testing.T) {
	const doctor = "doctor-3"

	tests := []struct {
		name      string
		conv      *models.Conversation
		want      chat.State
		sent      int
		canSend   bool
		remaining int
	}{
		{"no conversation yet", nil, chat.StateLimited, 0, true, 2},
		{"fresh", &models.Conversation{}, chat.StateLimited, 0, true, 2},
		{"one sent", &models.Conversation{PatientMessageCount: 1}, chat.StateLimited, 1, true, 1},
		{"quota used", &models.Conversation{PatientMessageCount: 2}, chat.StateExhausted, 2, false, 0},
		{"over quota", &models.Conversation{PatientMessageCount: 5}, chat.StateExhausted, 5, false, 0},
		{"approved", &models.Conversation{Approved: true, PatientMessageCount: 2}, chat.StateUnlimited, 2, true, 0},
		{"doctor first", &models.Conversation{FirstSenderID: doctor, PatientMessageCount: 9}, chat.StateExempt, 9, true, 0},
		{"patient first is not exempt", &models.Conversation{FirstSenderID: "patient-7", PatientMessageCount: 2}, chat.StateExhausted, 2, false, 0},
		{"blocked beats approval", &models.Conversation{IsBlocked: true, Approved: true}, chat.StateBlocked, 0, false, 0},
		{"blocked beats exempt", &models.Conversation{IsBlocked: true, FirstSenderID: doctor}, chat.StateBlocked, 0, false, 0},
		{"exempt beats approval", &models.Conversation{Approved: true, FirstSenderID: doctor}, chat.StateExempt, 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := chat.Evaluate(tt.conv, models.SenderPatient, doctor, 2)
			assert.Equal(t, tt.want, g.State)
			assert.Equal(t, tt.sent, g.Sent)
			assert.Equal(t, tt.canSend, g.CanSend())
			assert.Equal(t, tt.remaining, g.Remaining())
		})
	}
}

func TestEvaluate_DoctorBypassesGate(t *testing.T) {
	conv := &models.Conversation{IsBlocked: true, PatientMessageCount: 7}
	g := chat.Evaluate(conv, models.SenderDoctor, "doctor-3", 2)

	assert.Equal(t, chat.StateDoctor, g.State)
	assert.True(t, g.CanSend())
	assert.NoError(t, g.Err())
}

func TestEvaluate_StoredDoctorWins(t *testing.T) {
	conv := &models.Conversation{DoctorID: "doctor-3", FirstSenderID: "doctor-3"}
	g := chat.Evaluate(conv, models.SenderPatient, "someone-else", 2)
	assert.Equal(t, chat.StateExempt, g.State)
}

func TestEvaluate_DefaultLimit(t *testing.T) {
	g := chat.Evaluate(&models.Conversation{PatientMessageCount: 1}, models.SenderPatient, "d", 0)
	assert.Equal(t, chat.DefaultUnapprovedLimit, g.Limit)
	assert.Equal(t, "LIMITED(1)", g.String())
}

func TestGate_Err(t *testing.T) {
	assert.ErrorIs(t, chat.Gate{State: chat.StateBlocked}.Err(), chat.ErrBlocked)
	assert.ErrorIs(t, chat.Gate{State: chat.StateExhausted}.Err(), chat.ErrAwaitingApproval)
	assert.NoError(t, chat.Gate{State: chat.StateLimited}.Err())
	assert.True(t, chat.IsRefusal(chat.ErrBlocked))
	assert.False(t, chat.IsRefusal(chat.ErrUploadFailed))
}
