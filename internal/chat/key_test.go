package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
)

func TestResolveKey_OrderIndependent(t *testing.T) {
	ab, err := chat.ResolveKey("patient-7", "doctor-3")
	require.NoError(t, err)
	ba, err := chat.ResolveKey("doctor-3", "patient-7")
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Equal(t, "doctor-3_patient-7", ab)
}

func TestResolveKey_Rejects(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want error
	}{
		{"missing first", "", "doctor-3", chat.ErrMissingParticipant},
		{"missing second", "patient-7", "  ", chat.ErrMissingParticipant},
		{"same actor", "patient-7", "patient-7", chat.ErrSameParticipant},
		{"path separator", "patient/7", "doctor-3", chat.ErrInvalidActorID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := chat.ResolveKey(tt.a, tt.b)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, key)
		})
	}
}

func TestCounterpart(t *testing.T) {
	key, err := chat.ResolveKey("patient-7", "doctor-3")
	require.NoError(t, err)

	peer, err := chat.Counterpart(key, "patient-7")
	require.NoError(t, err)
	assert.Equal(t, "doctor-3", peer)

	peer, err = chat.Counterpart(key, "doctor-3")
	require.NoError(t, err)
	assert.Equal(t, "patient-7", peer)

	_, err = chat.Counterpart(key, "doctor-4")
	assert.ErrorIs(t, err, chat.ErrNotParticipant)

	_, err = chat.Counterpart(key, "")
	assert.ErrorIs(t, err, chat.ErrMissingParticipant)
}
