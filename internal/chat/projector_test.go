package chat_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

func TestProject_DaySeparators(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "m5", SenderID: "p", Timestamp: now.Add(-time.Hour), Status: models.MessageStatusRead},
		{ID: "m4", SenderID: "d", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "m3", SenderID: "p", Timestamp: now.Add(-24 * time.Hour), Status: models.MessageStatusDelivered},
		{ID: "m2", SenderID: "p", Timestamp: now.Add(-5 * 24 * time.Hour), Status: models.MessageStatusSent},
		{ID: "m1", SenderID: "d", Timestamp: now.Add(-5*24*time.Hour - time.Hour)},
	}

	v := chat.Project(chat.ProjectInput{
		Messages:     msgs,
		Gate:         chat.Gate{State: chat.StateUnlimited, Limit: 2},
		LocalActorID: "p",
		Now:          now,
	})

	require.Len(t, v.Items, 5)
	var seps []string
	for _, it := range v.Items {
		seps = append(seps, it.DaySeparator)
	}
	assert.Equal(t, []string{"", "Today", "Yesterday", "", "Mar 5"}, seps)
	assert.Equal(t, "m5", v.Items[0].ID, "newest first")
}

func TestProject_SortsNewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	v := chat.Project(chat.ProjectInput{
		Messages: []models.Message{
			{ID: "old", Timestamp: now.Add(-time.Minute)},
			{ID: "new", Timestamp: now},
		},
		Now: now,
	})
	assert.Equal(t, "new", v.Items[0].ID)
	assert.Equal(t, "Today", v.Items[1].DaySeparator)
	assert.Empty(t, v.Items[0].DaySeparator)
}

func TestProject_GlyphsOnlyOnOwnMessages(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	v := chat.Project(chat.ProjectInput{
		Messages: []models.Message{
			{ID: "mine-read", SenderID: "p", Timestamp: now, Status: models.MessageStatusRead},
			{ID: "theirs", SenderID: "d", Timestamp: now.Add(-time.Minute), Status: models.MessageStatusRead},
			{ID: "mine-sent", SenderID: "p", Timestamp: now.Add(-2 * time.Minute), Status: models.MessageStatusSent},
		},
		LocalActorID: "p",
		Now:          now,
	})

	require.NotNil(t, v.Items[0].Glyph)
	assert.Equal(t, chat.Glyph{Mark: "✓✓", Tone: chat.ToneAccent}, *v.Items[0].Glyph)
	assert.True(t, v.Items[0].Mine)
	assert.Nil(t, v.Items[1].Glyph)
	assert.False(t, v.Items[1].Mine)
	require.NotNil(t, v.Items[2].Glyph)
	assert.Equal(t, chat.Glyph{Mark: "✓", Tone: chat.ToneMuted}, *v.Items[2].Glyph)
}

func TestStatusGlyph(t *testing.T) {
	assert.Equal(t, &chat.Glyph{Mark: "✓✓", Tone: chat.ToneMuted}, chat.StatusGlyph(models.MessageStatusDelivered))
	assert.Nil(t, chat.StatusGlyph("bogus"))
}

func TestDayLabel_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC) // 01:00 on Mar 11 in loc
	msg := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC) // 23:00 on Mar 10 in loc

	assert.Equal(t, chat.LabelToday, chat.DayLabel(msg, now, time.UTC))
	assert.Equal(t, chat.LabelYesterday, chat.DayLabel(msg, now, loc))
	assert.Equal(t, "Mar 8", chat.DayLabel(msg.AddDate(0, 0, -2), now, loc))
}

func TestBannerAndInputAgree(t *testing.T) {
	tests := []struct {
		gate   chat.Gate
		banner string
	}{
		{chat.Gate{State: chat.StateBlocked}, chat.BlockedBanner},
		{chat.Gate{State: chat.StateExhausted, Sent: 2, Limit: 2}, chat.WaitingBanner},
		{chat.Gate{State: chat.StateLimited, Sent: 1, Limit: 2}, "1 message remaining"},
		{chat.Gate{State: chat.StateLimited, Sent: 0, Limit: 2}, "2 messages remaining"},
		{chat.Gate{State: chat.StateExempt}, ""},
		{chat.Gate{State: chat.StateUnlimited}, ""},
		{chat.Gate{State: chat.StateDoctor}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.gate.String(), func(t *testing.T) {
			banner := chat.BannerFor(tt.gate)
			input := chat.InputFor(tt.gate)

			if tt.banner == "" {
				assert.Nil(t, banner)
			} else {
				require.NotNil(t, banner)
				assert.Equal(t, tt.banner, banner.Text)
			}

			blocking := banner != nil && banner.Kind != chat.BannerRemaining
			assert.Equal(t, !blocking, input.Enabled)
			assert.Equal(t, tt.gate.CanSend(), input.Enabled)
			assert.NotEmpty(t, input.Placeholder)
		})
	}
}
