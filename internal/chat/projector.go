package chat

import (
	"fmt"
	"sort"
	"time"

	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"

	BlockedBanner  = "You have been blocked by this doctor. You can no longer send messages."
	WaitingBanner  = "Waiting for the doctor to approve this conversation."
	MessagePrompt  = "Type a message..."
	BlockedPrompt  = "You can't reply to this conversation"
	AwaitingPrompt = "Waiting for doctor approval"
)

type Tone string

const (
	ToneMuted  Tone = "muted"
	ToneAccent Tone = "accent"
)

// Glyph is the delivery tick drawn on the local actor's own messages.
type Glyph struct {
	Mark string `json:"mark"`
	Tone Tone   `json:"tone"`
}

var (
	glyphSent      = Glyph{Mark: "✓", Tone: ToneMuted}
	glyphDelivered = Glyph{Mark: "✓✓", Tone: ToneMuted}
	glyphRead      = Glyph{Mark: "✓✓", Tone: ToneAccent}
)

type BannerKind string

const (
	BannerBlocked   BannerKind = "blocked"
	BannerWaiting   BannerKind = "waiting_for_approval"
	BannerRemaining BannerKind = "remaining"
)

type Banner struct {
	Kind BannerKind `json:"kind"`
	Text string     `json:"text"`
}

type Input struct {
	Enabled     bool   `json:"enabled"`
	Placeholder string `json:"placeholder"`
}

type MessageView struct {
	models.Message
	Mine  bool   `json:"mine"`
	Glyph *Glyph `json:"glyph,omitempty"`
	// DaySeparator is the label drawn above the message, empty when none.
	DaySeparator string `json:"day_separator,omitempty"`
	Time         string `json:"time"`
}

type View struct {
	Items  []MessageView `json:"items"`
	Banner *Banner       `json:"banner,omitempty"`
	Input  Input         `json:"input"`
	Gate   Gate          `json:"gate"`
}

type ProjectInput struct {
	// Messages as fetched from the feed, newest first.
	Messages     []models.Message
	Gate         Gate
	LocalActorID string
	Now          time.Time
	Location     *time.Location
}

// Project renders a feed page for the local actor.
func Project(in ProjectInput) View {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	msgs := make([]models.Message, len(in.Messages))
	copy(msgs, in.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})

	items := make([]MessageView, len(msgs))
	for i, m := range msgs {
		mv := MessageView{
			Message: m,
			Mine:    m.SenderID == in.LocalActorID,
			Time:    m.Timestamp.In(loc).Format("3:04 PM"),
		}
		if mv.Mine {
			mv.Glyph = StatusGlyph(m.Status)
		}
		if i == len(msgs)-1 || !sameDay(m.Timestamp, msgs[i+1].Timestamp, loc) {
			mv.DaySeparator = DayLabel(m.Timestamp, now, loc)
		}
		items[i] = mv
	}

	return View{
		Items:  items,
		Banner: BannerFor(in.Gate),
		Input:  InputFor(in.Gate),
		Gate:   in.Gate,
	}
}

// DayLabel names the calendar day of t relative to now.
func DayLabel(t, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	switch {
	case sameDay(t, now, loc):
		return LabelToday
	case sameDay(t, now.In(loc).AddDate(0, 0, -1), loc):
		return LabelYesterday
	}
	return t.In(loc).Format("Jan 2")
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// StatusGlyph maps a message status to its tick. Unknown statuses draw nothing.
func StatusGlyph(s models.MessageStatus) *Glyph {
	var g Glyph
	switch s {
	case models.MessageStatusSent:
		g = glyphSent
	case models.MessageStatusDelivered:
		g = glyphDelivered
	case models.MessageStatusRead:
		g = glyphRead
	default:
		return nil
	}
	return &g
}

// BannerFor selects the banner shown above the input.
func BannerFor(g Gate) *Banner {
	switch g.State {
	case StateBlocked:
		return &Banner{Kind: BannerBlocked, Text: BlockedBanner}
	case StateExhausted:
		return &Banner{Kind: BannerWaiting, Text: WaitingBanner}
	case StateLimited:
		return &Banner{Kind: BannerRemaining, Text: remainingText(g.Remaining())}
	}
	return nil
}

func remainingText(n int) string {
	if n == 1 {
		return "1 message remaining"
	}
	return fmt.Sprintf("%d messages remaining", n)
}

// InputFor decides whether the composer accepts input.
func InputFor(g Gate) Input {
	if g.CanSend() {
		return Input{Enabled: true, Placeholder: MessagePrompt}
	}
	if g.State == StateBlocked {
		return Input{Placeholder: BlockedPrompt}
	}
	return Input{Placeholder: AwaitingPrompt}
}
