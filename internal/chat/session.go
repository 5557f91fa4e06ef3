package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/AnshRaj112/medconsult-backend/internal/directory"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

// Session is one open conversation screen of one device. It follows the
// conversation and its newest messages and emits a fresh View after every
// change. Only the latest View is kept when the reader falls behind.
type Session struct {
	ch     *Channel
	actor  models.Actor
	peerID string
	key    string
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger

	convSub *directory.Subscription
	feedSub *directory.Subscription
	views   chan View
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	sending atomic.Bool

	mu       sync.Mutex
	conv     *models.Conversation
	messages []models.Message
}

// Open starts a session for actor talking to peerID. Both ids must be known;
// a session is never opened on a half-resolved conversation.
func (c *Channel) Open(ctx context.Context, actor *models.Actor, peerID string, loc *time.Location) (*Session, error) {
	if actor == nil {
		return nil, ErrMissingParticipant
	}
	if !actor.Role.Valid() {
		return nil, ErrInvalidSenderType
	}
	key, err := ResolveKey(actor.ID, peerID)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	ctx, cancel := context.WithCancel(ctx)
	convSub, err := c.dir.SubscribeDoc(ctx, conversationPath(key))
	if err != nil {
		cancel()
		return nil, err
	}
	feedSub, err := c.dir.SubscribeQuery(ctx, messagesPath(key), feedQuery(FeedQuery{}, c.opts.HistoryPageSize))
	if err != nil {
		convSub.Close()
		cancel()
		return nil, err
	}

	s := &Session{
		ch:      c,
		actor:   *actor,
		peerID:  peerID,
		key:     key,
		loc:     loc,
		now:     time.Now,
		log:     c.log.With().Str("conversation", key).Str("actor_id", actor.ID).Logger(),
		convSub: convSub,
		feedSub: feedSub,
		views:   make(chan View, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.markRead(ctx)
	go s.run(ctx)
	return s, nil
}

func (s *Session) Key() string {
	return s.key
}

func (s *Session) PeerID() string {
	return s.peerID
}

// Views delivers the latest projection. It is closed after Close.
func (s *Session) Views() <-chan View {
	return s.views
}

// Send sends a message as the session's actor. Overlapping calls are refused
// with ErrSendInProgress.
func (s *Session) Send(ctx context.Context, p Payload) (*SendResult, error) {
	if !s.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInProgress
	}
	defer s.sending.Store(false)

	return s.ch.Send(ctx, SendRequest{
		Key:        s.key,
		SenderID:   s.actor.ID,
		ReceiverID: s.peerID,
		SenderType: s.actor.Role,
		Payload:    p,
	})
}

func (s *Session) Delete(ctx context.Context, messageID string) error {
	return s.ch.Delete(ctx, s.key, s.actor.ID, messageID)
}

// Acknowledge marks everything the peer sent as read.
func (s *Session) Acknowledge(ctx context.Context) (int, error) {
	return s.ch.MarkRead(ctx, s.key, s.actor.ID)
}

// Close unsubscribes from the conversation and the feed and waits for the
// session to stop. It is safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.cancel()
		s.convSub.Close()
		s.feedSub.Close()
		<-s.done
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.views)

	convC, feedC := s.convSub.C, s.feedSub.C
	for convC != nil || feedC != nil {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-convC:
			if !ok {
				convC = nil
				continue
			}
			if snap.Err != nil {
				s.log.Warn().Err(snap.Err).Msg("conversation snapshot failed")
				continue
			}
			s.mu.Lock()
			s.conv = conversationFromDoc(snap.Doc())
			s.mu.Unlock()
		case snap, ok := <-feedC:
			if !ok {
				feedC = nil
				continue
			}
			if snap.Err != nil {
				s.log.Warn().Err(snap.Err).Msg("message feed snapshot failed")
				continue
			}
			msgs := messagesFromDocs(snap.Docs)
			s.mu.Lock()
			s.messages = msgs
			s.mu.Unlock()
			if s.hasUnreadFromPeer(msgs) {
				s.markRead(ctx)
			}
		}
		s.publish(s.project())
	}
}

func (s *Session) hasUnreadFromPeer(msgs []models.Message) bool {
	for _, m := range msgs {
		if m.SenderID == s.peerID && m.Status != models.MessageStatusRead {
			return true
		}
	}
	return false
}

// markRead is best effort; a failure never interrupts the session.
func (s *Session) markRead(ctx context.Context) {
	n, err := s.ch.MarkRead(ctx, s.key, s.actor.ID)
	if err := ignoreMissing(err); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("mark read failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int("count", n).Msg("messages marked read")
	}
}

func (s *Session) project() View {
	s.mu.Lock()
	conv, msgs := s.conv, s.messages
	s.mu.Unlock()

	gate := Evaluate(conv, s.actor.Role, doctorOf(&s.actor, s.peerID), s.ch.opts.UnapprovedLimit)
	return Project(ProjectInput{
		Messages:     msgs,
		Gate:         gate,
		LocalActorID: s.actor.ID,
		Now:          s.now(),
		Location:     s.loc,
	})
}

// publish replaces any view the reader has not taken yet.
func (s *Session) publish(v View) {
	select {
	case s.views <- v:
		return
	default:
	}
	select {
	case <-s.views:
	default:
	}
	s.views <- v
}
