// Package chat is the patient/doctor conversation engine: conversation keys,
// the approval gate on patient messages, the message channel and the view
// projected for each participant.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AnshRaj112/medconsult-backend/internal/directory"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
)

const (
	// PhotoPreview is the conversation preview of an attachment-only message.
	PhotoPreview = "📷 Photo"

	// QuotaExhaustedAlert is shown once, on the send that used up the quota.
	QuotaExhaustedAlert = "You have reached the message limit. The doctor needs to approve this conversation before you can send more messages."

	DefaultMaxAttachmentBytes = 10 << 20
	DefaultHistoryPageSize    = 50
	DefaultHistoryMaxPageSize = 100

	reserveAttempts = 3
)

// BlobStore uploads attachments and returns a URL the receiver can load.
type BlobStore interface {
	Upload(ctx context.Context, body io.Reader, destPath string) (string, error)
}

// Presence reports whether an actor currently has the app open.
type Presence interface {
	IsOnline(ctx context.Context, actorID string) (bool, error)
}

// Recorder observes channel outcomes. Implemented by services.ChatMetrics.
type Recorder interface {
	MessageSent(senderType models.SenderType, attachment bool)
	SendRefused(err error)
	QuotaExhausted()
}

type nopRecorder struct{}

func (nopRecorder) MessageSent(models.SenderType, bool) {}
func (nopRecorder) SendRefused(error)                   {}
func (nopRecorder) QuotaExhausted()                     {}

// Attachment is a file picked by the sender. Size is checked before Body is read.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type Payload struct {
	Text       string
	Attachment *Attachment
}

func (p Payload) empty() bool {
	return strings.TrimSpace(p.Text) == "" && p.Attachment == nil
}

type SendRequest struct {
	Key        string
	SenderID   string
	ReceiverID string
	SenderType models.SenderType
	Payload    Payload
}

type SendResult struct {
	Message models.Message `json:"message"`
	Gate    Gate           `json:"gate"`
	// QuotaExhaustedNotice is true only on the send that moved the gate from
	// LIMITED to EXHAUSTED.
	QuotaExhaustedNotice bool `json:"quota_exhausted_notice"`
}

// Origin tells whether GetOrCreate wrote the conversation.
type Origin int

const (
	Existing Origin = iota
	Created
)

func (o Origin) String() string {
	if o == Created {
		return "created"
	}
	return "existing"
}

// FeedQuery pages the feed newest first. Before alone returns messages older
// than that instant; with BeforeID it is the position of the last message of
// the previous page, which keeps messages sharing its timestamp on the next
// page.
type FeedQuery struct {
	Before   time.Time
	BeforeID string
	Limit    int
}

type Options struct {
	UnapprovedLimit    int
	MaxAttachmentBytes int64
	HistoryPageSize    int
	HistoryMaxPageSize int
	// UploadFolder prefixes attachment destination paths.
	UploadFolder string
	Logger       zerolog.Logger
	Recorder     Recorder
}

// Channel writes messages and conversation state to a directory.
type Channel struct {
	dir      directory.Directory
	blobs    BlobStore
	presence Presence
	opts     Options
	log      zerolog.Logger
	rec      Recorder
}

func NewChannel(dir directory.Directory, blobs BlobStore, presence Presence, opts Options) *Channel {
	if opts.UnapprovedLimit < 1 {
		opts.UnapprovedLimit = DefaultUnapprovedLimit
	}
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = DefaultHistoryPageSize
	}
	if opts.HistoryMaxPageSize < opts.HistoryPageSize {
		opts.HistoryMaxPageSize = max(DefaultHistoryMaxPageSize, opts.HistoryPageSize)
	}
	if opts.UploadFolder == "" {
		opts.UploadFolder = "chat"
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Channel{
		dir:      dir,
		blobs:    blobs,
		presence: presence,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "chat").Logger(),
		rec:      rec,
	}
}

// Limit is the number of messages an unapproved patient may send.
func (c *Channel) Limit() int {
	return c.opts.UnapprovedLimit
}

// GetOrCreate loads the conversation between a patient and a doctor, writing
// it first if it does not exist yet.
func (c *Channel) GetOrCreate(ctx context.Context, key, patientID, doctorID string) (*models.Conversation, Origin, error) {
	want, err := ResolveKey(patientID, doctorID)
	if err != nil {
		return nil, Existing, err
	}
	if key != want {
		return nil, Existing, ErrKeyMismatch
	}

	doc, created, err := c.dir.CreateIfAbsent(ctx, conversationPath(key), directory.Fields{
		fieldParticipants:        participants(patientID, doctorID),
		fieldPatientID:           patientID,
		fieldDoctorID:            doctorID,
		fieldApproved:            false,
		fieldIsBlocked:           false,
		fieldPatientMessageCount: 0,
		fieldRead:                true,
		fieldCreatedAt:           directory.ServerTimestamp,
		fieldUpdatedAt:           directory.ServerTimestamp,
	})
	if err != nil {
		return nil, Existing, fmt.Errorf("get or create conversation %s: %w", key, err)
	}

	origin := Existing
	if created {
		origin = Created
		c.log.Info().Str("conversation", key).Msg("conversation created")
	}
	return conversationFromDoc(doc), origin, nil
}

// Conversation returns the stored conversation or ErrConversationNotFound.
func (c *Channel) Conversation(ctx context.Context, key string) (*models.Conversation, error) {
	doc, err := c.dir.GetDoc(ctx, conversationPath(key))
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", key, err)
	}
	conv := conversationFromDoc(doc)
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	return conv, nil
}

// GateFor evaluates the gate of key for actor. A conversation that does not
// exist yet evaluates as if nothing was sent.
func (c *Channel) GateFor(ctx context.Context, key string, actor *models.Actor) (Gate, error) {
	if actor == nil {
		return Gate{}, ErrMissingParticipant
	}
	peer, err := Counterpart(key, actor.ID)
	if err != nil {
		return Gate{}, err
	}
	doc, err := c.dir.GetDoc(ctx, conversationPath(key))
	if err != nil {
		return Gate{}, fmt.Errorf("get conversation %s: %w", key, err)
	}
	return Evaluate(conversationFromDoc(doc), actor.Role, doctorOf(actor, peer), c.opts.UnapprovedLimit), nil
}

func doctorOf(actor *models.Actor, peer string) string {
	if actor.IsDoctor() {
		return actor.ID
	}
	return peer
}

func (c *Channel) validate(req SendRequest) error {
	if !req.SenderType.Valid() {
		return ErrInvalidSenderType
	}
	key, err := ResolveKey(req.SenderID, req.ReceiverID)
	if err != nil {
		return err
	}
	if key != req.Key {
		return ErrKeyMismatch
	}
	if req.Payload.empty() {
		return ErrEmptyMessage
	}
	if a := req.Payload.Attachment; a != nil {
		if a.Size > c.opts.MaxAttachmentBytes {
			return ErrAttachmentTooLarge
		}
		if a.Size <= 0 || a.Body == nil {
			return ErrInvalidAttachment
		}
	}
	return nil
}

// Send appends a message to the conversation. Patient sends are checked
// against the gate before the attachment upload and reserved atomically
// against the stored conversation before the message is written, so a refused
// send leaves no message and no counter change behind.
func (c *Channel) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	res, err := c.send(ctx, req)
	if err != nil && IsRefusal(err) {
		c.rec.SendRefused(err)
	}
	return res, err
}

func (c *Channel) send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	patientID, doctorID := req.SenderID, req.ReceiverID
	if req.SenderType == models.SenderDoctor {
		patientID, doctorID = req.ReceiverID, req.SenderID
	}

	// The gate is checked against what is stored before anything is written;
	// a conversation nobody has written to yet evaluates as empty.
	existing, err := c.dir.GetDoc(ctx, conversationPath(req.Key))
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", req.Key, err)
	}
	if conv := conversationFromDoc(existing); conv != nil {
		if !senderMatches(conv, req) {
			return nil, ErrInvalidSenderType
		}
		if conv.DoctorID != "" {
			doctorID = conv.DoctorID
		}
		if before := Evaluate(conv, req.SenderType, doctorID, c.opts.UnapprovedLimit); !before.CanSend() {
			return nil, before.Err()
		}
	}

	log := c.log.With().
		Str("conversation", req.Key).
		Str("sender_id", req.SenderID).
		Str("sender_type", string(req.SenderType)).
		Logger()

	var fileURL, fileType string
	if a := req.Payload.Attachment; a != nil {
		dest := path.Join(c.opts.UploadFolder, req.Key, uuid.NewString())
		fileURL, err = c.blobs.Upload(ctx, a.Body, dest)
		if err != nil {
			log.Warn().Err(err).Str("attachment", a.Name).Msg("attachment upload failed")
			return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		fileType = a.ContentType
		if fileType == "" {
			fileType = "image"
		}
	}
	orphaned := func(err error) error {
		if fileURL != "" {
			log.Warn().Err(err).Str("file_url", fileURL).Msg("send refused after upload, attachment orphaned")
		}
		return err
	}

	// Written only once the upload has succeeded, so a failed upload leaves
	// nothing behind.
	conv, _, err := c.GetOrCreate(ctx, req.Key, patientID, doctorID)
	if err != nil {
		return nil, orphaned(err)
	}
	if !senderMatches(conv, req) {
		return nil, orphaned(ErrInvalidSenderType)
	}

	notice := false
	switch req.SenderType {
	case models.SenderPatient:
		reserved, err := c.reserve(ctx, req.Key, req.SenderID, doctorID, conv)
		if err != nil {
			return nil, orphaned(err)
		}
		notice = reserved.State == StateExhausted
	case models.SenderDoctor:
		if conv.FirstSenderID == "" {
			if err := c.claimFirstSender(ctx, req.Key, req.SenderID); err != nil {
				return nil, orphaned(err)
			}
		}
	}

	status := models.MessageStatusSent
	if c.receiverOnline(ctx, req.ReceiverID, log) {
		status = models.MessageStatusDelivered
	}

	text := strings.TrimSpace(req.Payload.Text)
	fields := directory.Fields{
		fieldSenderID:   req.SenderID,
		fieldReceiverID: req.ReceiverID,
		fieldSenderType: string(req.SenderType),
		fieldTimestamp:  directory.ServerTimestamp,
		fieldStatus:     string(status),
	}
	if text != "" {
		fields[fieldText] = text
	}
	if fileURL != "" {
		fields[fieldFileURL] = fileURL
		fields[fieldFileType] = fileType
	}

	id, err := c.dir.AppendChild(ctx, messagesPath(req.Key), fields)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	msgDoc, err := c.dir.GetDoc(ctx, messagePath(req.Key, id))
	if err != nil {
		return nil, fmt.Errorf("read back message %s: %w", id, err)
	}
	msg := messageFromDoc(msgDoc)

	preview := text
	if preview == "" {
		preview = PhotoPreview
	}
	convDoc, _, err := c.dir.Apply(ctx, conversationPath(req.Key), directory.Mutation{
		Set: directory.Fields{
			fieldLastMessage:     preview,
			fieldLastMessageTime: msg.Timestamp,
			fieldLastSenderID:    req.SenderID,
			fieldRead:            false,
			fieldUpdatedAt:       directory.ServerTimestamp,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("update conversation summary: %w", err)
	}

	c.rec.MessageSent(req.SenderType, msg.HasAttachment())
	if notice {
		c.rec.QuotaExhausted()
		log.Info().Msg("patient reached the unapproved message limit")
	}

	after := Evaluate(conversationFromDoc(convDoc), req.SenderType, doctorID, c.opts.UnapprovedLimit)
	log.Debug().Str("message_id", id).Str("status", string(status)).Str("gate", after.String()).Msg("message sent")

	return &SendResult{Message: msg, Gate: after, QuotaExhaustedNotice: notice}, nil
}

// senderMatches rejects a sender claiming the other role of an existing
// conversation.
func senderMatches(conv *models.Conversation, req SendRequest) bool {
	switch req.SenderType {
	case models.SenderPatient:
		return conv.PatientID == "" || conv.PatientID == req.SenderID
	case models.SenderDoctor:
		return conv.DoctorID == "" || conv.DoctorID == req.SenderID
	}
	return false
}

// reserve re-validates the gate against the stored conversation and, while
// LIMITED, takes one unit of quota in the same atomic write. It returns the
// gate that results from the reservation.
func (c *Channel) reserve(ctx context.Context, key, patientID, doctorID string, conv *models.Conversation) (Gate, error) {
	limit := c.opts.UnapprovedLimit

	for attempt := 0; attempt < reserveAttempts; attempt++ {
		g := Evaluate(conv, models.SenderPatient, doctorID, limit)
		if !g.CanSend() {
			return g, g.Err()
		}

		mut := directory.Mutation{
			Guard:       []directory.Predicate{directory.Where(fieldIsBlocked, directory.OpNe, true)},
			SetIfAbsent: directory.Fields{fieldFirstSenderID: patientID},
		}
		switch g.State {
		case StateExempt:
			mut.Guard = append(mut.Guard, directory.Where(fieldFirstSenderID, directory.OpEq, doctorID))
		case StateUnlimited:
			mut.Guard = append(mut.Guard, directory.Where(fieldApproved, directory.OpEq, true))
		case StateLimited:
			mut.Guard = append(mut.Guard,
				directory.Where(fieldApproved, directory.OpNe, true),
				directory.Where(fieldFirstSenderID, directory.OpNe, doctorID),
				directory.Where(fieldPatientMessageCount, directory.OpEq, g.Sent),
			)
			mut.Inc = map[string]int64{fieldPatientMessageCount: 1}
		}

		doc, applied, err := c.dir.Apply(ctx, conversationPath(key), mut)
		if err != nil {
			return g, fmt.Errorf("reserve message quota: %w", err)
		}
		conv = conversationFromDoc(doc)
		if conv == nil {
			return g, ErrConversationNotFound
		}
		if applied {
			return Evaluate(conv, models.SenderPatient, doctorID, limit), nil
		}
	}
	return Gate{}, ErrContended
}

// claimFirstSender records the doctor as first sender before the message is
// appended, so a patient send racing this one already sees EXEMPT.
func (c *Channel) claimFirstSender(ctx context.Context, key, doctorID string) error {
	_, _, err := c.dir.Apply(ctx, conversationPath(key), directory.Mutation{
		SetIfAbsent: directory.Fields{fieldFirstSenderID: doctorID},
	})
	if err != nil {
		return fmt.Errorf("record first sender: %w", err)
	}
	return nil
}

func (c *Channel) receiverOnline(ctx context.Context, receiverID string, log zerolog.Logger) bool {
	if c.presence == nil {
		return false
	}
	online, err := c.presence.IsOnline(ctx, receiverID)
	if err != nil {
		log.Warn().Err(err).Str("receiver_id", receiverID).Msg("presence lookup failed, marking message as sent")
		return false
	}
	return online
}

// Delete removes one of the actor's own messages. Conversation counters and
// previews are left as they are.
func (c *Channel) Delete(ctx context.Context, key, actorID, messageID string) error {
	if strings.TrimSpace(messageID) == "" || strings.Contains(messageID, "/") {
		return ErrMessageNotFound
	}
	if _, err := Counterpart(key, actorID); err != nil {
		return err
	}

	p := messagePath(key, messageID)
	doc, err := c.dir.GetDoc(ctx, p)
	if err != nil {
		return fmt.Errorf("get message %s: %w", messageID, err)
	}
	if !doc.Exists {
		return ErrMessageNotFound
	}
	if doc.String(fieldSenderID) != actorID {
		return ErrNotMessageOwner
	}
	if err := c.dir.Delete(ctx, p); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	c.log.Info().Str("conversation", key).Str("message_id", messageID).Msg("message deleted")
	return nil
}

// MarkRead flips every message the peer sent to readerID to read and marks
// the conversation read when the peer wrote the last message. It returns how
// many messages changed.
func (c *Channel) MarkRead(ctx context.Context, key, readerID string) (int, error) {
	peer, err := Counterpart(key, readerID)
	if err != nil {
		return 0, err
	}

	docs, err := c.dir.Query(ctx, messagesPath(key), directory.Query{
		Where: []directory.Predicate{
			directory.Where(fieldSenderID, directory.OpEq, peer),
			directory.Where(fieldStatus, directory.OpNe, string(models.MessageStatusRead)),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("query unread messages: %w", err)
	}

	updates := make([]directory.Update, 0, len(docs))
	for _, d := range docs {
		cur := models.MessageStatus(d.String(fieldStatus))
		next := cur.Advance(models.MessageStatusRead)
		if next == cur {
			continue
		}
		updates = append(updates, directory.Update{
			Path: d.Path,
			Fields: directory.Fields{
				fieldStatus: string(next),
				fieldReadAt: directory.ServerTimestamp,
			},
		})
	}
	if len(updates) > 0 {
		if err := c.dir.BatchUpdate(ctx, updates); err != nil {
			return 0, fmt.Errorf("mark messages read: %w", err)
		}
	}

	_, _, err = c.dir.Apply(ctx, conversationPath(key), directory.Mutation{
		Guard: []directory.Predicate{
			directory.Where(fieldLastSenderID, directory.OpEq, peer),
			directory.Where(fieldRead, directory.OpNe, true),
		},
		Set: directory.Fields{fieldRead: true},
	})
	if err != nil {
		return len(updates), fmt.Errorf("mark conversation read: %w", err)
	}
	return len(updates), nil
}

// Feed returns one page of messages, newest first, older than q.Before when
// it is set. hasMore reports whether older messages remain.
func (c *Channel) Feed(ctx context.Context, key string, q FeedQuery) ([]models.Message, bool, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = c.opts.HistoryPageSize
	}
	limit = min(limit, c.opts.HistoryMaxPageSize)

	docs, err := c.dir.Query(ctx, messagesPath(key), feedQuery(q, limit+1))
	if err != nil {
		return nil, false, fmt.Errorf("load messages: %w", err)
	}
	hasMore := len(docs) > limit
	if hasMore {
		docs = docs[:limit]
	}
	return messagesFromDocs(docs), hasMore, nil
}

func feedQuery(fq FeedQuery, limit int) directory.Query {
	q := directory.Query{OrderBy: fieldTimestamp, Desc: true, Limit: limit}
	switch {
	case fq.Before.IsZero():
	case fq.BeforeID != "":
		q.StartAfter = &directory.Cursor{Value: fq.Before.UTC(), ID: fq.BeforeID}
	default:
		q.Where = []directory.Predicate{directory.Where(fieldTimestamp, directory.OpLt, fq.Before)}
	}
	return q
}

// SetApproval lets the conversation's doctor approve or revoke the patient's
// unlimited messaging. The patient message counter is not touched.
func (c *Channel) SetApproval(ctx context.Context, key, doctorID string, approved bool) (*models.Conversation, error) {
	return c.doctorUpdate(ctx, key, doctorID, directory.Fields{fieldApproved: approved})
}

// SetBlocked lets the conversation's doctor block or unblock the patient.
func (c *Channel) SetBlocked(ctx context.Context, key, doctorID string, blocked bool) (*models.Conversation, error) {
	return c.doctorUpdate(ctx, key, doctorID, directory.Fields{fieldIsBlocked: blocked})
}

func (c *Channel) doctorUpdate(ctx context.Context, key, doctorID string, set directory.Fields) (*models.Conversation, error) {
	set[fieldUpdatedAt] = directory.ServerTimestamp

	doc, applied, err := c.dir.Apply(ctx, conversationPath(key), directory.Mutation{
		Guard: []directory.Predicate{directory.Where(fieldDoctorID, directory.OpEq, doctorID)},
		Set:   set,
	})
	if err != nil {
		return nil, fmt.Errorf("update conversation %s: %w", key, err)
	}
	if !doc.Exists {
		return nil, ErrConversationNotFound
	}
	if !applied {
		return nil, ErrNotConversationDoctor
	}

	c.log.Info().Str("conversation", key).Str("doctor_id", doctorID).Msg("conversation updated by doctor")
	return conversationFromDoc(doc), nil
}

// ignoreMissing turns a lookup on a vanished conversation into a no-op.
func ignoreMissing(err error) error {
	if errors.Is(err, ErrConversationNotFound) || errors.Is(err, directory.ErrNotFound) {
		return nil
	}
	return err
}
