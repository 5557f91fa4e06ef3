package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/medconsult-backend/internal/chat"
	"github.com/AnshRaj112/medconsult-backend/internal/directory"
	"github.com/AnshRaj112/medconsult-backend/internal/handlers"
	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/internal/routes"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
)

var (
	patient      = &models.Actor{ID: "patient-7", DisplayName: "Pat", Role: models.SenderPatient}
	doctor       = &models.Actor{ID: "doctor-3", DisplayName: "Dr. Lee", Role: models.SenderDoctor}
	otherDoctor  = &models.Actor{ID: "doctor-9", DisplayName: "Dr. Roe", Role: models.SenderDoctor}
	otherPatient = &models.Actor{ID: "patient-8", DisplayName: "Sam", Role: models.SenderPatient}
)

// fakeIdentity plays sessions, peers and accounts at once.
type fakeIdentity struct {
	mu     sync.Mutex
	actors map[string]*models.Actor
	tokens map[string]string
}

func newFakeIdentity(actors ...*models.Actor) *fakeIdentity {
	f := &fakeIdentity{actors: map[string]*models.Actor{}, tokens: map[string]string{}}
	for _, a := range actors {
		f.actors[a.ID] = a
		f.tokens["tok-"+a.ID] = a.ID
	}
	return f
}

func (f *fakeIdentity) CurrentActor(_ context.Context, token string) (*models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tokens[token]
	if !ok {
		return nil, services.ErrUnauthenticated
	}
	return f.actors[id], nil
}

func (f *fakeIdentity) Lookup(_ context.Context, id string) (*models.Actor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.actors[id]
	if !ok {
		return nil, services.ErrActorNotFound
	}
	return a, nil
}

func (f *fakeIdentity) Register(_ context.Context, in services.RegisterInput) (*models.Actor, error) {
	if in.Username == "taken" {
		return nil, services.ErrUsernameTaken
	}
	if !in.Role.Valid() {
		return nil, services.ErrInvalidRole
	}
	a := &models.Actor{ID: uuid.NewString(), DisplayName: in.DisplayName, Role: in.Role}
	f.mu.Lock()
	f.actors[a.ID] = a
	f.mu.Unlock()
	return a, nil
}

func (f *fakeIdentity) Authenticate(_ context.Context, username, password string) (*models.Actor, error) {
	if username != "pat" || password != "correct horse" {
		return nil, services.ErrInvalidCredentials
	}
	a := &models.Actor{ID: uuid.NewString(), DisplayName: "Pat", Role: models.SenderPatient}
	f.mu.Lock()
	f.actors[a.ID] = a
	f.mu.Unlock()
	return a, nil
}

func (f *fakeIdentity) Create(_ context.Context, actorID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := "tok-" + actorID.String()
	f.tokens[token] = actorID.String()
	return token, nil
}

func (f *fakeIdentity) Invalidate(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, token)
	return nil
}

type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) Upload(ctx context.Context, body io.Reader, destPath string) (string, error) {
	args := m.Called(ctx, body, destPath)
	return args.String(0), args.Error(1)
}

type offline struct{}

func (offline) IsOnline(context.Context, string) (bool, error) { return false, nil }

type server struct {
	router   *chi.Mux
	identity *fakeIdentity
	blobs    *mockBlobStore
	channel  *chat.Channel
}

func newServer(t *testing.T) *server {
	t.Helper()
	return newLimitedServer(t, nil)
}

// newLimitedServer wires limiter in front of sends; nil leaves them unlimited.
func newLimitedServer(t *testing.T, limiter *middleware.SendLimiter) *server {
	t.Helper()
	s := &server{
		identity: newFakeIdentity(patient, doctor, otherDoctor, otherPatient),
		blobs:    &mockBlobStore{},
	}
	s.channel = chat.NewChannel(directory.NewMemory(), s.blobs, offline{}, chat.Options{
		UnapprovedLimit:    2,
		MaxAttachmentBytes: 1024,
		Logger:             zerolog.Nop(),
	})
	h := handlers.New(handlers.Deps{
		Channel:            s.channel,
		Accounts:           s.identity,
		Sessions:           s.identity,
		Peers:              s.identity,
		SendLimiter:        limiter,
		MaxAttachmentBytes: 1024,
		Logger:             zerolog.Nop(),
	})
	s.router = chi.NewRouter()
	routes.SetupRoutes(s.router, h, s.identity)
	return s
}

func (s *server) do(t *testing.T, as *models.Actor, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer tok-"+as.ID)
	}
	return s.serve(t, req)
}

func (s *server) serve(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var out map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func send(t *testing.T, s *server, as, to *models.Actor, text string) (int, map[string]interface{}) {
	return s.do(t, as, http.MethodPost, "/api/conversations/"+to.ID+"/messages", map[string]string{"text": text})
}

func gateState(body map[string]interface{}) string {
	g, _ := body["gate"].(map[string]interface{})
	if g == nil {
		if d, ok := body["data"].(map[string]interface{}); ok {
			g, _ = d["gate"].(map[string]interface{})
		}
	}
	s, _ := g["state"].(string)
	return s
}

func TestAuthRoutes(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, nil, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "newdoc", "password": "long enough", "role": "doctor", "display_name": "Dr. New",
	})
	require.Equal(t, http.StatusCreated, code)
	token, _ := body["token"].(string)
	assert.NotEmpty(t, token)

	code, _ = s.do(t, nil, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "taken", "password": "long enough", "role": "patient",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, nil, http.MethodPost, "/api/auth/signup", map[string]string{
		"username": "nurse", "password": "long enough", "role": "nurse",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, nil, http.MethodPost, "/api/auth/signin", map[string]string{"username": "pat", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body = s.do(t, nil, http.MethodPost, "/api/auth/signin", map[string]string{"username": "pat", "password": "correct horse"})
	require.Equal(t, http.StatusOK, code)
	token, _ = body["token"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, body = s.serve(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pat", body["actor"].(map[string]interface{})["display_name"])

	req = httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, _ = s.serve(t, req)
	require.Equal(t, http.StatusOK, code)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	code, _ = s.serve(t, req)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestConversationRequiresKnownPeer(t *testing.T) {
	s := newServer(t)

	code, _ := s.do(t, nil, http.MethodGet, "/api/conversations/"+doctor.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, patient, http.MethodGet, "/api/conversations/nobody", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, patient, http.MethodGet, "/api/conversations/"+otherPatient.ID, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConversationBeforeFirstMessage(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, patient, http.MethodGet, "/api/conversations/"+doctor.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["conversation"])
	assert.Equal(t, string(chat.StateLimited), gateState(body))
	assert.Equal(t, "2 messages remaining", body["banner"].(map[string]interface{})["text"])
	assert.Equal(t, true, body["input"].(map[string]interface{})["enabled"])
}

func TestPatientQuotaOverHTTP(t *testing.T) {
	s := newServer(t)

	code, body := send(t, s, patient, doctor, "hello")
	require.Equal(t, http.StatusCreated, code)
	assert.Nil(t, body["notice"])

	code, body = send(t, s, patient, doctor, "are you there?")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, chat.QuotaExhaustedAlert, body["notice"])
	assert.Equal(t, string(chat.StateExhausted), gateState(body))

	code, body = send(t, s, patient, doctor, "hello??")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, chat.ErrAwaitingApproval.Error(), body["message"])

	// Another doctor cannot approve this conversation.
	code, _ = s.do(t, otherDoctor, http.MethodPut, "/api/conversations/"+patient.ID+"/approval", map[string]bool{"approved": true})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, patient, http.MethodPut, "/api/conversations/"+doctor.ID+"/approval", map[string]bool{"approved": true})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, doctor, http.MethodPut, "/api/conversations/"+patient.ID+"/approval", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, doctor, http.MethodPut, "/api/conversations/"+patient.ID+"/approval", map[string]bool{"approved": true})
	require.Equal(t, http.StatusOK, code)
	conv := body["conversation"].(map[string]interface{})
	assert.Equal(t, true, conv["approved"])
	assert.EqualValues(t, 2, conv["patient_message_count"])

	code, body = send(t, s, patient, doctor, "thanks")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, string(chat.StateUnlimited), gateState(body))

	code, _ = s.do(t, doctor, http.MethodPut, "/api/conversations/"+patient.ID+"/block", map[string]bool{"blocked": true})
	require.Equal(t, http.StatusOK, code)

	code, body = send(t, s, patient, doctor, "hello?")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, chat.ErrBlocked.Error(), body["message"])

	code, body = s.do(t, patient, http.MethodGet, "/api/conversations/"+doctor.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["input"].(map[string]interface{})["enabled"])
	assert.Equal(t, chat.BlockedBanner, body["banner"].(map[string]interface{})["text"])
}

func TestDoctorFirstExemptsPatient(t *testing.T) {
	s := newServer(t)

	code, _ := send(t, s, doctor, patient, "How can I help?")
	require.Equal(t, http.StatusCreated, code)

	for i := 0; i < 3; i++ {
		code, body := send(t, s, patient, doctor, "symptom details")
		require.Equal(t, http.StatusCreated, code)
		assert.Equal(t, string(chat.StateExempt), gateState(body))
		assert.Nil(t, body["notice"])
	}
}

func TestEmptyMessageRefused(t *testing.T) {
	s := newServer(t)

	code, _ := send(t, s, patient, doctor, "   ")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, patient, http.MethodGet, "/api/conversations/"+doctor.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, code)
}

func multipartRequest(t *testing.T, path, text string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if text != "" {
		require.NoError(t, mw.WriteField("text", text))
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="rash.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAttachmentUpload(t *testing.T) {
	s := newServer(t)
	s.blobs.On("Upload", mock.Anything, mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.HasPrefix(p, "chat/doctor-3_patient-7/")
	})).Return("https://cdn.example/rash.jpg", nil).Once()

	req := multipartRequest(t, "/api/conversations/"+doctor.ID+"/messages", "", bytes.Repeat([]byte{0xff}, 512))
	req.Header.Set("Authorization", "Bearer tok-"+patient.ID)
	code, body := s.serve(t, req)
	require.Equal(t, http.StatusCreated, code, body)

	msg := body["data"].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, "https://cdn.example/rash.jpg", msg["file_url"])
	assert.Equal(t, "image/jpeg", msg["file_type"])

	code, body = s.do(t, patient, http.MethodGet, "/api/conversations/"+doctor.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, chat.PhotoPreview, body["conversation"].(map[string]interface{})["last_message"])
	s.blobs.AssertExpectations(t)
}

func TestAttachmentTooLarge(t *testing.T) {
	s := newServer(t)

	req := multipartRequest(t, "/api/conversations/"+doctor.ID+"/messages", "look", bytes.Repeat([]byte{0xff}, 2048))
	req.Header.Set("Authorization", "Bearer tok-"+patient.ID)
	code, _ := s.serve(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	s.blobs.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadFailureIsBadGateway(t *testing.T) {
	s := newServer(t)
	s.blobs.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return("", assert.AnError).Once()

	req := multipartRequest(t, "/api/conversations/"+doctor.ID+"/messages", "", []byte("jpeg"))
	req.Header.Set("Authorization", "Bearer tok-"+patient.ID)
	code, body := s.serve(t, req)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, chat.ErrUploadFailed.Error(), body["message"])

	// Nothing was reserved.
	code, body = s.do(t, patient, http.MethodGet, "/api/conversations/"+doctor.ID, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2 messages remaining", body["banner"].(map[string]interface{})["text"])
}

func TestMessagesFeedReadAndDelete(t *testing.T) {
	s := newServer(t)

	code, body := send(t, s, patient, doctor, "first")
	require.Equal(t, http.StatusCreated, code)
	firstID := body["data"].(map[string]interface{})["message"].(map[string]interface{})["id"].(string)
	code, _ = send(t, s, patient, doctor, "second")
	require.Equal(t, http.StatusCreated, code)

	code, body = s.do(t, doctor, http.MethodGet, "/api/conversations/"+patient.ID+"/messages?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	items := body["messages"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "second", items[0].(map[string]interface{})["text"])
	assert.Equal(t, false, items[0].(map[string]interface{})["mine"])
	assert.Equal(t, true, body["has_more"])
	assert.Equal(t, string(chat.StateDoctor), gateState(body))

	cursor := body["next_cursor"].(map[string]interface{})
	q := url.Values{"limit": {"1"}, "before": {cursor["before"].(string)}, "before_id": {cursor["before_id"].(string)}}
	code, body = s.do(t, doctor, http.MethodGet, "/api/conversations/"+patient.ID+"/messages?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	items = body["messages"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "first", items[0].(map[string]interface{})["text"])
	assert.Equal(t, false, body["has_more"])
	assert.Nil(t, body["next_cursor"])

	code, _ = s.do(t, doctor, http.MethodGet, "/api/conversations/"+patient.ID+"/messages?before=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, doctor, http.MethodPost, "/api/conversations/"+patient.ID+"/read", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["marked"])

	code, body = s.do(t, patient, http.MethodGet, "/api/conversations/"+doctor.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, code)
	for _, it := range body["messages"].([]interface{}) {
		glyph := it.(map[string]interface{})["glyph"].(map[string]interface{})
		assert.Equal(t, "✓✓", glyph["mark"])
		assert.Equal(t, "accent", glyph["tone"])
	}

	code, _ = s.do(t, doctor, http.MethodDelete, "/api/conversations/"+patient.ID+"/messages/"+firstID, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, patient, http.MethodDelete, "/api/conversations/"+doctor.ID+"/messages/"+firstID, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = s.do(t, patient, http.MethodDelete, "/api/conversations/"+doctor.ID+"/messages/"+firstID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// Deleting does not give the quota back.
	code, _ = send(t, s, patient, doctor, "third")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestSendRateLimitAppliesToHTTPSends(t *testing.T) {
	s := newLimitedServer(t, middleware.NewSendLimiter(1, 1))

	code, _ := send(t, s, doctor, patient, "first")
	require.Equal(t, http.StatusCreated, code)
	code, body := send(t, s, doctor, patient, "second")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, middleware.ErrSendRateLimited.Error(), body["message"])

	code, _ = send(t, s, patient, doctor, "hello")
	assert.Equal(t, http.StatusCreated, code, "buckets are per actor")
}
