package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
	"github.com/AnshRaj112/medconsult-backend/internal/models"
	"github.com/AnshRaj112/medconsult-backend/internal/services"
)

type staticResolver map[string]*models.Actor

func (s staticResolver) CurrentActor(_ context.Context, token string) (*models.Actor, error) {
	if token == "tok-down" {
		return nil, errors.New("dial tcp 127.0.0.1:6379: connection refused")
	}
	if a, ok := s[token]; ok {
		return a, nil
	}
	return nil, services.ErrUnauthenticated
}

func echoActor(w http.ResponseWriter, r *http.Request) {
	a := middleware.ActorFromContext(r.Context())
	if a == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Write([]byte(a.ID))
}

func TestRequireActor(t *testing.T) {
	resolver := staticResolver{"tok-1": {ID: "patient-1", Role: models.SenderPatient}}
	h := middleware.RequireActor(resolver)(http.HandlerFunc(echoActor))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized, ""},
		{"unknown token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"session store down", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-down") }, http.StatusServiceUnavailable, ""},
		{"header token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-1") }, http.StatusOK, "patient-1"},
		{"query token", func(r *http.Request) { r.URL.RawQuery = "token=tok-1" }, http.StatusOK, "patient-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestSendRateLimitPerActor(t *testing.T) {
	limited := middleware.SendRateLimit(1, 2)(http.HandlerFunc(echoActor))

	send := func(actorID string) int {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r = r.WithContext(middleware.WithActor(r.Context(), &models.Actor{ID: actorID}))
		w := httptest.NewRecorder()
		limited.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"), "buckets are per actor")

	anon := httptest.NewRecorder()
	limited.ServeHTTP(anon, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, anon.Code)
}

func TestSendRateLimitDisabled(t *testing.T) {
	h := middleware.SendRateLimit(0, 0)(http.HandlerFunc(echoActor))
	for i := 0; i < 20; i++ {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r = r.WithContext(middleware.WithActor(r.Context(), &models.Actor{ID: "a"}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestSendLimiterAllow(t *testing.T) {
	var disabled *middleware.SendLimiter
	assert.Nil(t, middleware.NewSendLimiter(0, 5))
	assert.True(t, disabled.Allow("a"))

	l := middleware.NewSendLimiter(1, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestHostCheck(t *testing.T) {
	h := middleware.HostCheck("api.medconsult.health")(http.HandlerFunc(echoActor))

	r := httptest.NewRequest(http.MethodGet, "http://api.medconsult.health:443/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)

	r = httptest.NewRequest(http.MethodGet, "http://evil.example/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Forbidden"}`, w.Body.String())
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	middleware.SecurityHeaders(http.HandlerFunc(echoActor)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestCORSPreflight(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.CORS([]string{"http://localhost:3000"}))
	r.Post("/api/conversations/{peerID}/messages", echoActor)

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations/doctor-1/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/conversations/doctor-1/messages", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginRateLimitOnlyOnAuthPaths(t *testing.T) {
	h := middleware.LoginRateLimit()(http.HandlerFunc(echoActor))
	hit := func(path string) int {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.RemoteAddr = "198.51.100.7:1000"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusNoContent, hit("/api/conversations"))
	}
	assert.Equal(t, http.StatusNoContent, hit("/api/auth/signin"))
	assert.Equal(t, http.StatusNoContent, hit("/api/auth/signin"))
	assert.Equal(t, http.StatusTooManyRequests, hit("/api/auth/signin"))
}
