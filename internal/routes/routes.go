package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AnshRaj112/medconsult-backend/internal/handlers"
	"github.com/AnshRaj112/medconsult-backend/internal/middleware"
)

func SetupRoutes(r *chi.Mux, h *handlers.Handler, resolver middleware.ActorResolver) {
	// Health check and metrics (no auth)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Auth routes
	r.Post("/api/auth/signup", h.Signup)
	r.Post("/api/auth/signin", h.Signin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireActor(resolver))

		r.Post("/api/auth/signout", h.Signout)
		r.Get("/api/auth/me", h.Me)

		// Conversation routes; {peerID} is the other participant
		r.Route("/api/conversations/{peerID}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Get("/messages", h.GetMessages)
			r.With(h.SendLimiter().Middleware).Post("/messages", h.SendMessage)
			r.Delete("/messages/{messageID}", h.DeleteMessage)
			r.Post("/read", h.MarkRead)

			// Doctor only
			r.Put("/approval", h.SetApproval)
			r.Put("/block", h.SetBlocked)
		})

		// Live view
		r.Get("/ws/conversations/{peerID}", h.ConversationSocket)
	})
}
