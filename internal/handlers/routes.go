package handlers

import (
	"net/http"

	"github.com/PortNumber53/social-publisher/internal/auth"
	"github.com/PortNumber53/social-publisher/internal/middleware"
	"github.com/gorilla/mux"
)

// RegisterRoutes mounts every endpoint on r. Action endpoints answer OPTIONS and reject other
// methods themselves, so they are registered without a method matcher.
func RegisterRoutes(h *Handler, r *mux.Router) {
	var v middleware.TokenVerifier = h.verifier
	if v == nil {
		v = auth.NewVerifier("")
	}
	requireUser := middleware.RequireUser(v, h.logger)
	optionalUser := middleware.OptionalUser(v, h.logger)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if h.metricsHTTP != nil {
		r.Handle("/metrics", h.metricsHTTP).Methods(http.MethodGet)
	}

	r.Handle("/single-post", optionalUser(http.HandlerFunc(h.SinglePost)))
	r.Handle("/api-tester", requireUser(http.HandlerFunc(h.APITester)))
	r.Handle("/generate-campaign-posts", requireUser(http.HandlerFunc(h.GenerateCampaignPosts)))

	r.HandleFunc("/api/events/ws", h.EventsWebSocket).Methods(http.MethodGet)
}
