package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the full route tree. Public tracking and verification lookups
// live outside the authenticated group.
func (s *Server) Router(verifier TokenVerifier) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(Metrics)

	r.Get("/health/live", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)

	r.Get("/track/{trackingID}", s.handleTrack)
	r.Get("/verify/{code}", s.handleVerifyReceipt)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(verifier))

		r.Get("/me", s.handleMe)
		r.Get("/me/profile", s.handleGetProfile)
		r.Put("/me/profile", s.handleUpsertProfile)

		r.Put("/admin/users/{userID}/role", s.handleUpdateUserRole)

		r.Get("/requests", s.handleListRequests)
		r.Post("/requests", s.handleCreateRequest)
		r.Get("/requests/{requestID}", s.handleGetRequest)

		r.Post("/requests/{requestID}/assign", s.handleAssignAgent)
		r.Post("/requests/{requestID}/assign-self", s.handleAssignSelf)
		r.Post("/requests/{requestID}/status", s.handleUpdateStatus)
		r.Post("/requests/{requestID}/payment-received", s.handleMarkPaymentReceived)
		r.Post("/requests/{requestID}/process-payment", s.handleProcessPayment)
		r.Post("/requests/{requestID}/fees", s.handleUpdateFees)
		r.Post("/requests/{requestID}/complete", s.handleCompleteRequest)
		r.Post("/requests/{requestID}/cancel", s.handleCancelRequest)
		r.Post("/requests/{requestID}/receipt/reissue", s.handleReissueReceipt)
	})

	return r
}
