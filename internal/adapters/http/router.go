package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sokopay/facepay-core/internal/application"
)

// Handler is the HTTP adapter entrypoint for face-pay use-cases.
// Keeping only the application dependency here preserves clean adapter boundaries.
type Handler struct {
	service *application.Service
}

// NewHandler constructs an HTTP handler bound to the application service.
func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

// NewRouter registers the face-pay core HTTP routes and middleware stack.
// Centralizing routes here ensures consistent auth and error behavior across endpoints.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Get("/.well-known/jwks.json", handler.publicJWKs)

	r.Route("/facepay/v1", func(r chi.Router) {
		r.Post("/terminals/token", handler.terminalToken)
		// Callback authenticity rests on possession of the unguessable
		// correlation token, not on a terminal bearer token.
		r.Post("/callbacks/payment", handler.gatewayCallback)

		r.Group(func(r chi.Router) {
			r.Use(handler.terminalAuthMiddleware)
			r.Post("/verifications/match", handler.match)
			r.Post("/sessions", handler.openSession)
			r.Get("/sessions/{session_id}", handler.getSession)
			r.Post("/sessions/{session_id}/lines", handler.addLine)
			r.Post("/sessions/{session_id}/checkout", handler.beginCheckout)
			r.Post("/sessions/{session_id}/abandon", handler.abandonSession)
			r.Post("/settlements", handler.beginSettlement)
			r.Get("/settlements/{intent_id}", handler.getIntent)
		})

		r.Group(func(r chi.Router) {
			r.Use(handler.terminalAuthMiddleware)
			r.Use(handler.operatorOnlyMiddleware)
			r.Post("/identities", handler.enrollIdentity)
			r.Post("/identities/{identity_id}/templates", handler.addTemplate)
			r.Post("/identities/{identity_id}/revoke", handler.revokeIdentity)
			r.Delete("/identities/{identity_id}/lockout", handler.clearLockout)
			r.Get("/fraud-alerts", handler.listFraudAlerts)
		})
	})

	return r
}
