package http

import (
	"context"
	"net/http"

	"github.com/sokopay/facepay-core/internal/ports"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) publicJWKs(w http.ResponseWriter, r *http.Request) {
	keys, err := h.service.PublicJWKs()
	if err != nil {
		writeMappedError(r.Context(), w, "public_jwks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *Handler) terminalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}

		claims, err := h.service.AuthenticateToken(r.Context(), raw)
		if err != nil {
			status, code, msg := mapDomainError(err)
			writeError(w, status, code, msg)
			return
		}

		ctx := contextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operatorOnlyMiddleware restricts enrollment and fraud-review endpoints to
// tokens issued with the operator flag.
func (h *Handler) operatorOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok || !claims.Operator {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "operator access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contextWithClaims(ctx context.Context, claims ports.TerminalClaims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, claims)
}
