package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/application"
)

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	var req application.MatchRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "match", err)
		return
	}

	// Store and terminal identity come from the token, never the body, so a
	// terminal cannot attribute its probes to another store.
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "match")
		return
	}
	req.StoreID = claims.StoreID
	req.TerminalID = claims.TerminalID

	res, err := h.service.Match(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "match", err)
		return
	}

	// Every refusal, whether no match, lockout or ambiguity, yields the same
	// wire response. The distinction lives only in the audit trail and the
	// fraud pipeline; the terminal must not learn which one it hit.
	if res.Status != application.MatchStatusMatched {
		writeError(w, http.StatusUnprocessableEntity, "VERIFICATION_FAILED", "verification failed")
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) clearLockout(w http.ResponseWriter, r *http.Request) {
	identityID, err := uuid.Parse(chi.URLParam(r, "identity_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "clear_lockout", err)
		return
	}

	if err := h.service.ClearLockout(r.Context(), identityID); err != nil {
		writeMappedError(r.Context(), w, "clear_lockout", err)
		return
	}
	writeMessage(w, http.StatusOK, "lockout cleared")
}

func (h *Handler) listFraudAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	severity := r.URL.Query().Get("severity")

	items, err := h.service.ListFraudAlerts(r.Context(), limit, offset, severity)
	if err != nil {
		writeMappedError(r.Context(), w, "list_fraud_alerts", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"alerts": items})
}
