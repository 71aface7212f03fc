package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/application"
)

func (h *Handler) beginSettlement(w http.ResponseWriter, r *http.Request) {
	var req application.BeginSettlementRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "begin_settlement", err)
		return
	}

	clientKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	res, err := h.service.BeginSettlement(r.Context(), clientKey, req)
	if err != nil {
		writeMappedError(r.Context(), w, "begin_settlement", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

func (h *Handler) getIntent(w http.ResponseWriter, r *http.Request) {
	intentID, err := uuid.Parse(chi.URLParam(r, "intent_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "get_intent", err)
		return
	}

	res, err := h.service.GetIntent(r.Context(), intentID)
	if err != nil {
		writeMappedError(r.Context(), w, "get_intent", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// gatewayCallback accepts the asynchronous confirmation from the payment
// gateway. Unknown correlation tokens return 404 so the gateway retries are
// distinguishable from accepted duplicates, which return 200.
func (h *Handler) gatewayCallback(w http.ResponseWriter, r *http.Request) {
	var cb application.GatewayCallback
	if err := decodeBody(r, &cb); err != nil {
		writeValidationError(r.Context(), w, "gateway_callback", err)
		return
	}
	if strings.TrimSpace(cb.CorrelationToken) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "correlation_token is required")
		return
	}

	if err := h.service.HandleGatewayCallback(r.Context(), cb); err != nil {
		writeMappedError(r.Context(), w, "gateway_callback", err)
		return
	}
	writeMessage(w, http.StatusOK, "callback accepted")
}
