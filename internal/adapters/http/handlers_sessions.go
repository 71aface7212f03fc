package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/application"
)

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeMissingBearerError(r.Context(), w, "open_session")
		return
	}

	res, err := h.service.OpenSession(r.Context(), application.OpenSessionRequest{StoreID: claims.StoreID})
	if err != nil {
		writeMappedError(r.Context(), w, "open_session", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "get_session", err)
		return
	}

	res, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		writeMappedError(r.Context(), w, "get_session", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "add_line", err)
		return
	}

	var req application.AddLineRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "add_line", err)
		return
	}

	res, err := h.service.AddLine(r.Context(), sessionID, req)
	if err != nil {
		writeMappedError(r.Context(), w, "add_line", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "begin_checkout", err)
		return
	}

	var req application.CheckoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "begin_checkout", err)
		return
	}

	res, err := h.service.BeginCheckout(r.Context(), sessionID, req)
	if err != nil {
		writeMappedError(r.Context(), w, "begin_checkout", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

func (h *Handler) abandonSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "session_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "abandon_session", err)
		return
	}

	res, err := h.service.AbandonSession(r.Context(), sessionID)
	if err != nil {
		writeMappedError(r.Context(), w, "abandon_session", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
