package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sokopay/facepay-core/internal/application"
)

func (h *Handler) enrollIdentity(w http.ResponseWriter, r *http.Request) {
	var req application.EnrollRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "enroll_identity", err)
		return
	}

	res, err := h.service.EnrollIdentity(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "enroll_identity", err)
		return
	}
	writeSuccess(w, http.StatusCreated, res)
}

func (h *Handler) addTemplate(w http.ResponseWriter, r *http.Request) {
	identityID, err := uuid.Parse(chi.URLParam(r, "identity_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "add_template", err)
		return
	}

	var req struct {
		Template []float64 `json:"template"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "add_template", err)
		return
	}

	if err := h.service.AddTemplate(r.Context(), identityID, req.Template); err != nil {
		writeMappedError(r.Context(), w, "add_template", err)
		return
	}
	writeMessage(w, http.StatusCreated, "template added")
}

func (h *Handler) revokeIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := uuid.Parse(chi.URLParam(r, "identity_id"))
	if err != nil {
		writeValidationError(r.Context(), w, "revoke_identity", err)
		return
	}

	if err := h.service.RevokeIdentity(r.Context(), identityID); err != nil {
		writeMappedError(r.Context(), w, "revoke_identity", err)
		return
	}
	writeMessage(w, http.StatusOK, "identity revoked")
}

func (h *Handler) terminalToken(w http.ResponseWriter, r *http.Request) {
	var req application.TerminalTokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "terminal_token", err)
		return
	}

	res, err := h.service.IssueTerminalToken(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "terminal_token", err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}
