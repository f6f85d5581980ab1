package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"streamagency.io/mode-router/internal/core"
	"streamagency.io/mode-router/internal/store"
)

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SetAIRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ModeConfigRequest struct {
	Enabled        bool   `json:"enabled"`
	PromptTemplate string `json:"prompt_template" validate:"max=8000"`
}

// decodeAndValidate answers the request itself when the body is unusable.
func (h *APIHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	op, err := h.admin.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, core.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Operator login failed")
		writeError(w, http.StatusInternalServerError, core.MsgGenericError)
		return
	}

	token, err := h.tokens.Generate(op.ID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("operatorID", op.ID).Msg("Failed to issue token")
		writeError(w, http.StatusInternalServerError, core.MsgGenericError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *APIHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	details, err := h.admin.GetConversationDetails(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *APIHandler) TakeOverHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := h.admin.TakeOver(r.Context(), conversationID, operatorIDFrom(r.Context())); err != nil {
		h.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": conversationID, "assigned_admin_id": operatorIDFrom(r.Context())})
}

func (h *APIHandler) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := h.admin.Release(r.Context(), conversationID); err != nil {
		h.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": conversationID, "assigned_admin_id": nil})
}

func (h *APIHandler) SetAIHandler(w http.ResponseWriter, r *http.Request) {
	var req SetAIRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.admin.SetAIEnabled(r.Context(), *req.Enabled); err != nil {
		h.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (h *APIHandler) UpdateModeHandler(w http.ResponseWriter, r *http.Request) {
	var req ModeConfigRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	cfg, err := h.admin.UpdateModeConfig(r.Context(), store.Mode(chi.URLParam(r, "mode")), req.Enabled, req.PromptTemplate)
	if err != nil {
		h.adminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *APIHandler) adminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrConversationMissing):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, core.ErrUnknownMode):
		writeError(w, http.StatusNotFound, "Unknown mode")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("Admin action failed")
		writeError(w, http.StatusInternalServerError, core.MsgGenericError)
	}
}
