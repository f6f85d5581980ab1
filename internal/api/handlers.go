package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/hlog"

	"streamagency.io/mode-router/internal/auth"
	"streamagency.io/mode-router/internal/core"
	"streamagency.io/mode-router/internal/store"
)

const (
	headerConversationID = "X-Conversation-Id"
	headerDetectedMode   = "X-Detected-Mode"
	headerModeConfidence = "X-Mode-Confidence"

	msgInvalidRequest = "Requisição inválida."
	streamBufferSize  = 4096
)

// ExposedHeaders are the response headers the chat widget reads across origins.
var ExposedHeaders = []string{headerConversationID, headerDetectedMode, headerModeConfidence}

type APIHandler struct {
	router           *core.Router
	admin            *core.AdminService
	tokens           *auth.TokenIssuer
	validate         *validator.Validate
	requireVisitorID bool
}

func NewAPIHandler(router *core.Router, admin *core.AdminService, tokens *auth.TokenIssuer, requireVisitorID bool) *APIHandler {
	return &APIHandler{
		router:           router,
		admin:            admin,
		tokens:           tokens,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		requireVisitorID: requireVisitorID,
	}
}

type skipResponse struct {
	Skipped bool            `json:"skipped"`
	Reason  core.SkipReason `json:"reason"`
}

type handoffResponse struct {
	Handoff bool       `json:"handoff"`
	Message string     `json:"message"`
	Mode    store.Mode `json:"mode"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	var req core.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// malformed bodies share the generic failure answer
		logger.Warn().Err(err).Msg("Failed to decode chat request")
		writeError(w, http.StatusInternalServerError, core.MsgGenericError)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		logger.Info().Err(err).Msg("Chat request failed validation")
		writeValidationError(w, err)
		return
	}
	if h.requireVisitorID && req.VisitorID == "" {
		writeError(w, http.StatusUnauthorized, core.MsgVisitorIDMissing)
		return
	}

	decision, err := h.router.Route(r.Context(), req)
	if err != nil {
		logger.Error().Err(err).Str("conversationID", req.ConversationID).Msg("Routing failed")
		writeError(w, http.StatusInternalServerError, core.MsgGenericError)
		return
	}

	if decision.ConversationID != "" {
		w.Header().Set(headerConversationID, decision.ConversationID)
	}

	switch decision.Outcome {
	case core.OutcomeRejected:
		writeError(w, decision.StatusCode, decision.Error)
	case core.OutcomeSkipped:
		writeJSON(w, http.StatusOK, skipResponse{Skipped: true, Reason: decision.Reason})
	case core.OutcomeHandoff:
		writeJSON(w, http.StatusOK, handoffResponse{Handoff: true, Message: decision.Message, Mode: store.ModeHandoffHuman})
	case core.OutcomeStream:
		h.relayStream(w, r, decision)
	default:
		logger.Error().Str("outcome", string(decision.Outcome)).Msg("Unknown routing outcome")
		writeError(w, http.StatusInternalServerError, core.MsgGenericError)
	}
}

// relayStream copies the generation event stream to the client as it arrives.
func (h *APIHandler) relayStream(w http.ResponseWriter, r *http.Request, d *core.Decision) {
	defer d.Stream.Close()

	rc := http.NewResponseController(w)
	// the server write timeout is for ordinary requests; streams run until the model finishes
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(headerDetectedMode, string(d.Classification.Mode))
	w.Header().Set(headerModeConfidence, fmt.Sprintf("%.2f", d.Classification.Confidence))
	w.WriteHeader(http.StatusOK)

	buf := make([]byte, streamBufferSize)
	for {
		n, err := d.Stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				hlog.FromRequest(r).Debug().Err(werr).Msg("Client went away during stream")
				return
			}
			_ = rc.Flush()
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if r.Context().Err() == nil {
				hlog.FromRequest(r).Warn().Err(err).Str("conversationID", d.ConversationID).Msg("Generation stream interrupted")
			}
			return
		}
	}
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, msgInvalidRequest)
		return
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msgInvalidRequest, "details": details})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
