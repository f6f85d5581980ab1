package core

import (
	"context"
	"fmt"
	"io"
)

// ChatMessage is one turn of the history forwarded to the model.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"max=20000"`
}

type GenerationRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
}

// Generator streams a completion. The returned body is a server-sent events
// stream the caller must close. Cancelling ctx aborts the upstream request.
type Generator interface {
	Stream(ctx context.Context, req GenerationRequest) (io.ReadCloser, error)
}

// GenerationError is a non-success answer from the generation endpoint.
type GenerationError struct {
	StatusCode int
	Body       string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation endpoint returned status %d: %s", e.StatusCode, e.Body)
}
