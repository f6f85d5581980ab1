package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// LLMService talks to Gemini. It streams chat completions re-encoded as
// OpenAI-style server-sent events and produces embeddings for learned patterns.
type LLMService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

var _ Generator = (*LLMService)(nil)

func NewLLMService(ctx context.Context, apiKey, chatModel string) (*LLMService, error) {
	if chatModel == "" {
		chatModel = defaultChatModelName
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, chatModel: chatModel, embeddingModel: defaultEmbeddingModelName}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing GenAI client")
		} else {
			log.Info().Msg("GenAI client closed")
		}
	}
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

func (s *LLMService) Stream(ctx context.Context, req GenerationRequest) (io.ReadCloser, error) {
	model := s.client.GenerativeModel(s.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.SystemPrompt)},
	}

	history, prompt := splitGeminiHistory(req.Messages)
	chatSession := model.StartChat()
	chatSession.History = history

	it := chatSession.SendMessageStream(ctx, genai.Text(prompt))

	// The first chunk is pulled synchronously so upstream errors surface as
	// status codes before any bytes reach the caller.
	first, err := it.Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return nil, geminiError(err)
	}

	pr, pw := io.Pipe()
	go func() {
		w := bufio.NewWriter(pw)
		var streamErr error
		defer func() {
			if streamErr == nil {
				streamErr = writeSSEDone(w)
			}
			if streamErr == nil {
				streamErr = w.Flush()
			}
			pw.CloseWithError(streamErr)
		}()

		if first == nil {
			return
		}
		if streamErr = writeSSEChunk(w, first); streamErr != nil {
			return
		}
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("Gemini stream interrupted")
				streamErr = err
				return
			}
			if streamErr = writeSSEChunk(w, resp); streamErr != nil {
				return
			}
		}
	}()
	return pr, nil
}

// splitGeminiHistory turns the chat history into Gemini contents. The last
// user message becomes the prompt; everything before it is history.
func splitGeminiHistory(messages []ChatMessage) ([]*genai.Content, string) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last == -1 {
		return nil, "Olá"
	}

	var history []*genai.Content
	for _, msg := range messages[:last] {
		role := geminiRoleUser
		switch msg.Role {
		case "assistant":
			role = geminiRoleModel
		case "system":
			continue
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return history, messages[last].Content
}

type sseDelta struct {
	Content string `json:"content"`
}

type sseChoice struct {
	Index int      `json:"index"`
	Delta sseDelta `json:"delta"`
}

type sseChunk struct {
	Choices []sseChoice `json:"choices"`
}

func writeSSEChunk(w *bufio.Writer, resp *genai.GenerateContentResponse) error {
	text := responseText(resp)
	if text == "" {
		return nil
	}
	payload, err := json.Marshal(sseChunk{Choices: []sseChoice{{Delta: sseDelta{Content: text}}}})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeSSEDone(w *bufio.Writer) error {
	_, err := w.WriteString("data: [DONE]\n\n")
	return err
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// geminiError maps API failures onto HTTP-style generation errors. Transport
// failures are returned as-is.
func geminiError(err error) error {
	var apiErr *apierror.APIError
	var gErr *googleapi.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.HTTPCode() > 0:
		return &GenerationError{StatusCode: apiErr.HTTPCode(), Body: apiErr.Error()}
	case errors.As(err, &apiErr) && apiErr.GRPCStatus() != nil:
		return &GenerationError{StatusCode: httpStatusFromCode(apiErr.GRPCStatus().Code()), Body: apiErr.Error()}
	case errors.As(err, &gErr):
		return &GenerationError{StatusCode: gErr.Code, Body: gErr.Message}
	default:
		return fmt.Errorf("gemini stream failed: %w", err)
	}
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		// billing not enabled on the project
		return http.StatusPaymentRequired
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
