package core

import (
	"context"
	"fmt"
	"io"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const maxErrorBodyBytes = 4096

// GatewayClient streams completions from an OpenAI-compatible chat endpoint
// and hands the raw event stream back untouched.
type GatewayClient struct {
	httpClient *resty.Client
	url        string
	model      string
}

type gatewayRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

var _ Generator = (*GatewayClient)(nil)

func NewGatewayClient(url, apiKey, model string) (*GatewayClient, error) {
	if url == "" {
		return nil, fmt.Errorf("gateway url cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gateway api key cannot be empty")
	}

	// No client timeout: streams are long-lived and bounded by the request context.
	client := resty.New().
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream")

	log.Info().Str("url", url).Str("model", model).Msg("Generation gateway client configured")

	return &GatewayClient{httpClient: client, url: url, model: model}, nil
}

func (c *GatewayClient) Stream(ctx context.Context, req GenerationRequest) (io.ReadCloser, error) {
	messages := make([]ChatMessage, 0, len(req.Messages)+1)
	messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	messages = append(messages, req.Messages...)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(gatewayRequest{Model: c.model, Messages: messages, Stream: true}).
		SetDoNotParseResponse(true).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}

	body := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		defer body.Close()
		data, _ := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
		return nil, &GenerationError{StatusCode: resp.StatusCode(), Body: string(data)}
	}
	return body, nil
}
