package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const (
	defaultOpenAIURL   = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel = "gpt-3.5-turbo"
)

// OpenAI streams completions from any OpenAI-compatible chat endpoint.
// It backs the "custom" model setting, where both URL and model name
// come from user configuration.
type OpenAI struct {
	httpClient *http.Client
	apiKey     string
	url        string
	model      string
}

// NewOpenAI creates an OpenAI-compatible backend. Empty url and model
// fall back to the public OpenAI endpoint defaults.
func NewOpenAI(httpClient *http.Client, apiKey, url, model string) *OpenAI {
	if url == "" {
		url = defaultOpenAIURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAI{httpClient: httpClient, apiKey: apiKey, url: url, model: model}
}

func (o *OpenAI) Name() string { return models.AIModelCustom }

// Stream implements Backend.
func (o *OpenAI) Stream(ctx context.Context, messages []models.ChatMessage) (<-chan string, <-chan error) {
	return streamChatCompletions(ctx, o.httpClient, o.url, o.apiKey, o.model, messages)
}

// streamChatCompletions runs one streaming chat/completions request
// and decodes its SSE response. Shared by the OpenAI-compatible and
// Zhipu backends, which speak the same wire format.
func streamChatCompletions(ctx context.Context, httpClient *http.Client, url, apiKey, model string, messages []models.ChatMessage) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if apiKey == "" {
			errorChan <- fmt.Errorf("%w: API key not configured", errors.ErrStreamTransport)
			return
		}

		payload, err := json.Marshal(map[string]any{
			"model":    model,
			"messages": messages,
			"stream":   true,
		})
		if err != nil {
			errorChan <- fmt.Errorf("marshalling chat request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			errorChan <- fmt.Errorf("creating chat request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := httpClient.Do(req)
		if err != nil {
			// A cancelled context must surface as such so the caller
			// can tell an abort from a transport failure.
			if ctx.Err() != nil {
				errorChan <- ctx.Err()
				return
			}
			errorChan <- fmt.Errorf("%w: %v", errors.ErrStreamTransport, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			errorChan <- fmt.Errorf("%w: chat endpoint returned status %d: %s", errors.ErrStreamTransport, resp.StatusCode, string(body))
			return
		}

		if err := decodeSSE(ctx, resp.Body, contentChan); err != nil {
			errorChan <- err
		}
	}()

	return contentChan, errorChan
}
