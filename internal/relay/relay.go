// Package relay streams chat completions from the configured model
// provider. Each backend speaks its provider's wire format and emits a
// channel of text deltas.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/richardk1992-boop/larkdoc/internal/models"
)

// Backend streams a chat completion. The content channel carries text
// deltas and closes when the stream ends; the error channel delivers
// at most one terminal error. A cancelled context ends the stream with
// the context's error.
type Backend interface {
	Name() string
	Stream(ctx context.Context, messages []models.ChatMessage) (<-chan string, <-chan error)
}

// New selects a backend from the AI configuration.
func New(cfg models.AIConfig, httpClient *http.Client) (Backend, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	switch cfg.Model {
	case models.AIModelZhipu, "":
		return NewZhipu(httpClient, cfg.APIKeyFor(models.AIModelZhipu)), nil
	case models.AIModelGemini:
		return NewGemini(httpClient, cfg.APIKeyFor(models.AIModelGemini), cfg.GeminiModelName), nil
	case models.AIModelCustom:
		return NewOpenAI(httpClient, cfg.APIKeyFor(models.AIModelCustom), cfg.APIURL, cfg.ModelName), nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Model)
	}
}
