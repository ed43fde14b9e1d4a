package relay

import (
	"context"
	"net/http"

	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const (
	zhipuURL   = "https://open.bigmodel.cn/api/paas/v4/chat/completions"
	zhipuModel = "glm-4.7"
)

// Zhipu streams completions from the Zhipu GLM endpoint, which is
// wire-compatible with the OpenAI chat completions SSE format.
type Zhipu struct {
	httpClient *http.Client
	apiKey     string
}

// NewZhipu creates the Zhipu backend.
func NewZhipu(httpClient *http.Client, apiKey string) *Zhipu {
	return &Zhipu{httpClient: httpClient, apiKey: apiKey}
}

func (z *Zhipu) Name() string { return models.AIModelZhipu }

// Stream implements Backend.
func (z *Zhipu) Stream(ctx context.Context, messages []models.ChatMessage) (<-chan string, <-chan error) {
	return streamChatCompletions(ctx, z.httpClient, zhipuURL, z.apiKey, zhipuModel, messages)
}
