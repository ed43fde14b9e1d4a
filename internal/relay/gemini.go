package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-3-flash-preview"
)

// Gemini streams completions from the generative language API. The
// endpoint does not speak SSE; it writes a JSON array incrementally,
// so responses are split into objects with a frameScanner.
type Gemini struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewGemini creates the Gemini backend. An empty model falls back to
// the flash preview default.
func NewGemini(httpClient *http.Client, apiKey, model string) *Gemini {
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}

	return &Gemini{httpClient: httpClient, apiKey: apiKey, model: model, baseURL: defaultGeminiBaseURL}
}

func (g *Gemini) Name() string { return models.AIModelGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

// Stream implements Backend.
func (g *Gemini) Stream(ctx context.Context, messages []models.ChatMessage) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		if g.apiKey == "" {
			errorChan <- fmt.Errorf("%w: API key not configured", errors.ErrStreamTransport)
			return
		}

		contents := make([]geminiContent, 0, len(messages))
		for _, m := range messages {
			role := "model"
			if m.Role == "user" {
				role = "user"
			}
			contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
		}

		payload, err := json.Marshal(map[string]any{"contents": contents})
		if err != nil {
			errorChan <- fmt.Errorf("marshalling chat request: %w", err)
			return
		}

		url := fmt.Sprintf("%s/v1alpha/models/%s:streamGenerateContent?key=%s", g.baseURL, g.model, g.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			errorChan <- fmt.Errorf("creating chat request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
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
			errorChan <- g.statusError(resp)
			return
		}

		if err := g.decode(ctx, resp.Body, contentChan); err != nil {
			errorChan <- err
		}
	}()

	return contentChan, errorChan
}

// decode splits the incremental JSON array into objects and emits the
// text part of each candidate. Unparseable frames are skipped rather
// than aborting the stream.
func (g *Gemini) decode(ctx context.Context, body io.Reader, out chan<- string) error {
	scanner := newFrameScanner()
	chunk := make([]byte, 4096)

	for {
		n, readErr := body.Read(chunk)
		for _, frame := range scanner.Push(chunk[:n]) {
			text := gjson.GetBytes(frame, "candidates.0.content.parts.0.text")
			if !text.Exists() || text.String() == "" {
				continue
			}

			select {
			case out <- text.String():
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("%w: reading response stream: %v", errors.ErrStreamTransport, readErr)
		}
	}
}

// statusError turns a non-200 response into an error message with the
// provider's explanation and, for the failures users hit most, a hint
// about what to change.
func (g *Gemini) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	msg := fmt.Sprintf("Gemini API error: status %d", resp.StatusCode)
	apiErr := gjson.GetBytes(body, "error")
	if apiErr.Exists() {
		detail := apiErr.Get("message").String()
		msg += " - " + detail
		if code := apiErr.Get("code").Int(); code != 0 {
			msg += fmt.Sprintf(" (code: %d)", code)
		}

		switch {
		case strings.Contains(detail, "User location is not supported"):
			msg += "\n\n提示: 您的网络位置可能不支持访问 Gemini API，请尝试使用 VPN 或更换网络环境。"
		case strings.Contains(detail, "API key not valid"):
			msg += "\n\n提示: 请检查您的 API Key 是否正确配置。"
		case strings.Contains(detail, "Model not found"):
			msg += "\n\n提示: 请检查您输入的模型名称是否正确。"
		}
	} else if len(body) > 0 {
		msg += " - " + string(body)
	}

	return fmt.Errorf("%w: %s", errors.ErrStreamTransport, msg)
}
