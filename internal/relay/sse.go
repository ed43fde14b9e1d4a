package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
)

const (
	sseDataPrefix   = "data: "
	sseDoneSentinel = "[DONE]"

	// Scanner buffer sizing for long SSE lines. Providers occasionally
	// ship multi-hundred-KB deltas in a single event.
	sseInitialBuffer = 64 * 1024
	sseMaxBuffer     = 1024 * 1024
)

// decodeSSE reads an OpenAI-style server-sent event stream and sends
// each choices[0].delta.content fragment to out. It returns when the
// stream ends, the [DONE] sentinel arrives, or the context is
// cancelled.
func decodeSSE(ctx context.Context, body io.Reader, out chan<- string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, sseInitialBuffer), sseMaxBuffer)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		payload := strings.TrimPrefix(line, sseDataPrefix)
		if payload == sseDoneSentinel {
			return nil
		}

		content := gjson.Get(payload, "choices.0.delta.content")
		if !content.Exists() || content.String() == "" {
			continue
		}

		select {
		case out <- content.String():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return fmt.Errorf("%w: reading event stream: %v", errors.ErrStreamTransport, err)
	}

	return nil
}
