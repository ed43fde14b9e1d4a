package document

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/models"
)

// Document is a fully assembled document: the Markdown body with any
// comments rendered above it, plus the metadata callers display.
type Document struct {
	URL       string
	Title     string
	Content   string
	Region    models.Region
	TokenKind lark.TokenKind
	Comments  int
}

// Fetcher resolves document URLs and assembles their content.
type Fetcher struct {
	client *lark.Client
	tokens *lark.TokenManager
	logger *slog.Logger
}

// NewFetcher creates a fetcher on top of the API client and token
// manager.
func NewFetcher(client *lark.Client, tokens *lark.TokenManager, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, tokens: tokens, logger: logger}
}

// Fetch resolves the URL, downloads the document as Markdown, and
// prepends its comment threads. Comment failures never fail the fetch;
// the document is simply returned without them.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	region := lark.RegionFromURL(rawURL)

	token, kind, err := f.tokens.AccessToken(ctx, region)
	if err != nil {
		return Document{}, fmt.Errorf("acquiring access token: %w", err)
	}

	ref, err := f.client.Resolve(ctx, region, token, rawURL)
	if err != nil {
		return Document{}, fmt.Errorf("resolving document: %w", err)
	}

	content, err := f.client.FetchContent(ctx, region, token, ref)
	if err != nil {
		return Document{}, err
	}

	doc := Document{
		URL:       rawURL,
		Title:     ExtractTitle(content),
		Content:   content,
		Region:    region,
		TokenKind: kind,
	}

	comments, err := f.client.ListComments(ctx, region, token, ref.Token, ref.Type)
	if err != nil {
		// Comments need their own scope. Missing it degrades the view,
		// not the fetch.
		f.logger.Warn("Fetching comments failed", "doc_token", ref.Token, "error", err)
	}
	if len(comments) > 0 {
		doc.Content = FormatComments(comments) + content
		doc.Comments = len(comments)
	}

	return doc, nil
}
