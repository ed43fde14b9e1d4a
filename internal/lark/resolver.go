package lark

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richardk1992-boop/larkdoc/internal/errors"
	"github.com/richardk1992-boop/larkdoc/internal/models"
)

const wikiNodeEndpoint = "/open-apis/wiki/v2/spaces/get_node"

// DocRef identifies a readable document: the object token and the
// object type the content API expects.
type DocRef struct {
	Token string
	Type  string
	// FromWiki is set when the ref was resolved through a wiki node,
	// which changes how a not-found error should be explained.
	FromWiki bool
}

// URL path segments mapped to content API doc types. Segments not
// listed here are used as the doc type verbatim (docx, wiki handled
// separately).
var docTypeBySegment = map[string]string{
	"docs":   "doc",
	"docx":   "docx",
	"sheets": "sheet",
	"base":   "bitable",
	"file":   "file",
}

// RegionFromURL infers the platform region from a document URL host.
func RegionFromURL(rawURL string) models.Region {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.RegionFeishu
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "larkoffice"):
		return models.RegionLarkOffice
	case strings.Contains(host, "larksuite"):
		return models.RegionLark
	default:
		return models.RegionFeishu
	}
}

// ParseDocURL extracts the token and doc type from a document URL
// without touching the network. Wiki URLs return type "wiki" and must
// be resolved with ResolveWikiNode before fetching content.
func ParseDocURL(rawURL string) (DocRef, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DocRef{}, fmt.Errorf("%w: parsing document URL: %v", errors.ErrDocumentNotFound, err)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		segment := segments[i]
		token := segments[i+1]
		if token == "" {
			continue
		}

		if segment == "wiki" {
			return DocRef{Token: token, Type: "wiki", FromWiki: true}, nil
		}
		if docType, ok := docTypeBySegment[segment]; ok {
			return DocRef{Token: token, Type: docType}, nil
		}
	}

	return DocRef{}, fmt.Errorf("%w: no document token in URL %q", errors.ErrDocumentNotFound, rawURL)
}

// ResolveWikiNode resolves a wiki node token to the underlying
// document token and type. The node payload has shipped in two shapes
// (data.node and bare data), so both are accepted.
func (c *Client) ResolveWikiNode(ctx context.Context, region models.Region, bearer, nodeToken string) (DocRef, error) {
	body, err := c.get(ctx, region, wikiNodeEndpoint, url.Values{"token": {nodeToken}}, bearer)
	if err != nil {
		return DocRef{}, err
	}

	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("code").Int(); code != 0 {
		return DocRef{}, fmt.Errorf("%w: wiki node lookup failed (code %d): %s", errors.ErrNodeNotFound, code, parsed.Get("msg").String())
	}

	node := parsed.Get("data.node")
	if !node.Exists() {
		node = parsed.Get("data")
	}

	objToken := node.Get("obj_token").String()
	if objToken == "" {
		return DocRef{}, fmt.Errorf("%w: wiki node %q has no document object", errors.ErrNodeNotFound, nodeToken)
	}

	objType := node.Get("obj_type").String()
	if objType == "" {
		objType = "docx"
	}

	return DocRef{Token: objToken, Type: objType, FromWiki: true}, nil
}

// Resolve turns a document URL into a fetchable DocRef, following one
// wiki indirection when needed.
func (c *Client) Resolve(ctx context.Context, region models.Region, bearer, rawURL string) (DocRef, error) {
	ref, err := ParseDocURL(rawURL)
	if err != nil {
		return DocRef{}, err
	}

	if ref.Type == "wiki" {
		return c.ResolveWikiNode(ctx, region, bearer, ref.Token)
	}

	return ref, nil
}
