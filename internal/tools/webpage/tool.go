package webpage

import (
	"context"
	"fmt"
	"strings"

	"github.com/arman-khosravi/tabletalk/internal/capability"
)

// Tool exposes page fetching under the agent tool contract.
type Tool struct {
	fetcher Fetcher
}

func NewTool(fetcher Fetcher) *Tool { return &Tool{fetcher: fetcher} }

func (t *Tool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "visit_webpage",
		Version:     "v1",
		Description: "Fetch a webpage and return its readable text content.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "URL of the webpage to visit",
			},
		}, "url"),
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	raw, _ := args["url"].(string)
	page, err := t.fetcher.Fetch(ctx, raw)
	if err != nil {
		return capability.Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Webpage content for %s\n", page.URL)
	if page.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", page.Title)
	}
	if page.Byline != "" {
		fmt.Fprintf(&b, "Byline: %s\n", page.Byline)
	}
	b.WriteString("\n")
	b.WriteString(page.Text)

	return capability.Result{
		Content: b.String(),
		Data: map[string]interface{}{
			"url":       page.URL,
			"title":     page.Title,
			"html_hash": page.HTMLHash,
			"fetch_ms":  page.FetchMS,
		},
	}, nil
}
