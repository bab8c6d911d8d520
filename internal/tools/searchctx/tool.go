package searchctx

import (
	"context"
	"fmt"
	"strings"

	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// Tool exposes corpus search under the agent tool contract. The owning
// session is carried on the context by the control loop.
type Tool struct {
	corpus *Corpus
}

func NewTool(corpus *Corpus) *Tool { return &Tool{corpus: corpus} }

func (t *Tool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "search_context",
		Version:     "v1",
		Description: "Search text already fetched in this session (transcripts, webpages).",
		InputSchema: capability.ObjectSchema(map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Full-text query over previously fetched content",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum matches to return, default 5",
			},
		}, "query"),
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	sessionID, ok := SessionFromContext(ctx)
	if !ok {
		return capability.Result{}, fmt.Errorf("no session bound to search: %w", toolerr.ErrInternal)
	}
	query, _ := args["query"].(string)
	limit := 0
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}

	hits, err := t.corpus.Search(sessionID, query, limit)
	if err != nil {
		return capability.Result{}, err
	}

	var b strings.Builder
	if len(hits) == 0 {
		fmt.Fprintf(&b, "No matches for %q in this session's fetched content", query)
	} else {
		fmt.Fprintf(&b, "Found %d matches for %q:\n", len(hits), query)
		for i, hit := range hits {
			fmt.Fprintf(&b, "\n%d. %s (%s, score %.2f)\n", i+1, hit.Title, hit.Source, hit.Score)
			for _, fragment := range hit.Fragments {
				fmt.Fprintf(&b, "   %s\n", strings.TrimSpace(fragment))
			}
		}
	}

	return capability.Result{
		Content: strings.TrimRight(b.String(), "\n"),
		Data:    map[string]interface{}{"match_count": len(hits)},
	}, nil
}
