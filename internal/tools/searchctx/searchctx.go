package searchctx

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

const DefaultLimit = 5

// Document is one piece of fetched text added to a session's corpus.
type Document struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

// Hit is one search match with highlighted fragments.
type Hit struct {
	ID        string
	Source    string
	Title     string
	Score     float64
	Fragments []string
}

// Corpus keeps an in-memory full-text index per session. Transcripts and
// pages the session already fetched are indexed so the agent can search long
// artifacts instead of replaying fetches.
type Corpus struct {
	mu      sync.Mutex
	indexes map[string]bleve.Index
}

func NewCorpus() *Corpus {
	return &Corpus{indexes: make(map[string]bleve.Index)}
}

func (c *Corpus) indexFor(sessionID string, create bool) (bleve.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indexes[sessionID]; ok {
		return idx, nil
	}
	if !create {
		return nil, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create session index: %w", err)
	}
	c.indexes[sessionID] = idx
	return idx, nil
}

// Add indexes a document into the session's corpus.
func (c *Corpus) Add(sessionID string, doc Document) error {
	if strings.TrimSpace(doc.Text) == "" {
		return nil
	}
	idx, err := c.indexFor(sessionID, true)
	if err != nil {
		return err
	}
	return idx.Index(doc.ID, doc)
}

// Search runs a query-string search over the session's corpus.
func (c *Corpus) Search(sessionID, query string, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query: %w", toolerr.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	idx, err := c.indexFor(sessionID, false)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, fmt.Errorf("session has no fetched content to search: %w", toolerr.ErrNotFound)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	req.Fields = []string{"source", "title"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("text")

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search session corpus: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, match := range res.Hits {
		hit := Hit{ID: match.ID, Score: match.Score}
		if source, ok := match.Fields["source"].(string); ok {
			hit.Source = source
		}
		if title, ok := match.Fields["title"].(string); ok {
			hit.Title = title
		}
		for _, fragments := range match.Fragments {
			hit.Fragments = append(hit.Fragments, fragments...)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Drop discards a session's index.
func (c *Corpus) Drop(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.indexes[sessionID]; ok {
		_ = idx.Close()
		delete(c.indexes, sessionID)
	}
}

type sessionKey struct{}

// WithSession tags a context with the session whose corpus a tool call
// should search.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext reads the tag back.
func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok
}
