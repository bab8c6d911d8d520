package webpage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultMaxBytes = 2 << 20 // 2 MiB of raw HTML
	DefaultMaxChars = 20000
	defaultAgent    = "tabletalk/1.0"
)

// Mode selects how pages are fetched.
type Mode string

const (
	ModePlain    Mode = "plain"
	ModeChromedp Mode = "chromedp"
)

// Config bounds a fetch. MaxBytes caps the raw response body, MaxChars caps
// the extracted article text handed to the model.
type Config struct {
	Mode      Mode
	Timeout   time.Duration
	MaxBytes  int64
	MaxChars  int
	UserAgent string
	Client    *http.Client
}

func (c *Config) normalize() {
	if c.Mode == "" {
		c.Mode = ModePlain
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultAgent
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
}

// Page is the readable content extracted from one URL.
type Page struct {
	URL      string
	Title    string
	Byline   string
	Text     string
	HTMLHash string
	FetchMS  int
}

// Fetcher turns a URL into readable page content.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (Page, error)
}

// NewFetcher builds the fetcher for the configured mode.
func NewFetcher(cfg Config) (Fetcher, error) {
	cfg.normalize()
	switch cfg.Mode {
	case ModePlain:
		return &plainFetcher{cfg: cfg}, nil
	case ModeChromedp:
		return &renderFetcher{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unsupported fetch mode %q: %w", cfg.Mode, toolerr.ErrInvalidArgument)
	}
}

type plainFetcher struct {
	cfg Config
}

func (f *plainFetcher) Fetch(ctx context.Context, pageURL string) (Page, error) {
	if err := validateURL(pageURL); err != nil {
		return Page{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build request: %v: %w", err, toolerr.ErrFetch)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Page{}, fmt.Errorf("fetch %s: %w", pageURL, toolerr.ErrTimeout)
		}
		return Page{}, fmt.Errorf("fetch %s: %v: %w", pageURL, err, toolerr.ErrFetch)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Page{}, fmt.Errorf("fetch %s: %w", pageURL, toolerr.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return Page{}, fmt.Errorf("fetch %s: %w", pageURL, toolerr.ErrRateLimited)
	case resp.StatusCode >= 400:
		return Page{}, fmt.Errorf("fetch %s: status %d: %w", pageURL, resp.StatusCode, toolerr.ErrFetch)
	}

	// Read one byte past the ceiling to tell "exactly at the limit"
	// apart from "over it".
	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %v: %w", pageURL, err, toolerr.ErrFetch)
	}
	if int64(len(raw)) > f.cfg.MaxBytes {
		return Page{}, fmt.Errorf("page exceeds %d bytes: %w", f.cfg.MaxBytes, toolerr.ErrTooLarge)
	}

	return extract(pageURL, string(raw), f.cfg.MaxChars, int(time.Since(t0)/time.Millisecond))
}

// truncate caps text at max bytes without splitting a UTF-8 rune.
func truncate(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func validateURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("invalid url %q: %w", raw, toolerr.ErrInvalidArgument)
	}
	return nil
}

func extract(pageURL, rawHTML string, maxChars int, fetchMS int) (Page, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %v: %w", pageURL, err, toolerr.ErrFetch)
	}
	text := strings.TrimSpace(article.TextContent)
	text = truncate(text, maxChars)
	sum := sha1.Sum([]byte(rawHTML))

	return Page{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     text,
		HTMLHash: hex.EncodeToString(sum[:]),
		FetchMS:  fetchMS,
	}, nil
}
