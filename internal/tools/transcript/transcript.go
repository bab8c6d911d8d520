package transcript

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

const (
	DefaultBaseURL = "https://video.google.com/timedtext"
	DefaultTimeout = 15 * time.Second
)

// Config points the fetcher at the caption endpoint. BaseURL is overridable
// for tests.
type Config struct {
	BaseURL  string
	Language string
	Timeout  time.Duration
	Client   *http.Client
}

func (c *Config) normalize() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
}

// Fetcher retrieves YouTube captions over the timedtext endpoint.
type Fetcher struct {
	cfg Config
}

func NewFetcher(cfg Config) *Fetcher {
	cfg.normalize()
	return &Fetcher{cfg: cfg}
}

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|\/)([0-9A-Za-z_-]{11}).*`),
	regexp.MustCompile(`(?:embed\/)([0-9A-Za-z_-]{11})`),
	regexp.MustCompile(`(?:youtu\.be\/)([0-9A-Za-z_-]{11})`),
}

var bareVideoID = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)

// ExtractVideoID pulls the 11-character id out of any of the common YouTube
// URL shapes, or accepts a bare id.
func ExtractVideoID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if bareVideoID.MatchString(trimmed) {
		return trimmed, nil
	}
	for _, pattern := range videoIDPatterns {
		if match := pattern.FindStringSubmatch(trimmed); match != nil {
			return match[1], nil
		}
	}
	return "", fmt.Errorf("no video id in %q: %w", raw, toolerr.ErrInvalidArgument)
}

// Transcript is one fetched caption track flattened to plain text.
type Transcript struct {
	VideoID   string
	Language  string
	Text      string
	WordCount int
	Duration  time.Duration
}

type trackList struct {
	Tracks []struct {
		LangCode string `xml:"lang_code,attr"`
		Name     string `xml:"name,attr"`
	} `xml:"track"`
}

type captionDoc struct {
	Lines []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Text  string  `xml:",chardata"`
	} `xml:"text"`
}

// Fetch resolves the video id, lists the available caption tracks, picks the
// preferred language (falling back to the first track) and flattens the
// caption lines into one paragraph.
func (f *Fetcher) Fetch(ctx context.Context, videoURL string) (Transcript, error) {
	videoID, err := ExtractVideoID(videoURL)
	if err != nil {
		return Transcript{}, err
	}

	listURL := fmt.Sprintf("%s?type=list&v=%s", f.cfg.BaseURL, url.QueryEscape(videoID))
	body, err := f.get(ctx, listURL)
	if err != nil {
		return Transcript{}, err
	}
	var tracks trackList
	if err := xml.Unmarshal(body, &tracks); err != nil {
		return Transcript{}, fmt.Errorf("decode track list: %v: %w", err, toolerr.ErrFetch)
	}
	if len(tracks.Tracks) == 0 {
		return Transcript{}, fmt.Errorf("no transcript available for video %s: %w", videoID, toolerr.ErrNotFound)
	}

	chosen := tracks.Tracks[0]
	if f.cfg.Language != "" {
		for _, track := range tracks.Tracks {
			if track.LangCode == f.cfg.Language {
				chosen = track
				break
			}
		}
	}

	captionURL := fmt.Sprintf("%s?lang=%s&v=%s", f.cfg.BaseURL, url.QueryEscape(chosen.LangCode), url.QueryEscape(videoID))
	if chosen.Name != "" {
		captionURL += "&name=" + url.QueryEscape(chosen.Name)
	}
	body, err = f.get(ctx, captionURL)
	if err != nil {
		return Transcript{}, err
	}
	var doc captionDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return Transcript{}, fmt.Errorf("decode captions: %v: %w", err, toolerr.ErrFetch)
	}
	if len(doc.Lines) == 0 {
		return Transcript{}, fmt.Errorf("empty transcript for video %s: %w", videoID, toolerr.ErrNotFound)
	}

	parts := make([]string, 0, len(doc.Lines))
	var end float64
	for _, line := range doc.Lines {
		text := strings.TrimSpace(html.UnescapeString(line.Text))
		if text != "" {
			parts = append(parts, text)
		}
		if lineEnd := line.Start + line.Dur; lineEnd > end {
			end = lineEnd
		}
	}
	text := strings.Join(parts, " ")

	return Transcript{
		VideoID:   videoID,
		Language:  chosen.LangCode,
		Text:      text,
		WordCount: len(strings.Fields(text)),
		Duration:  time.Duration(end * float64(time.Second)),
	}, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %v: %w", err, toolerr.ErrFetch)
	}
	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transcript fetch: %w", toolerr.ErrTimeout)
		}
		return nil, fmt.Errorf("transcript fetch: %v: %w", err, toolerr.ErrFetch)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("transcript endpoint throttled: %w", toolerr.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("transcript not found: %w", toolerr.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("transcript endpoint returned %d: %w", resp.StatusCode, toolerr.ErrFetch)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcript body: %v: %w", err, toolerr.ErrFetch)
	}
	return body, nil
}
