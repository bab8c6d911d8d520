package transcript

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

func TestExtractVideoID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ"},
	}
	for _, tc := range cases {
		got, err := ExtractVideoID(tc.raw)
		if err != nil {
			t.Errorf("ExtractVideoID(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ExtractVideoID(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestExtractVideoIDInvalid(t *testing.T) {
	_, err := ExtractVideoID("https://example.com/not-a-video")
	if !errors.Is(err, toolerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

const trackListXML = `<?xml version="1.0" encoding="utf-8"?>
<transcript_list><track lang_code="en" name=""/><track lang_code="de" name=""/></transcript_list>`

const captionsXML = `<?xml version="1.0" encoding="utf-8"?>
<transcript>
<text start="0.0" dur="2.5">never gonna give</text>
<text start="2.5" dur="3.0">you up &amp;amp; never gonna</text>
<text start="5.5" dur="2.0">let you down</text>
</transcript>`

func captionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") == "list" {
			_, _ = w.Write([]byte(trackListXML))
			return
		}
		if r.URL.Query().Get("lang") != "en" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(captionsXML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := captionServer(t)
	fetcher := NewFetcher(Config{BaseURL: srv.URL, Language: "en"})

	transcript, err := fetcher.Fetch(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if transcript.VideoID != "dQw4w9WgXcQ" || transcript.Language != "en" {
		t.Fatalf("unexpected transcript meta: %+v", transcript)
	}
	if !strings.Contains(transcript.Text, "never gonna give you up & never gonna let you down") {
		t.Fatalf("unexpected text: %q", transcript.Text)
	}
	if transcript.WordCount != 11 {
		t.Fatalf("word count = %d, want 11", transcript.WordCount)
	}
	if transcript.Duration != 7500*time.Millisecond {
		t.Fatalf("duration = %s, want 7.5s", transcript.Duration)
	}
}

func TestFetchNoTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<transcript_list></transcript_list>`))
	}))
	defer srv.Close()
	fetcher := NewFetcher(Config{BaseURL: srv.URL})

	_, err := fetcher.Fetch(context.Background(), "dQw4w9WgXcQ")
	if !errors.Is(err, toolerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	fetcher := NewFetcher(Config{BaseURL: srv.URL})

	_, err := fetcher.Fetch(context.Background(), "dQw4w9WgXcQ")
	if !errors.Is(err, toolerr.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestToolContent(t *testing.T) {
	srv := captionServer(t)
	tool := NewTool(NewFetcher(Config{BaseURL: srv.URL, Language: "en"}))

	result, err := tool.Invoke(context.Background(), map[string]interface{}{"url": "https://youtu.be/dQw4w9WgXcQ"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for _, fragment := range []string{"Transcript for YouTube video dQw4w9WgXcQ", "Language: en", "Word Count: 11", "Full Transcript:"} {
		if !strings.Contains(result.Content, fragment) {
			t.Errorf("content missing %q:\n%s", fragment, result.Content)
		}
	}
	if result.Data["video_id"] != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected data: %+v", result.Data)
	}
}
