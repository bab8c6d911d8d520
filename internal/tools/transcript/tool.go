package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arman-khosravi/tabletalk/internal/capability"
)

// Tool exposes the fetcher under the agent tool contract.
type Tool struct {
	fetcher *Fetcher
}

func NewTool(fetcher *Fetcher) *Tool { return &Tool{fetcher: fetcher} }

func (t *Tool) Spec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "get_transcript",
		Version:     "v1",
		Description: "Fetch the complete transcript of a YouTube video from its URL or video id.",
		InputSchema: capability.ObjectSchema(map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "YouTube video URL or bare 11-character video id",
			},
		}, "url"),
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	raw, _ := args["url"].(string)
	transcript, err := t.fetcher.Fetch(ctx, raw)
	if err != nil {
		return capability.Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transcript for YouTube video %s\n", transcript.VideoID)
	fmt.Fprintf(&b, "Language: %s\n", transcript.Language)
	fmt.Fprintf(&b, "Duration: %s\n", transcript.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Word Count: %d\n\n", transcript.WordCount)
	b.WriteString("Full Transcript:\n")
	b.WriteString(transcript.Text)

	return capability.Result{
		Content: b.String(),
		Data: map[string]interface{}{
			"video_id":   transcript.VideoID,
			"language":   transcript.Language,
			"word_count": transcript.WordCount,
			"duration_s": transcript.Duration.Seconds(),
		},
	}, nil
}
