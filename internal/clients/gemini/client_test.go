package gemini

import (
	"VideoScan-pipeline/internal/aggregator"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	resp    *genai.GenerateContentResponse
	err     error
	prompts []string
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, p := range parts {
		if txt, ok := p.(genai.Text); ok {
			g.prompts = append(g.prompts, string(txt))
		}
	}
	return g.resp, g.err
}

func textResponse(parts ...string) *genai.GenerateContentResponse {
	content := &genai.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, genai.Text(p))
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: content, FinishReason: genai.FinishReasonStop}}}
}

func newTestClient(g contentGenerator, rpm int) *Client {
	return &Client{model: g, limiter: newLimiter(rpm)}
}

func sampleInput() aggregator.SummaryInput {
	return aggregator.SummaryInput{
		VideoID:          "abc123",
		Title:            "Summer haul",
		TextOnVideo:      "SALE 50% OFF",
		Transcript:       "hello everyone",
		DetectedObjects:  []string{"handbag", "person"},
		DetectedProducts: []string{"handbag"},
	}
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient("", "", 0, 0)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	g := &fakeGenerator{resp: textResponse("A summer ", "haul featuring a handbag.  ")}
	c := newTestClient(g, 0)

	summary, err := c.Summarize(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "A summer haul featuring a handbag.", summary)

	require.Len(t, g.prompts, 1)
	assert.Contains(t, g.prompts[0], "Text on video (OCR): SALE 50% OFF")
	assert.Contains(t, g.prompts[0], "Detected objects: handbag, person")
}

func TestSummarize_Errors(t *testing.T) {
	blocked := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}
	tests := []struct {
		name string
		g    *fakeGenerator
	}{
		{"api error", &fakeGenerator{err: errors.New("quota exceeded")}},
		{"nil response", &fakeGenerator{}},
		{"blocked", &fakeGenerator{resp: blocked}},
		{"blank text", &fakeGenerator{resp: textResponse("   ")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestClient(tt.g, 0).Summarize(context.Background(), sampleInput())
			assert.Error(t, err)
		})
	}
}

func TestSummarize_RateLimited(t *testing.T) {
	g := &fakeGenerator{resp: textResponse("ok")}
	c := newTestClient(g, 1)

	_, err := c.Summarize(context.Background(), sampleInput())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Summarize(ctx, sampleInput())
	assert.Error(t, err, "second call within the minute must wait for the limiter")
	assert.Len(t, g.prompts, 1)
}

func TestBuildPrompt_EmptyFields(t *testing.T) {
	p := buildPrompt(aggregator.SummaryInput{VideoID: "x"})
	assert.Contains(t, p, "Transcript: (none)")
	assert.Contains(t, p, "Detected products: (none)")
	assert.NotContains(t, p, "Title:")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("字", 10)
	assert.Equal(t, strings.Repeat("字", 4)+"…", truncate(long, 4))
	assert.Equal(t, "abc", truncate("abc", 4))
}
