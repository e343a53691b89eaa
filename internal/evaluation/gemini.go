package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/zulandar/interviewdesk/internal/chatlog"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-pro"

const scoringPrompt = `You are scoring one answer from a job interview.
Score each axis as an integer from 0 to 5.
- accuracy: is the answer factually and technically correct
- depth: how much detail and reasoning the answer shows
- attitude: professionalism and tone
- relevance: how directly the answer addresses the question
Respond with a JSON object only: {"accuracy":N,"depth":N,"attitude":N,"relevance":N}

Question:
%s

Answer:
%s`

// generator is the slice of the genai client the scorer needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiScorer scores answers with a Gemini model instead of the API.
type GeminiScorer struct {
	models generator
	model  string
}

// NewGeminiScorer creates a GeminiScorer using the Gemini API backend.
func NewGeminiScorer(ctx context.Context, apiKey, model string) (*GeminiScorer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("evaluation: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation: create genai client: %w", err)
	}
	return newGeminiScorer(client.Models, model), nil
}

func newGeminiScorer(models generator, model string) *GeminiScorer {
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiScorer{models: models, model: model}
}

// Model returns the configured model name.
func (g *GeminiScorer) Model() string {
	return g.model
}

// Score asks the model for a JSON score object.
func (g *GeminiScorer) Score(ctx context.Context, req Request) (chatlog.Scores, error) {
	prompt := fmt.Sprintf(scoringPrompt, strings.TrimSpace(req.Question), strings.TrimSpace(req.Answer))
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: gemini generate: %w", err)
	}
	return parseScores(responseText(resp))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p == nil {
				continue
			}
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// parseScores accepts a bare JSON object, optionally wrapped in a markdown
// code fence.
func parseScores(text string) (chatlog.Scores, error) {
	if text == "" {
		return chatlog.Scores{}, errors.New("evaluation: gemini returned empty response")
	}
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			text = text[i : j+1]
		}
	}
	var s chatlog.Scores
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: parse gemini scores: %w", err)
	}
	if err := s.Validate(); err != nil {
		return chatlog.Scores{}, fmt.Errorf("evaluation: gemini scores: %w", err)
	}
	return s, nil
}
