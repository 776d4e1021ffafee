package google

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini is an intent.Model backed by the Generative Language API.
type Gemini struct {
	srv   *generativelanguage.Service
	model string
}

// NewGemini creates a Gemini model client. Extra options replace the
// API key, e.g. in tests.
func NewGemini(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Gemini, error) {
	const op = "google.gemini"
	if apiKey == "" && len(opts) == 0 {
		return nil, fault.Errorf(fault.Config, op, "Gemini API key is not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	if len(opts) == 0 {
		opts = []option.ClientOption{option.WithAPIKey(apiKey)}
	}
	srv, err := generativelanguage.NewService(ctx, opts...)
	if err != nil {
		return nil, fault.E(fault.Config, op, err)
	}
	return &Gemini{srv: srv, model: model}, nil
}

// Generate asks the model for a JSON reply to utterance.
func (g *Gemini) Generate(ctx context.Context, instruction, utterance string) (string, error) {
	const op = "google.gemini.generate"
	req := &generativelanguage.GenerateContentRequest{
		SystemInstruction: &generativelanguage.Content{
			Parts: []*generativelanguage.Part{{Text: instruction}},
		},
		Contents: []*generativelanguage.Content{{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: utterance}},
		}},
		GenerationConfig: &generativelanguage.GenerationConfig{
			MaxOutputTokens:  512,
			ResponseMimeType: "application/json",
		},
	}

	resp, err := g.srv.Models.GenerateContent(g.model, req).Context(ctx).Do()
	if err != nil {
		return "", wrap(op, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fault.Errorf(fault.Malformed, op, "no candidates in response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", fault.E(fault.Malformed, op, fmt.Errorf("empty reply (finish reason %q)", resp.Candidates[0].FinishReason))
	}
	return text.String(), nil
}
