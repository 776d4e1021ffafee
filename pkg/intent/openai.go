package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

const (
	openaiBaseURL = "https://api.openai.com/v1"
	openaiModel   = "gpt-4o-mini"
)

// OpenAI is a Model backed by an OpenAI-compatible chat completions
// endpoint. It makes a single attempt per call; the Extractor retries.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	TopP           float64       `json:"top_p"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAI creates a client. Empty model and baseURL use defaults.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = openaiModel
	}
	if baseURL == "" {
		baseURL = openaiBaseURL
	}
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

func (c *OpenAI) Generate(ctx context.Context, instruction, utterance string) (string, error) {
	const op = "openai.generate"
	if c.apiKey == "" {
		return "", fault.E(fault.Config, op, errors.New("API key not set"))
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: utterance},
		},
		Temperature: 0.2,
		TopP:        0.8,
		MaxTokens:   512,
	}
	req.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(req)
	if err != nil {
		return "", fault.E(fault.Internal, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fault.E(fault.Internal, op, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fault.E(fault.Transient, op, fmt.Errorf("HTTP request failed: %w", err))
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", fault.E(fault.Transient, op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openaiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			err = fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		}
		return "", fault.E(fault.FromStatus(resp.StatusCode), op, err)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fault.E(fault.Malformed, op, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", fault.E(fault.Malformed, op, errors.New("no choices returned"))
	}
	return out.Choices[0].Message.Content, nil
}
