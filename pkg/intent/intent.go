// Package intent classifies a free-text utterance as a task to add or a
// question to answer, using a language model that replies in JSON.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/retry"
)

// Action is the classified kind of an utterance.
type Action string

const (
	ActionAdd   Action = "add"
	ActionChat  Action = "chat"
	ActionError Action = "error"
)

// FallbackResponse is returned for a chat reply the model left empty.
const FallbackResponse = "Sorry, I couldn't generate a specific response."

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 20 * time.Second

// Result is the outcome of an extraction. Only the fields relevant to
// Action are set.
type Result struct {
	Action   Action `json:"action"`
	Task     string `json:"task,omitempty"`
	Date     string `json:"date,omitempty"`
	Category string `json:"category,omitempty"`
	Response string `json:"response,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Model is a language model that answers a fixed instruction.
type Model interface {
	Generate(ctx context.Context, instruction, utterance string) (string, error)
}

// Extractor turns utterances into Results. It never returns an error:
// every failure becomes an ActionError result.
type Extractor struct {
	model   Model
	timeout time.Duration
	policy  retry.Policy
	log     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

func WithRetry(p retry.Policy) Option {
	return func(e *Extractor) { e.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.log = l }
}

// NewExtractor wraps m. A nil model yields an extractor that reports
// every utterance as an error.
func NewExtractor(m Model, opts ...Option) *Extractor {
	e := &Extractor{
		model:   m,
		timeout: DefaultTimeout,
		policy:  retry.Default,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Instruction is the fixed prompt sent with every utterance.
func Instruction(now time.Time) string {
	return fmt.Sprintf(`You are an AI Task Planner Assistant.
The current time is %s (%s).
Convert the user message into JSON in EXACTLY this format (no extra text outside the JSON):

{
  "action": "add" or "general",
  "task": "Extracted task description, without the date or time",
  "date": "Extracted date/time in natural language, e.g. 'tomorrow 3pm', or empty",
  "category": "Work", "Study", "Personal" or empty,
  "response": "The answer to a general question, or empty"
}

If the user asks to add a task or set a reminder, return action="add".
If the user message is a general question (not a task command), return action="general" and the answer in the "response" field.`,
		now.Format(time.RFC3339), now.Weekday())
}

// Extract classifies utterance. now is the reference time given to the
// model; the date phrase in the result is still relative to it.
func (e *Extractor) Extract(ctx context.Context, utterance string, now time.Time) Result {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return failed("no input provided")
	}
	if e.model == nil {
		return failed("language model not configured")
	}

	instruction := Instruction(now)
	raw, err := retry.Value(ctx, e.policy, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.model.Generate(ctx, instruction, utterance)
	})
	if err != nil {
		e.log.Warn("model request failed", "error", err, "kind", fault.KindOf(err))
		return failed(fmt.Sprintf("model request failed: %v", err))
	}

	res := Decode(raw)
	if res.Action == ActionError {
		e.log.Warn("model reply rejected", "reason", res.Reason, "raw", raw)
	}
	return res
}

type reply struct {
	Action   string `json:"action"`
	Task     string `json:"task"`
	Date     string `json:"date"`
	Category string `json:"category"`
	Response string `json:"response"`
	Extra    string `json:"extra"`
}

// ErrNoJSON is reported when a model reply contains no JSON object.
var ErrNoJSON = errors.New("model returned no JSON")

// Decode interprets a raw model reply. Text around the outermost JSON
// object, such as prose or code fences, is ignored.
func Decode(raw string) Result {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return failed(ErrNoJSON.Error())
	}

	var r reply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err != nil {
		return failed(fmt.Sprintf("failed to parse model JSON: %v", err))
	}

	switch strings.ToLower(strings.TrimSpace(r.Action)) {
	case "add":
		task := strings.TrimSpace(r.Task)
		if task == "" {
			return failed("model could not extract a task description")
		}
		res := Result{Action: ActionAdd, Task: task, Date: strings.TrimSpace(r.Date)}
		if c := strings.TrimSpace(r.Category); c != "" {
			res.Category = model.NormalizeCategory(c)
		}
		return res
	case "general", "chat":
		resp := strings.TrimSpace(r.Response)
		if resp == "" {
			resp = strings.TrimSpace(r.Extra)
		}
		if resp == "" {
			resp = FallbackResponse
		}
		return Result{Action: ActionChat, Response: resp}
	default:
		return failed(fmt.Sprintf("model returned unknown action: %q", r.Action))
	}
}

func failed(reason string) Result {
	return Result{Action: ActionError, Reason: reason}
}
