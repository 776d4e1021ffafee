// Package airtable stores tasks as records of an Airtable table through
// the REST API.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/retry"
	"github.com/harrisonrobin/planhub/pkg/store"
)

const defaultBaseURL = "https://api.airtable.com/v0"

// Field names of the task table.
const (
	FieldName         = "Task Name"
	FieldCompleted    = "Completed"
	FieldEmail        = "Email"
	FieldReminder     = "Reminder Time"
	FieldLegacy       = "Reminder Local"
	FieldLastNotified = "Last Notified At"
	FieldCategory     = "Category"
)

// Options configure a Store. APIKey, BaseID and Table are required.
type Options struct {
	APIKey  string
	BaseID  string
	Table   string
	BaseURL string
	// Location interprets legacy naive reminder values.
	Location   *time.Location
	HTTPClient *http.Client
	Retry      retry.Policy
}

// Store implements store.Store. Airtable assigns record IDs.
type Store struct {
	apiKey   string
	endpoint string
	loc      *time.Location
	client   *http.Client
	policy   retry.Policy
}

type fields struct {
	Name         string `json:"Task Name"`
	Completed    bool   `json:"Completed"`
	Email        string `json:"Email"`
	Reminder     *Time  `json:"Reminder Time"`
	Legacy       *Time  `json:"Reminder Local"`
	LastNotified *Time  `json:"Last Notified At"`
	Category     string `json:"Category"`
}

type record struct {
	ID          string    `json:"id"`
	CreatedTime time.Time `json:"createdTime"`
	Fields      fields    `json:"fields"`
}

type listResponse struct {
	Records []record `json:"records"`
	Offset  string   `json:"offset"`
}

type apiError struct {
	Error json.RawMessage `json:"error"`
}

func New(o Options) (*Store, error) {
	const op = "airtable.new"
	if o.APIKey == "" || o.BaseID == "" || o.Table == "" {
		return nil, fault.Errorf(fault.Config, op, "API key, base ID and table are required")
	}
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if o.Retry.Attempts == 0 {
		o.Retry = retry.Default
	}
	return &Store{
		apiKey:   o.APIKey,
		endpoint: strings.TrimRight(o.BaseURL, "/") + "/" + url.PathEscape(o.BaseID) + "/" + url.PathEscape(o.Table),
		loc:      o.Location,
		client:   o.HTTPClient,
		policy:   o.Retry,
	}, nil
}

func (s *Store) Close() error { return nil }

// do sends one request with retries and decodes a successful reply into out.
func (s *Store) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fault.E(fault.Internal, op, fmt.Errorf("failed to marshal request: %w", err))
		}
	}
	target := s.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return fault.E(fault.Internal, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return fault.E(fault.Transient, op, fmt.Errorf("HTTP request failed: %w", err))
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fault.E(fault.Transient, op, fmt.Errorf("failed to read response body: %w", err))
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg := string(respBody)
			var e apiError
			if json.Unmarshal(respBody, &e) == nil && len(e.Error) > 0 {
				msg = string(e.Error)
			}
			err := fmt.Errorf("Airtable API error (%d): %s", resp.StatusCode, msg)
			if resp.StatusCode == http.StatusNotFound {
				err = fmt.Errorf("%w: %v", store.ErrNotFound, err)
			}
			return fault.E(fault.FromStatus(resp.StatusCode), op, err)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fault.E(fault.Malformed, op, fmt.Errorf("failed to decode response: %w", err))
		}
		return nil
	})
}

func (s *Store) Insert(ctx context.Context, task model.Task) (model.Task, error) {
	task = store.Prepare(task, "", time.Now())
	f := map[string]any{
		FieldName:      task.Description,
		FieldCompleted: task.Completed,
		FieldEmail:     task.Email,
		FieldCategory:  task.Category,
	}
	if task.ReminderAt != nil {
		f[FieldReminder] = Time{Time: *task.ReminderAt}
	}
	if task.LastNotifiedAt != nil {
		f[FieldLastNotified] = Time{Time: *task.LastNotifiedAt}
	}

	var rec record
	body := map[string]any{"fields": f, "typecast": true}
	if err := s.do(ctx, "airtable.insert", http.MethodPost, "", nil, body, &rec); err != nil {
		return model.Task{}, err
	}
	return s.toTask(rec), nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	rec, err := s.record(ctx, "airtable.get", id)
	if err != nil {
		return model.Task{}, err
	}
	return s.toTask(rec), nil
}

func (s *Store) record(ctx context.Context, op, id string) (record, error) {
	var rec record
	err := s.do(ctx, op, http.MethodGet, "/"+url.PathEscape(id), nil, nil, &rec)
	return rec, err
}

// Update sends only the patched fields; null clears a field. A reminder
// change also nulls the legacy reminder field when the record still
// carries one, so the old value cannot resurface.
func (s *Store) Update(ctx context.Context, id string, patch model.Patch) (model.Task, error) {
	if patch.Empty() {
		return s.Get(ctx, id)
	}

	f := map[string]any{}
	if patch.Description != nil {
		f[FieldName] = *patch.Description
	}
	if patch.Completed != nil {
		f[FieldCompleted] = *patch.Completed
	}
	if patch.ClearReminder {
		f[FieldReminder] = nil
	}
	if patch.ReminderAt != nil {
		f[FieldReminder] = Time{Time: *patch.ReminderAt}
	}
	if patch.LastNotifiedAt != nil {
		f[FieldLastNotified] = Time{Time: *patch.LastNotifiedAt}
	}
	if patch.ClearReminder || patch.ReminderAt != nil {
		current, err := s.record(ctx, "airtable.update", id)
		if err != nil {
			return model.Task{}, err
		}
		if current.Fields.Legacy != nil && !current.Fields.Legacy.IsZero() {
			f[FieldLegacy] = nil
		}
	}
	if patch.Category != nil {
		f[FieldCategory] = model.NormalizeCategory(*patch.Category)
	}

	var rec record
	body := map[string]any{"fields": f, "typecast": true}
	if err := s.do(ctx, "airtable.update", http.MethodPatch, "/"+url.PathEscape(id), nil, body, &rec); err != nil {
		return model.Task{}, err
	}
	return s.toTask(rec), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.do(ctx, "airtable.delete", http.MethodDelete, "/"+url.PathEscape(id), nil, nil, nil)
}

// Query follows pagination until every matching record is read, then
// orders and limits locally.
func (s *Store) Query(ctx context.Context, f store.Filter) ([]model.Task, error) {
	q := url.Values{}
	if formula := Formula(f, s.loc); formula != "" {
		q.Set("filterByFormula", formula)
	}
	q.Set("pageSize", "100")
	if f.Limit > 0 {
		q.Set("maxRecords", strconv.Itoa(f.Limit))
	}

	var tasks []model.Task
	for {
		var page listResponse
		if err := s.do(ctx, "airtable.query", http.MethodGet, "", q, nil, &page); err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			tasks = append(tasks, s.toTask(rec))
		}
		if page.Offset == "" {
			break
		}
		q.Set("offset", page.Offset)
	}

	store.Sort(tasks)
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	return tasks, nil
}

func (s *Store) toTask(rec record) model.Task {
	t := model.Task{
		ID:          rec.ID,
		Description: rec.Fields.Name,
		Email:       rec.Fields.Email,
		Completed:   rec.Fields.Completed,
		Category:    model.NormalizeCategory(rec.Fields.Category),
		CreatedAt:   rec.CreatedTime.UTC(),
	}
	if rec.Fields.Reminder != nil {
		t.ReminderAt = rec.Fields.Reminder.Instant(s.loc)
	}
	if t.ReminderAt == nil && rec.Fields.Legacy != nil {
		t.ReminderAt = rec.Fields.Legacy.Instant(s.loc)
	}
	if rec.Fields.LastNotified != nil {
		t.LastNotifiedAt = rec.Fields.LastNotified.Instant(s.loc)
	}
	return t
}

// Formula renders f as an Airtable filterByFormula expression. Instants
// are passed explicitly rather than relying on NOW(). Records with only
// the legacy naive reminder are compared against the due instant as wall
// clock in loc.
func Formula(f store.Filter, loc *time.Location) string {
	var parts []string
	if f.Owner != "" {
		parts = append(parts, fmt.Sprintf("LOWER({%s})=%s", FieldEmail, quote(model.NormalizeEmail(f.Owner))))
	}
	if f.Completed != nil {
		if *f.Completed {
			parts = append(parts, fmt.Sprintf("{%s}", FieldCompleted))
		} else {
			parts = append(parts, fmt.Sprintf("NOT({%s})", FieldCompleted))
		}
	}
	if f.DueBy != nil {
		if loc == nil {
			loc = time.UTC
		}
		parts = append(parts, fmt.Sprintf(
			"OR(AND({%[1]s}!='',NOT(IS_AFTER({%[1]s},%[3]s))),AND({%[1]s}='',{%[2]s}!='',NOT(IS_AFTER(DATETIME_PARSE({%[2]s}),%[4]s))))",
			FieldReminder, FieldLegacy, instant(*f.DueBy), wallClock(*f.DueBy, loc)))
	}
	if f.NotifiedBefore != nil {
		parts = append(parts, fmt.Sprintf("OR({%s}='',NOT(IS_AFTER({%s},%s)))",
			FieldLastNotified, FieldLastNotified, instant(*f.NotifiedBefore)))
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "AND(" + strings.Join(parts, ",") + ")"
}

func instant(t time.Time) string {
	return "DATETIME_PARSE('" + t.UTC().Format(time.RFC3339) + "')"
}

// wallClock renders t as a naive local timestamp, parsed the same way as
// the legacy field.
func wallClock(t time.Time, loc *time.Location) string {
	return "DATETIME_PARSE('" + t.In(loc).Format("2006-01-02T15:04:05") + "')"
}

func quote(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

