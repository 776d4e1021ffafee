package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harrisonrobin/planhub/pkg/auth"
	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/intent"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/naturaldate"
	"github.com/harrisonrobin/planhub/pkg/notifier"
	"github.com/harrisonrobin/planhub/pkg/planner"
	"github.com/harrisonrobin/planhub/pkg/retry"
	"github.com/harrisonrobin/planhub/pkg/store"
)

const secret = "0123456789abcdef0123"

type echoModel struct{}

func (echoModel) Generate(ctx context.Context, instruction, utterance string) (string, error) {
	if utterance == "hello" {
		return `{"action": "chat", "response": "Hi there"}`, nil
	}
	return `{"action": "add", "task": "` + utterance + `", "date": "2030-01-02T10:00", "category": "work"}`, nil
}

type fakeTicker struct{ calls int }

func (f *fakeTicker) Tick(ctx context.Context) notifier.Report {
	f.calls++
	return notifier.Report{Due: 2, Sent: 1, Failed: 1, Err: errors.New("boom")}
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *auth.Sessions) {
	t.Helper()
	mem, err := store.NewMemory("")
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := auth.NewSessions(secret)
	if err != nil {
		t.Fatal(err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := planner.New(mem,
		intent.NewExtractor(echoModel{}, intent.WithRetry(retry.None)),
		naturaldate.New(time.UTC),
		planner.WithLogger(quiet))
	opts = append(opts, WithLogger(quiet))
	srv := httptest.NewServer(NewServer(svc, sessions, opts...).Router())
	t.Cleanup(srv.Close)
	return srv, sessions
}

func do(t *testing.T, method, url, token string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func token(t *testing.T, sessions *auth.Sessions, email string) string {
	t.Helper()
	tok, err := sessions.Issue(email, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestHealthAndAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	if code := do(t, http.MethodGet, srv.URL+"/health", "", nil, nil); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}

	var e errorResponse
	if code := do(t, http.MethodGet, srv.URL+"/tasks", "", nil, &e); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", code)
	}
	if e.Type != "error" {
		t.Errorf("Expected error body, got %+v", e)
	}
	if code := do(t, http.MethodGet, srv.URL+"/tasks", "garbage", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with bad token, got %d", code)
	}
	if code := do(t, http.MethodPost, srv.URL+"/login", "", loginRequest{Email: "a@example.com"}, nil); code != http.StatusNotFound && code != http.StatusMethodNotAllowed {
		t.Errorf("Expected login disabled, got %d", code)
	}
}

func TestMockLogin(t *testing.T) {
	srv, sessions := newTestServer(t, WithMockLogin(time.Hour))

	var resp loginResponse
	if code := do(t, http.MethodPost, srv.URL+"/login", "", loginRequest{Email: " A@Example.com "}, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	email, err := sessions.Verify(resp.Token)
	if err != nil {
		t.Fatalf("Issued token did not verify: %v", err)
	}
	if email != "a@example.com" || resp.Email != "a@example.com" {
		t.Errorf("Expected a@example.com, got %q / %q", email, resp.Email)
	}

	if code := do(t, http.MethodPost, srv.URL+"/login", "", loginRequest{Email: "nope"}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad email, got %d", code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv, sessions := newTestServer(t)
	alice := token(t, sessions, "alice@example.com")
	bob := token(t, sessions, "bob@example.com")

	var created model.Task
	code := do(t, http.MethodPost, srv.URL+"/tasks", alice, planner.NewTask{Description: "write report", When: "2030-01-02T10:00", Category: "study"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", code)
	}
	if created.ID == "" || created.Email != "alice@example.com" || created.Category != model.CategoryStudy {
		t.Fatalf("Unexpected task %+v", created)
	}
	want := time.Date(2030, 1, 2, 10, 0, 0, 0, time.UTC)
	if created.ReminderAt == nil || !created.ReminderAt.Equal(want) {
		t.Errorf("Expected reminder %v, got %v", want, created.ReminderAt)
	}

	if code := do(t, http.MethodPost, srv.URL+"/tasks", alice, planner.NewTask{}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty description, got %d", code)
	}

	var tasks []model.Task
	do(t, http.MethodGet, srv.URL+"/tasks", bob, nil, &tasks)
	if len(tasks) != 0 {
		t.Errorf("Expected bob to see no tasks, got %d", len(tasks))
	}
	if code := do(t, http.MethodPost, srv.URL+"/tasks/"+created.ID+"/complete", bob, nil, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for foreign task, got %d", code)
	}

	var done model.Task
	if code := do(t, http.MethodPost, srv.URL+"/tasks/"+created.ID+"/complete", alice, nil, &done); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if !done.Completed {
		t.Error("Expected task completed")
	}

	do(t, http.MethodGet, srv.URL+"/tasks?completed=false", alice, nil, &tasks)
	if len(tasks) != 0 {
		t.Errorf("Expected no open tasks, got %d", len(tasks))
	}
	do(t, http.MethodGet, srv.URL+"/tasks?completed=true", alice, nil, &tasks)
	if len(tasks) != 1 {
		t.Errorf("Expected one completed task, got %d", len(tasks))
	}
	if code := do(t, http.MethodGet, srv.URL+"/tasks?completed=maybe", alice, nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad filter, got %d", code)
	}

	var moved model.Task
	if code := do(t, http.MethodPut, srv.URL+"/tasks/"+created.ID+"/reminder", alice, reminderRequest{ReminderTime: ""}, &moved); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if moved.ReminderAt != nil {
		t.Errorf("Expected reminder cleared, got %v", moved.ReminderAt)
	}
	if code := do(t, http.MethodPut, srv.URL+"/tasks/"+created.ID+"/reminder", alice, reminderRequest{ReminderTime: "whenever"}, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unparseable time, got %d", code)
	}

	if code := do(t, http.MethodDelete, srv.URL+"/tasks/"+created.ID, alice, nil, nil); code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", code)
	}
	if code := do(t, http.MethodDelete, srv.URL+"/tasks/"+created.ID, alice, nil, nil); code != http.StatusNoContent {
		t.Errorf("Expected repeated delete to succeed, got %d", code)
	}
	if code := do(t, http.MethodGet, srv.URL+"/tasks/"+created.ID, alice, nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", code)
	}
}

func TestAsk(t *testing.T) {
	srv, sessions := newTestServer(t)
	tok := token(t, sessions, "alice@example.com")

	var ans planner.Answer
	if code := do(t, http.MethodPost, srv.URL+"/ai-process", tok, askRequest{Message: "hello"}, &ans); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if ans.Type != "chat" || ans.Message != "Hi there" {
		t.Errorf("Expected chat answer, got %+v", ans)
	}

	if code := do(t, http.MethodPost, srv.URL+"/ai-process", tok, askRequest{Message: "buy milk"}, &ans); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if ans.Type != "task" || ans.Task == nil || ans.Task.Description != "buy milk" {
		t.Fatalf("Expected task answer, got %+v", ans)
	}

	var stats planner.Stats
	if code := do(t, http.MethodGet, srv.URL+"/stats", tok, nil, &stats); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if stats.TotalTasks != 1 {
		t.Errorf("Expected 1 task in stats, got %d", stats.TotalTasks)
	}
}

func TestNotify(t *testing.T) {
	srv, sessions := newTestServer(t)
	tok := token(t, sessions, "alice@example.com")
	if code := do(t, http.MethodPost, srv.URL+"/notify", tok, nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without notifier, got %d", code)
	}

	ticker := &fakeTicker{}
	srv, sessions = newTestServer(t, WithNotifier(ticker))
	tok = token(t, sessions, "alice@example.com")
	var resp notifyResponse
	if code := do(t, http.MethodPost, srv.URL+"/notify", tok, nil, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if ticker.calls != 1 || resp.Due != 2 || resp.Sent != 1 || resp.Failed != 1 || resp.Error != "boom" {
		t.Errorf("Unexpected report %+v (calls %d)", resp, ticker.calls)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fault.Errorf(fault.Invalid, "op", "x"), http.StatusBadRequest},
		{fault.Errorf(fault.Auth, "op", "x"), http.StatusUnauthorized},
		{fault.Errorf(fault.Permission, "op", "x"), http.StatusForbidden},
		{fault.Errorf(fault.NotFound, "op", "x"), http.StatusNotFound},
		{fault.Errorf(fault.Malformed, "op", "x"), http.StatusBadGateway},
		{fault.Errorf(fault.Transient, "op", "x"), http.StatusServiceUnavailable},
		{fault.Errorf(fault.Config, "op", "x"), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Expected %d for %v, got %d", tt.want, tt.err, got)
		}
	}
}
