// Package api serves the planner over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/harrisonrobin/planhub/pkg/auth"
	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/notifier"
	"github.com/harrisonrobin/planhub/pkg/planner"
)

// Ticker runs one notifier pass on demand.
type Ticker interface {
	Tick(ctx context.Context) notifier.Report
}

// Server holds the handlers for the HTTP API.
type Server struct {
	planner   *planner.Service
	sessions  *auth.Sessions
	notifier  Ticker
	mockLogin bool
	ttl       time.Duration
	log       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier enables POST /notify.
func WithNotifier(t Ticker) Option {
	return func(s *Server) { s.notifier = t }
}

// WithMockLogin enables POST /login, which issues a session for any
// email without a password.
func WithMockLogin(ttl time.Duration) Option {
	return func(s *Server) {
		s.mockLogin = true
		s.ttl = ttl
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func NewServer(p *planner.Service, sessions *auth.Sessions, opts ...Option) *Server {
	s := &Server{planner: p, sessions: sessions, ttl: auth.DefaultSessionTTL, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Errorf(fault.Invalid, "api.decode", "invalid request body: %v", err)
	}
	return nil
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := s.sessions.Issue(req.Email, s.ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Email: strings.ToLower(strings.TrimSpace(req.Email))})
}

type askRequest struct {
	Message string `json:"message"`
}

// Ask handles a free-form message. Extraction failures are answered with
// 200 and type "error"; only storage failures map to an error status.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	answer, err := s.planner.Ask(r.Context(), User(r.Context()), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	var completed *bool
	if v := r.URL.Query().Get("completed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, fault.Errorf(fault.Invalid, "api.list", "completed must be true or false"))
			return
		}
		completed = &b
	}
	tasks, err := s.planner.List(r.Context(), User(r.Context()), completed)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in planner.NewTask
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.planner.Add(r.Context(), User(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.planner.Get(r.Context(), User(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) CompleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.planner.Complete(r.Context(), User(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type reminderRequest struct {
	ReminderTime string `json:"reminder_time"`
}

func (s *Server) RescheduleTask(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.planner.Reschedule(r.Context(), User(r.Context()), mux.Vars(r)["id"], req.ReminderTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.Delete(r.Context(), User(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.planner.Stats(r.Context(), User(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type notifyResponse struct {
	At         time.Time `json:"at"`
	Skipped    bool      `json:"skipped"`
	Due        int       `json:"due"`
	Ineligible int       `json:"ineligible"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Unmarked   int       `json:"unmarked"`
	Error      string    `json:"error,omitempty"`
}

// Notify runs one notifier pass and reports what it did.
func (s *Server) Notify(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, fault.Errorf(fault.Config, "api.notify", "notifier is not configured"))
		return
	}
	rep := s.notifier.Tick(r.Context())
	resp := notifyResponse{
		At:         rep.At,
		Skipped:    rep.Skipped,
		Due:        rep.Due,
		Ineligible: rep.Ineligible,
		Sent:       rep.Sent,
		Failed:     rep.Failed,
		Unmarked:   rep.Unmarked,
	}
	if rep.Err != nil {
		resp.Error = rep.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
