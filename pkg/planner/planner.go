// Package planner composes intent extraction, date normalization, the
// task store and the calendar mirror into the operations a user performs.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/intent"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/naturaldate"
	"github.com/harrisonrobin/planhub/pkg/store"
)

// Mirror reflects task changes somewhere else, e.g. a calendar. Mirror
// failures are logged and never fail the operation.
type Mirror interface {
	Sync(ctx context.Context, task model.Task) error
	Remove(ctx context.Context, taskID string) error
}

// Service is the task planner: it turns messages into stored tasks and
// enforces that users only touch their own.
type Service struct {
	store     store.Store
	extractor *intent.Extractor
	dates     *naturaldate.Parser
	mirror    Mirror
	clock     clockwork.Clock
	log       *slog.Logger
}

type Option func(*Service)

func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New returns a planner over st. Options add calendar mirroring, a
// logger or a fake clock.
func New(st store.Store, extractor *intent.Extractor, dates *naturaldate.Parser, opts ...Option) *Service {
	s := &Service{
		store:     st,
		extractor: extractor,
		dates:     dates,
		clock:     clockwork.NewRealClock(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dates == nil {
		s.dates = naturaldate.New(time.UTC)
	}
	if s.extractor == nil {
		s.extractor = intent.NewExtractor(nil)
	}
	return s
}

// Location is the reference timezone for date phrases.
func (s *Service) Location() *time.Location {
	return s.dates.Location()
}

// Answer is the reply to an utterance.
type Answer struct {
	// Type is "task", "chat" or "error".
	Type    string        `json:"type"`
	Message string        `json:"message"`
	Task    *model.Task   `json:"task,omitempty"`
	Intent  intent.Result `json:"intent"`
}

// Ask classifies utterance and, for an add request, stores the task.
// Extraction problems are reported in the answer; the error is only set
// when storing the task failed.
func (s *Service) Ask(ctx context.Context, owner, utterance string) (Answer, error) {
	now := s.clock.Now().In(s.Location())
	res := s.extractor.Extract(ctx, utterance, now)

	switch res.Action {
	case intent.ActionAdd:
		task, err := s.Add(ctx, owner, NewTask{
			Description: res.Task,
			When:        res.Date,
			Category:    res.Category,
		})
		if err != nil {
			return Answer{Type: "error", Message: err.Error(), Intent: res}, err
		}
		return Answer{Type: "task", Message: addedMessage(task, s.Location()), Task: &task, Intent: res}, nil
	case intent.ActionChat:
		return Answer{Type: "chat", Message: res.Response, Intent: res}, nil
	default:
		return Answer{Type: "error", Message: res.Reason, Intent: res}, nil
	}
}

func addedMessage(task model.Task, loc *time.Location) string {
	if task.HasReminder() {
		return fmt.Sprintf("Task added: %s (reminder %s)", task.Description, task.ReminderAt.In(loc).Format("Mon, 02 Jan 2006 15:04 MST"))
	}
	return fmt.Sprintf("Task added: %s", task.Description)
}

// NewTask is user input for Add. ReminderAt wins over When.
type NewTask struct {
	Description string     `json:"task"`
	When        string     `json:"date,omitempty"`
	ReminderAt  *time.Time `json:"reminder_at,omitempty"`
	Category    string     `json:"category,omitempty"`
}

// Add stores a new incomplete task owned by owner. An unparseable When
// leaves the task without a reminder.
func (s *Service) Add(ctx context.Context, owner string, in NewTask) (model.Task, error) {
	const op = "planner.add"
	owner = model.NormalizeEmail(owner)
	if err := checkOwner(op, owner); err != nil {
		return model.Task{}, err
	}
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return model.Task{}, fault.Errorf(fault.Invalid, op, "task description is required")
	}

	task := model.Task{
		Description: desc,
		Email:       owner,
		Category:    model.NormalizeCategory(in.Category),
		ReminderAt:  in.ReminderAt,
	}
	if task.ReminderAt == nil && strings.TrimSpace(in.When) != "" {
		if at, ok := s.dates.Parse(in.When, s.clock.Now()); ok {
			task.ReminderAt = &at
		} else {
			s.log.Warn("could not parse reminder, storing task without one", "phrase", in.When)
		}
	}

	task, err := s.store.Insert(ctx, task)
	if err != nil {
		return model.Task{}, err
	}
	s.log.Info("task added", "task", task.ID, "owner", owner, "reminder", task.ReminderAt)
	s.sync(ctx, task)
	return task, nil
}

// List returns owner's tasks ordered by reminder time. completed
// optionally restricts the result.
func (s *Service) List(ctx context.Context, owner string, completed *bool) ([]model.Task, error) {
	owner = model.NormalizeEmail(owner)
	if err := checkOwner("planner.list", owner); err != nil {
		return nil, err
	}
	return s.store.Query(ctx, store.Filter{Owner: owner, Completed: completed})
}

// Get returns a task owned by owner.
func (s *Service) Get(ctx context.Context, owner, id string) (model.Task, error) {
	return s.owned(ctx, "planner.get", owner, id)
}

// Complete marks a task done.
func (s *Service) Complete(ctx context.Context, owner, id string) (model.Task, error) {
	return s.update(ctx, "planner.complete", owner, id, model.Patch{Completed: model.Ptr(true)})
}

// Reschedule sets a new reminder from a phrase or a datetime-local value.
// An empty value clears the reminder.
func (s *Service) Reschedule(ctx context.Context, owner, id, when string) (model.Task, error) {
	const op = "planner.reschedule"
	if strings.TrimSpace(when) == "" {
		return s.update(ctx, op, owner, id, model.Patch{ClearReminder: true})
	}
	at, ok := s.dates.Parse(when, s.clock.Now())
	if !ok {
		return model.Task{}, fault.Errorf(fault.Invalid, op, "could not understand the time %q", when)
	}
	return s.update(ctx, op, owner, id, model.Patch{ReminderAt: &at})
}

// Delete removes a task. A task that is already gone counts as deleted.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	const op = "planner.delete"
	if _, err := s.owned(ctx, op, owner, id); err != nil {
		if store.IsNotFound(err) {
			s.log.Info("task was already deleted", "task", id)
			return nil
		}
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil && !store.IsNotFound(err) {
		return err
	}
	if s.mirror != nil {
		if err := s.mirror.Remove(ctx, id); err != nil {
			s.log.Warn("could not remove task from mirror", "task", id, "error", err)
		}
	}
	return nil
}

func (s *Service) update(ctx context.Context, op, owner, id string, patch model.Patch) (model.Task, error) {
	if _, err := s.owned(ctx, op, owner, id); err != nil {
		return model.Task{}, err
	}
	task, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return model.Task{}, err
	}
	s.sync(ctx, task)
	return task, nil
}

// owned fetches id and rejects it unless owner owns it.
func (s *Service) owned(ctx context.Context, op, owner, id string) (model.Task, error) {
	owner = model.NormalizeEmail(owner)
	if err := checkOwner(op, owner); err != nil {
		return model.Task{}, err
	}
	if strings.TrimSpace(id) == "" {
		return model.Task{}, fault.Errorf(fault.Invalid, op, "task ID is required")
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	if model.NormalizeEmail(task.Email) != owner {
		return model.Task{}, fault.Errorf(fault.Permission, op, "task %s belongs to another user", id)
	}
	return task, nil
}

func (s *Service) sync(ctx context.Context, task model.Task) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Sync(ctx, task); err != nil {
		s.log.Warn("could not mirror task", "task", task.ID, "error", err)
	}
}

func checkOwner(op, owner string) error {
	if strings.TrimSpace(owner) == "" {
		return fault.Errorf(fault.Auth, op, "no user")
	}
	return nil
}
