// Package store defines the task persistence contract shared by every
// backend, and the in-memory backend used for tests and single-user runs.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/harrisonrobin/planhub/pkg/model"
)

// ErrNotFound is wrapped by every backend when a task ID is unknown.
var ErrNotFound = errors.New("task not found")

// Store persists tasks. Implementations assign IDs on Insert and must be
// safe for concurrent use.
type Store interface {
	Insert(ctx context.Context, task model.Task) (model.Task, error)
	Update(ctx context.Context, id string, patch model.Patch) (model.Task, error)
	Get(ctx context.Context, id string) (model.Task, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, f Filter) ([]model.Task, error)
	Close() error
}

// Filter selects tasks. Zero fields do not constrain the result.
// Results are ordered by reminder time, tasks without one last.
type Filter struct {
	Owner     string
	Completed *bool
	// DueBy keeps tasks whose reminder is set and not after DueBy.
	DueBy *time.Time
	// NotifiedBefore keeps tasks never notified or last notified at or
	// before this instant.
	NotifiedBefore *time.Time
	Limit          int
}

// DueFilter selects incomplete tasks whose reminder has passed and which
// were not notified within window of now.
func DueFilter(now time.Time, window time.Duration, limit int) Filter {
	notCompleted := false
	dueBy := now.UTC()
	before := now.Add(-window).UTC()
	return Filter{
		Completed:      &notCompleted,
		DueBy:          &dueBy,
		NotifiedBefore: &before,
		Limit:          limit,
	}
}

// Match reports whether t satisfies every constraint of f except Limit.
func (f Filter) Match(t model.Task) bool {
	if f.Owner != "" && model.NormalizeEmail(t.Email) != model.NormalizeEmail(f.Owner) {
		return false
	}
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.DueBy != nil && (!t.HasReminder() || t.ReminderAt.After(*f.DueBy)) {
		return false
	}
	if f.NotifiedBefore != nil && t.LastNotifiedAt != nil && t.LastNotifiedAt.After(*f.NotifiedBefore) {
		return false
	}
	return true
}

// Sort orders tasks the way Query results are ordered.
func Sort(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch {
		case a.HasReminder() && !b.HasReminder():
			return true
		case !a.HasReminder() && b.HasReminder():
			return false
		case a.HasReminder() && !a.ReminderAt.Equal(*b.ReminderAt):
			return a.ReminderAt.Before(*b.ReminderAt)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// Prepare fills the defaults every backend applies on insert.
func Prepare(t model.Task, id string, now time.Time) model.Task {
	if t.ID == "" {
		t.ID = id
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.Category = model.NormalizeCategory(t.Category)
	t.Email = model.NormalizeEmail(t.Email)
	if t.ReminderAt != nil {
		at := t.ReminderAt.UTC()
		t.ReminderAt = &at
	}
	if t.LastNotifiedAt != nil {
		at := t.LastNotifiedAt.UTC()
		t.LastNotifiedAt = &at
	}
	return t
}
