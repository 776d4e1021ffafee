package model

import (
	"strings"
	"time"
)

// Known task categories. Anything else is stored as Uncategorized.
const (
	CategoryWork          = "Work"
	CategoryStudy         = "Study"
	CategoryPersonal      = "Personal"
	CategoryUncategorized = "Uncategorized"
)

// Categories lists the categories reported in statistics, in display order.
var Categories = []string{CategoryWork, CategoryStudy, CategoryPersonal}

// NormalizeEmail is the form owner addresses are stored and compared in.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeCategory maps free text onto one of the known categories.
func NormalizeCategory(s string) string {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(s, c) {
			return c
		}
	}
	return CategoryUncategorized
}

// Task is a single planner entry owned by one user.
type Task struct {
	ID             string     `json:"id"`
	Description    string     `json:"description"`
	Email          string     `json:"email"`
	Completed      bool       `json:"completed"`
	ReminderAt     *time.Time `json:"reminder_at,omitempty"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	Category       string     `json:"category"`
	CreatedAt      time.Time  `json:"created_at"`
}

// HasReminder reports whether the task can ever become due.
func (t Task) HasReminder() bool {
	return t.ReminderAt != nil && !t.ReminderAt.IsZero()
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Description    *string
	Completed      *bool
	ReminderAt     *time.Time
	ClearReminder  bool
	LastNotifiedAt *time.Time
	Category       *string
}

// Empty reports whether applying the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Description == nil && p.Completed == nil && p.ReminderAt == nil &&
		!p.ClearReminder && p.LastNotifiedAt == nil && p.Category == nil
}

// Apply mutates t with the fields set in p.
func (p Patch) Apply(t *Task) {
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.ClearReminder {
		t.ReminderAt = nil
	}
	if p.ReminderAt != nil {
		at := p.ReminderAt.UTC()
		t.ReminderAt = &at
	}
	if p.LastNotifiedAt != nil {
		at := p.LastNotifiedAt.UTC()
		t.LastNotifiedAt = &at
	}
	if p.Category != nil {
		t.Category = NormalizeCategory(*p.Category)
	}
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
