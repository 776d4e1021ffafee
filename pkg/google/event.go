package google

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
)

// TaskIDProperty is the private extended property linking an event to
// its task.
const TaskIDProperty = "planhub_task_id"

// EventDuration is the length of a reminder event.
const EventDuration = 30 * time.Minute

// Calendar color IDs per category. 8 is graphite.
var categoryColors = map[string]string{
	model.CategoryWork:     "9",
	model.CategoryStudy:    "5",
	model.CategoryPersonal: "2",
}

const defaultColor = "8"

// ColorID returns the calendar color for a category.
func ColorID(category string) string {
	if id, ok := categoryColors[model.NormalizeCategory(category)]; ok {
		return id
	}
	return defaultColor
}

// TaskToEvent converts a task into the event that mirrors it. Tasks
// without a reminder have no event.
func TaskToEvent(task model.Task, now time.Time) (*calendar.Event, error) {
	if !task.HasReminder() {
		return nil, fault.Errorf(fault.Invalid, "google.event", "task %s has no reminder", task.ID)
	}

	prefix := ""
	if task.Completed {
		prefix = "✓"
	} else if task.ReminderAt.Before(now) {
		// Overdue
		prefix = "!"
	}
	summary := task.Description
	if prefix != "" {
		summary = fmt.Sprintf("%s %s", prefix, task.Description)
	}

	start := task.ReminderAt.UTC()
	end := start.Add(EventDuration)

	var desc strings.Builder
	status := "pending"
	if task.Completed {
		status = "completed"
	}
	fmt.Fprintf(&desc, "Status: %s\n", status)
	fmt.Fprintf(&desc, "Category: %s\n", model.NormalizeCategory(task.Category))
	if task.Email != "" {
		fmt.Fprintf(&desc, "Owner: %s\n", task.Email)
	}
	fmt.Fprintf(&desc, "ID: %s\n", task.ID)
	if task.LastNotifiedAt != nil {
		fmt.Fprintf(&desc, "\n• reminded at: %s\n", task.LastNotifiedAt.UTC().Format(time.RFC3339))
	}

	return &calendar.Event{
		Summary:     summary,
		ColorId:     ColorID(task.Category),
		Description: desc.String(),
		Start: &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
		},
		End: &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{
				TaskIDProperty: task.ID,
			},
		},
	}, nil
}

// EventNeedsUpdate returns a patch with the fields of target that differ
// from existing, or nil when they match.
func EventNeedsUpdate(existing, target *calendar.Event) (*calendar.Event, error) {
	patch := &calendar.Event{}
	needsUpdate := false

	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		needsUpdate = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		needsUpdate = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		needsUpdate = true
	}

	sameStart, err := sameInstant(existing.Start, target.Start)
	if err != nil {
		return nil, err
	}
	sameEnd, err := sameInstant(existing.End, target.End)
	if err != nil {
		return nil, err
	}
	if !sameStart || !sameEnd {
		patch.Start = target.Start
		patch.End = target.End
		needsUpdate = true
	}

	if needsUpdate {
		return patch, nil
	}
	return nil, nil
}

func sameInstant(a, b *calendar.EventDateTime) (bool, error) {
	if a == nil || b == nil || a.DateTime == "" || b.DateTime == "" {
		// All-day or missing times never match a reminder event.
		return false, nil
	}
	at, err := time.Parse(time.RFC3339, a.DateTime)
	if err != nil {
		return false, fault.E(fault.Malformed, "google.event", err)
	}
	bt, err := time.Parse(time.RFC3339, b.DateTime)
	if err != nil {
		return false, fault.E(fault.Malformed, "google.event", err)
	}
	return at.Equal(bt), nil
}

var idLine = regexp.MustCompile(`(?m)^ID: (\S+)$`)

// TaskIDFromEvent returns the task an event mirrors, read from its
// extended property or, for hand-edited events, its description.
func TaskIDFromEvent(event *calendar.Event) (string, bool) {
	if event == nil {
		return "", false
	}
	if p := event.ExtendedProperties; p != nil && p.Private[TaskIDProperty] != "" {
		return p.Private[TaskIDProperty], true
	}
	if m := idLine.FindStringSubmatch(event.Description); len(m) > 1 {
		return m[1], true
	}
	return "", false
}
