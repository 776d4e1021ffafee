package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/index"
	"github.com/harrisonrobin/planhub/pkg/model"
)

// CalendarClient mirrors reminder-bearing tasks into one Google Calendar.
type CalendarClient struct {
	srv        *calendar.Service
	calendarID string
	index      *index.EventIndex
	log        *slog.Logger
	now        func() time.Time
}

// NewCalendarClient creates a mirror on calendarID. idx may be nil.
func NewCalendarClient(srv *calendar.Service, calendarID string, idx *index.EventIndex, log *slog.Logger) *CalendarClient {
	if log == nil {
		log = slog.Default()
	}
	return &CalendarClient{srv: srv, calendarID: calendarID, index: idx, log: log, now: time.Now}
}

// Sync creates or patches the event for task. A task without a reminder
// has its event removed.
func (c *CalendarClient) Sync(ctx context.Context, task model.Task) error {
	if !task.HasReminder() {
		return c.Remove(ctx, task.ID)
	}
	event, err := TaskToEvent(task, c.now())
	if err != nil {
		return err
	}

	existing, err := c.findEvent(ctx, task.ID)
	if err != nil {
		return err
	}

	if existing != nil {
		patch, err := EventNeedsUpdate(existing, event)
		if err != nil {
			c.log.Warn("could not compare task with its calendar event", "task", task.ID, "error", err)
			return err
		}
		if patch == nil {
			return nil
		}
		updated, err := c.PatchEvent(ctx, existing.Id, patch)
		if err != nil {
			return err
		}
		c.remember(task.ID, updated.Id)
		return nil
	}

	created, err := c.srv.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return wrap("google.calendar.insert", err)
	}
	c.remember(task.ID, created.Id)
	return nil
}

// Remove deletes the event mirroring taskID, if any.
func (c *CalendarClient) Remove(ctx context.Context, taskID string) error {
	existing, err := c.findEvent(ctx, taskID)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := c.DeleteEvent(ctx, existing.Id); err != nil && !fault.Is(err, fault.NotFound) {
			return err
		}
	}
	if c.index != nil {
		c.index.Remove(taskID)
		if err := c.index.Save(); err != nil {
			c.log.Warn("failed to save event index", "error", err)
		}
	}
	return nil
}

// findEvent looks the event up through the index first, then by extended
// property.
func (c *CalendarClient) findEvent(ctx context.Context, taskID string) (*calendar.Event, error) {
	if c.index != nil {
		if eventID := c.index.Get(taskID); eventID != "" {
			event, err := c.srv.Events.Get(c.calendarID, eventID).Context(ctx).Do()
			if err == nil && event.Status != "cancelled" {
				return event, nil
			}
			// Stale mapping, fall back to search.
		}
	}
	event, err := c.GetEventByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("error searching for event: %w", err)
	}
	return event, nil
}

func (c *CalendarClient) remember(taskID, eventID string) {
	if c.index == nil {
		return
	}
	c.index.Set(taskID, eventID)
	if err := c.index.Save(); err != nil {
		c.log.Warn("failed to save event index", "error", err)
	}
}

// PatchEvent performs a partial update on an event.
func (c *CalendarClient) PatchEvent(ctx context.Context, eventID string, patch *calendar.Event) (*calendar.Event, error) {
	event, err := c.srv.Events.Patch(c.calendarID, eventID, patch).Context(ctx).Do()
	if err != nil {
		return nil, wrap("google.calendar.patch", err)
	}
	return event, nil
}

// DeleteEvent deletes an event from the calendar.
func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	return wrap("google.calendar.delete", c.srv.Events.Delete(c.calendarID, eventID).Context(ctx).Do())
}

// ListEvents fetches events starting after timeMin.
func (c *CalendarClient) ListEvents(ctx context.Context, timeMin time.Time) ([]*calendar.Event, error) {
	events, err := c.srv.Events.List(c.calendarID).TimeMin(timeMin.Format(time.RFC3339)).Context(ctx).Do()
	if err != nil {
		return nil, wrap("google.calendar.list", err)
	}
	return events.Items, nil
}

// GetEventByTaskID searches for the event carrying taskID in its private
// extended properties.
func (c *CalendarClient) GetEventByTaskID(ctx context.Context, taskID string) (*calendar.Event, error) {
	events, err := c.srv.Events.List(c.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", TaskIDProperty, taskID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrap("google.calendar.search", err)
	}
	if len(events.Items) > 0 {
		return events.Items[0], nil
	}
	return nil, nil
}

// wrap attaches a fault kind derived from the Google API status code.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		kind := fault.FromStatus(apiErr.Code)
		if apiErr.Code == http.StatusForbidden && isRateLimit(apiErr) {
			kind = fault.Transient
		}
		return fault.E(kind, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fault.E(fault.Internal, op, err)
	}
	return fault.E(fault.Transient, op, err)
}

// Google reports some quota errors as 403.
func isRateLimit(err *googleapi.Error) bool {
	for _, item := range err.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded":
			return true
		}
	}
	return false
}
