// Package google adapts Google APIs to the planner: a calendar mirror, a
// Gmail mail sender and a Gemini language model.
package google

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/planhub/pkg/auth"
	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/index"
)

// NewClient creates a calendar mirror for the calendar named
// calendarName, using the OAuth token stored in dir.
func NewClient(ctx context.Context, dir, calendarName string, idx *index.EventIndex, log *slog.Logger) (*CalendarClient, error) {
	client, err := auth.GetClient(ctx, dir, auth.GoogleScopes)
	if err != nil {
		return nil, err
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fault.E(fault.Config, "google.calendar", fmt.Errorf("unable to retrieve Calendar client: %w", err))
	}

	calendarID, err := FindCalendar(ctx, srv, calendarName)
	if err != nil {
		return nil, err
	}
	return NewCalendarClient(srv, calendarID, idx, log), nil
}

// FindCalendar resolves a calendar summary to its ID. "primary" is
// returned as is.
func FindCalendar(ctx context.Context, srv *calendar.Service, name string) (string, error) {
	if name == "" || name == "primary" {
		return "primary", nil
	}

	calendarList, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return "", wrap("google.calendar.list", fmt.Errorf("unable to retrieve calendar list: %w", err))
	}

	for _, item := range calendarList.Items {
		if item.Summary == name {
			return item.Id, nil
		}
	}
	return "", fault.Errorf(fault.Config, "google.calendar", "calendar '%s' not found", name)
}
