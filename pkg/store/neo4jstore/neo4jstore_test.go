package neo4jstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
	"github.com/harrisonrobin/planhub/pkg/store/storetest"
)

// Set PLANHUB_TEST_NEO4J (bolt URI) and optionally PLANHUB_TEST_NEO4J_PASSWORD
// to run the shared suite against a live database.
func TestNeo4j(t *testing.T) {
	uri := os.Getenv("PLANHUB_TEST_NEO4J")
	if uri == "" {
		t.Skip("PLANHUB_TEST_NEO4J not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, uri, "neo4j", os.Getenv("PLANHUB_TEST_NEO4J_PASSWORD"), "")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		session := s.session(ctx, neo4j.AccessModeWrite)
		defer session.Close(ctx)
		if _, err := session.Run(ctx, "MATCH (n) WHERE n:Task OR n:User DETACH DELETE n", nil); err != nil {
			t.Fatalf("Failed to clear graph: %v", err)
		}
		return s
	})
}

func TestBuildQuery(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	cypher, params := buildQuery(store.DueFilter(now, time.Minute, 20))

	for _, want := range []string{
		"t.completed = $completed",
		"t.reminder_at IS NOT NULL AND t.reminder_at <= $dueBy",
		"(t.last_notified_at IS NULL OR t.last_notified_at <= $notifiedBefore)",
		"LIMIT $limit",
	} {
		if !strings.Contains(cypher, want) {
			t.Errorf("Expected query to contain %q, got %q", want, cypher)
		}
	}
	if params["dueBy"] != now.UnixMilli() {
		t.Errorf("Expected dueBy %d, got %v", now.UnixMilli(), params["dueBy"])
	}
	if params["notifiedBefore"] != now.Add(-time.Minute).UnixMilli() {
		t.Errorf("Expected notifiedBefore one minute earlier, got %v", params["notifiedBefore"])
	}
	if params["limit"] != int64(20) {
		t.Errorf("Expected limit 20, got %v", params["limit"])
	}

	cypher, params = buildQuery(store.Filter{})
	if strings.Contains(cypher, "WHERE") || len(params) != 0 {
		t.Errorf("Expected unfiltered query, got %q %v", cypher, params)
	}
}

func TestPropsRoundTrip(t *testing.T) {
	reminder := time.Date(2025, 3, 11, 12, 30, 0, 0, time.UTC)
	task := model.Task{
		ID:          "t1",
		Description: "call mom",
		Email:       "a@example.com",
		ReminderAt:  &reminder,
		Category:    model.CategoryPersonal,
		CreatedAt:   reminder.Add(-time.Hour),
	}

	props := toProps(task)
	if props["last_notified_at"] != nil {
		t.Errorf("Expected unset last_notified_at to be nil, got %v", props["last_notified_at"])
	}

	got, err := fromProps(props)
	if err != nil {
		t.Fatalf("fromProps failed: %v", err)
	}
	if got.ID != "t1" || got.Description != "call mom" || got.Category != model.CategoryPersonal {
		t.Errorf("Unexpected task %+v", got)
	}
	if got.ReminderAt == nil || !got.ReminderAt.Equal(reminder) {
		t.Errorf("Expected reminder %v, got %v", reminder, got.ReminderAt)
	}
	if got.LastNotifiedAt != nil {
		t.Errorf("Expected no last-notified time, got %v", got.LastNotifiedAt)
	}

	if _, err := fromProps(map[string]any{"description": "orphan"}); err == nil {
		t.Error("Expected error for node without id")
	}
}
