// Package storetest holds the behaviour every store.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
)

// Base is the reference instant used by the suite. Whole seconds keep
// backends with millisecond storage exact.
var Base = time.Date(2025, 3, 10, 3, 30, 0, 0, time.UTC)

// Run exercises a fresh, empty store returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, open(t)) })
	t.Run("UpdateDelete", func(t *testing.T) { testUpdateDelete(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("QueryOwner", func(t *testing.T) { testQueryOwner(t, open(t)) })
	t.Run("QueryDue", func(t *testing.T) { testQueryDue(t, open(t)) })
}

func at(d time.Duration) *time.Time {
	v := Base.Add(d)
	return &v
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	ist := time.FixedZone("IST", 5*3600+1800)
	reminder := time.Date(2025, 3, 11, 18, 0, 0, 0, ist)
	created, err := s.Insert(ctx, model.Task{
		Description: "call mom",
		Email:       "a@example.com",
		ReminderAt:  &reminder,
		Category:    "personal",
		CreatedAt:   Base,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Expected store to assign an ID")
	}
	if created.Category != model.CategoryPersonal {
		t.Errorf("Expected category Personal, got %q", created.Category)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "call mom" || got.Email != "a@example.com" || got.Completed {
		t.Errorf("Unexpected task %+v", got)
	}
	if !got.HasReminder() || !got.ReminderAt.Equal(reminder) {
		t.Errorf("Expected reminder %v, got %v", reminder, got.ReminderAt)
	}
	if got.LastNotifiedAt != nil {
		t.Errorf("Expected no last-notified time, got %v", got.LastNotifiedAt)
	}
	if !got.CreatedAt.Equal(Base) {
		t.Errorf("Expected created %v, got %v", Base, got.CreatedAt)
	}

	plain, err := s.Insert(ctx, model.Task{Description: "no reminder", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if plain.Category != model.CategoryUncategorized {
		t.Errorf("Expected default category, got %q", plain.Category)
	}
	if plain.ID == created.ID {
		t.Error("Expected distinct IDs")
	}
}

func testUpdateDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	task, err := s.Insert(ctx, model.Task{Description: "write report", Email: "a@example.com", ReminderAt: at(time.Hour)})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := s.Update(ctx, task.ID, model.Patch{
		Completed:      model.Ptr(true),
		LastNotifiedAt: at(2 * time.Hour),
		Category:       model.Ptr("Work"),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.Completed || updated.Category != model.CategoryWork {
		t.Errorf("Unexpected update result %+v", updated)
	}
	if updated.LastNotifiedAt == nil || !updated.LastNotifiedAt.Equal(*at(2 * time.Hour)) {
		t.Errorf("Expected last notified %v, got %v", at(2*time.Hour), updated.LastNotifiedAt)
	}

	got, _ := s.Get(ctx, task.ID)
	if got.Description != "write report" {
		t.Errorf("Expected untouched description, got %q", got.Description)
	}

	got, err = s.Update(ctx, task.ID, model.Patch{ClearReminder: true})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.HasReminder() {
		t.Error("Expected reminder to be cleared")
	}

	if err := s.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, task.ID); !store.IsNotFound(err) {
		t.Errorf("Expected not found after delete, got %v", err)
	}
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	if _, err := s.Get(ctx, "missing"); !store.IsNotFound(err) {
		t.Errorf("Get: expected not found, got %v", err)
	}
	if _, err := s.Update(ctx, "missing", model.Patch{Completed: model.Ptr(true)}); !store.IsNotFound(err) {
		t.Errorf("Update: expected not found, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); !store.IsNotFound(err) {
		t.Errorf("Delete: expected not found, got %v", err)
	}
}

func testQueryOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	for i, owner := range []string{"a@example.com", "b@example.com", " A@Example.com"} {
		_, err := s.Insert(ctx, model.Task{
			Description: owner,
			Email:       owner,
			CreatedAt:   Base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	late, _ := s.Insert(ctx, model.Task{Description: "late", Email: "a@example.com", ReminderAt: at(48 * time.Hour)})
	early, _ := s.Insert(ctx, model.Task{Description: "early", Email: "a@example.com", ReminderAt: at(time.Hour)})

	got, err := s.Query(ctx, store.Filter{Owner: "A@example.COM"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 tasks, got %d", len(got))
	}
	if got[0].ID != early.ID || got[1].ID != late.ID {
		t.Errorf("Expected reminder order early, late; got %q, %q", got[0].Description, got[1].Description)
	}
	for _, task := range got {
		if task.Email != "a@example.com" {
			t.Errorf("Expected only owner's tasks, got %s", task.Email)
		}
	}

	got, _ = s.Query(ctx, store.Filter{Owner: "a@example.com", Limit: 1})
	if len(got) != 1 {
		t.Errorf("Expected limit 1, got %d", len(got))
	}
}

func testQueryDue(t *testing.T, s store.Store) {
	ctx := context.Background()
	defer s.Close()

	now := Base.Add(24 * time.Hour)
	insert := func(desc string, task model.Task) string {
		task.Description = desc
		task.Email = "a@example.com"
		created, err := s.Insert(ctx, task)
		if err != nil {
			t.Fatalf("Insert %s failed: %v", desc, err)
		}
		return created.ID
	}

	due := insert("due", model.Task{ReminderAt: at(time.Hour)})
	dueNow := insert("due now", model.Task{ReminderAt: &now})
	notifiedLongAgo := insert("notified long ago", model.Task{ReminderAt: at(time.Hour), LastNotifiedAt: at(2 * time.Hour)})
	insert("no reminder", model.Task{})
	insert("future", model.Task{ReminderAt: at(48 * time.Hour)})
	insert("completed", model.Task{ReminderAt: at(time.Hour), Completed: true})
	insert("just notified", model.Task{ReminderAt: at(time.Hour), LastNotifiedAt: at(24*time.Hour - 30*time.Second)})

	got, err := s.Query(ctx, store.DueFilter(now, time.Minute, 0))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := map[string]bool{due: true, dueNow: true, notifiedLongAgo: true}
	if len(got) != len(want) {
		t.Fatalf("Expected %d due tasks, got %d: %+v", len(want), len(got), got)
	}
	for _, task := range got {
		if !want[task.ID] {
			t.Errorf("Unexpected due task %q", task.Description)
		}
	}

	got, _ = s.Query(ctx, store.DueFilter(now, time.Minute, 2))
	if len(got) != 2 {
		t.Errorf("Expected batch of 2, got %d", len(got))
	}
}
