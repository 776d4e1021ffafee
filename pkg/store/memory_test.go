package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
	"github.com/harrisonrobin/planhub/pkg/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		m, err := store.NewMemory("")
		if err != nil {
			t.Fatalf("NewMemory failed: %v", err)
		}
		return m
	})
}

func TestMemoryFileBacked(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		m, err := store.NewMemory(filepath.Join(t.TempDir(), "tasks.json"))
		if err != nil {
			t.Fatalf("NewMemory failed: %v", err)
		}
		return m
	})
}

func TestMemoryPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "tasks.json")

	m, err := store.NewMemory(path)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	task, err := m.Insert(ctx, model.Task{Description: "water plants", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected file to be written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	reopened, err := store.NewMemory(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	got, err := reopened.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Description != "water plants" {
		t.Errorf("Expected 'water plants', got %q", got.Description)
	}
}

func TestMemoryWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.json")
	m, err := store.NewMemory(path)
	if err != nil {
		t.Fatalf("NewMemory failed: %v", err)
	}
	kept, err := m.Insert(ctx, model.Task{Description: "kept", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// A directory in place of the file makes every write fail.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(path, 0700); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Insert(ctx, model.Task{Description: "lost", Email: "a@example.com"}); err == nil {
		t.Fatal("Expected insert to fail")
	}
	if _, err := m.Update(ctx, kept.ID, model.Patch{Completed: model.Ptr(true)}); err == nil {
		t.Fatal("Expected update to fail")
	}
	if err := m.Delete(ctx, kept.ID); err == nil {
		t.Fatal("Expected delete to fail")
	}

	all, _ := m.Query(ctx, store.Filter{})
	if len(all) != 1 || all[0].ID != kept.ID {
		t.Fatalf("Expected only the kept task, got %+v", all)
	}
	if all[0].Completed {
		t.Error("Expected failed update to be rolled back")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Insert(ctx, model.Task{Description: "next", Email: "a@example.com"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	reopened, err := store.NewMemory(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	all, _ = reopened.Query(ctx, store.Filter{})
	if len(all) != 2 {
		t.Fatalf("Expected 2 persisted tasks, got %d", len(all))
	}
	for _, task := range all {
		if task.Description == "lost" || task.Completed {
			t.Errorf("Expected failed changes not persisted, got %+v", task)
		}
	}
}

func TestMemoryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.NewMemory(path); err == nil {
		t.Error("Expected error for corrupt file")
	}
}

func TestFilterMatch(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	recent := now.Add(-30 * time.Second)
	f := store.DueFilter(now, time.Minute, 20)

	tests := []struct {
		name string
		task model.Task
		want bool
	}{
		{"due", model.Task{ReminderAt: &past}, true},
		{"no reminder", model.Task{}, false},
		{"zero reminder", model.Task{ReminderAt: &time.Time{}}, false},
		{"completed", model.Task{ReminderAt: &past, Completed: true}, false},
		{"future", model.Task{ReminderAt: model.Ptr(now.Add(time.Minute))}, false},
		{"notified recently", model.Task{ReminderAt: &past, LastNotifiedAt: &recent}, false},
		{"notified exactly one window ago", model.Task{ReminderAt: &past, LastNotifiedAt: model.Ptr(now.Add(-time.Minute))}, true},
	}
	for _, tt := range tests {
		if got := f.Match(tt.task); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}

	owner := store.Filter{Owner: "a@example.com"}
	if owner.Match(model.Task{Email: "b@example.com"}) {
		t.Error("Expected owner filter to reject other users")
	}
}
