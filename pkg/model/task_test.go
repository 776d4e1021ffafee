package model

import (
	"testing"
	"time"
)

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]string{
		"work":      CategoryWork,
		" Study ":   CategoryStudy,
		"PERSONAL":  CategoryPersonal,
		"":          CategoryUncategorized,
		"groceries": CategoryUncategorized,
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("Expected alice@example.com, got %q", got)
	}
}

func TestPatchApply(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2025, 3, 11, 18, 0, 0, 0, ist)
	task := Task{ID: "t1", Description: "call mom", Category: CategoryUncategorized}

	Patch{ReminderAt: &at, Category: Ptr("work")}.Apply(&task)
	if !task.HasReminder() || !task.ReminderAt.Equal(at) {
		t.Fatalf("Expected reminder %v, got %v", at, task.ReminderAt)
	}
	if task.ReminderAt.Location() != time.UTC {
		t.Errorf("Expected reminder stored in UTC, got %v", task.ReminderAt.Location())
	}
	if task.Category != CategoryWork {
		t.Errorf("Expected category Work, got %s", task.Category)
	}

	Patch{ClearReminder: true, Completed: Ptr(true)}.Apply(&task)
	if task.HasReminder() {
		t.Error("Expected reminder to be cleared")
	}
	if !task.Completed {
		t.Error("Expected task to be completed")
	}
}

func TestPatchEmpty(t *testing.T) {
	if !(Patch{}).Empty() {
		t.Error("Expected zero patch to be empty")
	}
	if (Patch{ClearReminder: true}).Empty() {
		t.Error("Expected ClearReminder patch to be non-empty")
	}
}
