package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lib/pq"

	"github.com/harrisonrobin/planhub/pkg/fault"
	"github.com/harrisonrobin/planhub/pkg/model"
	"github.com/harrisonrobin/planhub/pkg/store"
	"github.com/harrisonrobin/planhub/pkg/store/storetest"
)

func openTemp(t *testing.T) store.Store {
	s, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "db", "planhub.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestSQLite(t *testing.T) {
	storetest.Run(t, openTemp)
}

// Set PLANHUB_TEST_POSTGRES to a DSN to run the suite against PostgreSQL.
func TestPostgres(t *testing.T) {
	dsn := os.Getenv("PLANHUB_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("PLANHUB_TEST_POSTGRES not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(DriverPostgres, dsn)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if _, err := s.db.Exec(`DELETE FROM tasks`); err != nil {
			t.Fatalf("Failed to clear table: %v", err)
		}
		return s
	})
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "planhub.db")

	s, err := Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	task, err := s.Insert(ctx, model.Task{Description: "renew passport", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	s.Close()

	s, err = Open(DriverSQLite, path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "renew passport" {
		t.Errorf("Expected 'renew passport', got %q", got.Description)
	}
}

func TestDuplicateInsert(t *testing.T) {
	s := openTemp(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.Insert(ctx, model.Task{ID: "fixed", Description: "a"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_, err := s.Insert(ctx, model.Task{ID: "fixed", Description: "b"})
	if !fault.Is(err, fault.Invalid) {
		t.Errorf("Expected invalid error for duplicate ID, got %v", err)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open("mysql", "x"); !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error for unknown driver, got %v", err)
	}
	if _, err := Open(DriverPostgres, ""); !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error for empty DSN, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	got := pg.rebind("SELECT * FROM tasks WHERE email = ? AND completed = ? LIMIT ?")
	want := "SELECT * FROM tasks WHERE email = $1 AND completed = $2 LIMIT $3"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("Expected sqlite query untouched, got %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want fault.Kind
	}{
		{&pq.Error{Code: "23505"}, fault.Invalid},
		{&pq.Error{Code: "08006"}, fault.Transient},
		{&pq.Error{Code: "40001"}, fault.Transient},
		{&pq.Error{Code: "28P01"}, fault.Auth},
		{context.DeadlineExceeded, fault.Transient},
		{errors.New("boom"), fault.Internal},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}
