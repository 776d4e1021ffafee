package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

var fast = Policy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fault.E(fault.Transient, "call", errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return fault.E(fault.Auth, "call", errors.New("401"))
	})
	if !fault.Is(err, fault.Auth) {
		t.Fatalf("Expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(ctx context.Context) error {
		calls++
		return fault.E(fault.Transient, "call", errors.New("timeout"))
	})
	if !fault.Is(err, fault.Transient) {
		t.Fatalf("Expected transient error, got %v", err)
	}
	if calls != fast.Attempts {
		t.Errorf("Expected %d calls, got %d", fast.Attempts, calls)
	}
}

func TestDoHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{Attempts: 5, Initial: time.Hour}
	calls := 0
	err := Do(ctx, slow, func(ctx context.Context) error {
		calls++
		cancel()
		return fault.E(fault.Transient, "call", errors.New("busy"))
	})
	if err == nil {
		t.Fatal("Expected an error after cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestValue(t *testing.T) {
	v, err := Value(context.Background(), None, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Errorf("Expected ok, got %q (%v)", v, err)
	}
}
