package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "task", "t1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info filtered at warn level, got %s", out)
	}
	if !strings.Contains(out, `"task":"t1"`) {
		t.Errorf("Expected JSON attribute, got %s", out)
	}

	if _, err := New(&buf, "loud", "text"); !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error for bad level, got %v", err)
	}
	if _, err := New(&buf, "info", "xml"); !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error for bad format, got %v", err)
	}
}
