package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

func TestSessionsRoundTrip(t *testing.T) {
	s, err := NewSessions("0123456789abcdef")
	if err != nil {
		t.Fatalf("NewSessions failed: %v", err)
	}
	tok, err := s.Issue(" A@Example.com ", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	email, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if email != "a@example.com" {
		t.Errorf("Expected a@example.com, got %q", email)
	}
}

func TestSessionsRejects(t *testing.T) {
	s, _ := NewSessions("0123456789abcdef")
	other, _ := NewSessions("fedcba9876543210")

	tok, _ := other.Issue("a@example.com", time.Hour)
	if _, err := s.Verify(tok); !fault.Is(err, fault.Auth) {
		t.Errorf("Expected auth error for foreign signature, got %v", err)
	}

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	tok, _ = s.Issue("a@example.com", time.Minute)
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := s.Verify(tok); !fault.Is(err, fault.Auth) {
		t.Errorf("Expected auth error for expired token, got %v", err)
	}

	if _, err := s.Verify("garbage"); !fault.Is(err, fault.Auth) {
		t.Errorf("Expected auth error for garbage, got %v", err)
	}
	if _, err := s.Issue("not-an-email", time.Hour); !fault.Is(err, fault.Invalid) {
		t.Errorf("Expected invalid error, got %v", err)
	}
	if _, err := NewSessions("short"); !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error for short secret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer", "", false},
	}
	for _, tt := range tests {
		got, err := BearerToken(tt.header)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("BearerToken(%q) = %q, %v", tt.header, got, err)
		}
	}
}

func TestRedirectURL(t *testing.T) {
	tests := map[string]string{
		"":                               "http://localhost:6789/oauth2callback",
		"urn:ietf:wg:oauth:2.0:oob":      "http://localhost:6789/oauth2callback",
		"http://localhost":               "http://localhost:6789",
		"http://127.0.0.1:8080/callback": "http://127.0.0.1:6789/callback",
		"https://example.com/cb":         "https://example.com/cb",
	}
	for in, want := range tests {
		if got := redirectURL(in); got != want {
			t.Errorf("redirectURL(%q): Expected %q, got %q", in, want, got)
		}
	}
}

func TestTokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", TokenFile)
	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r"}
	if err := saveToken(path, tok); err != nil {
		t.Fatalf("saveToken failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600, got %v", info.Mode().Perm())
	}
	got, err := tokenFromFile(path)
	if err != nil {
		t.Fatalf("tokenFromFile failed: %v", err)
	}
	if got.RefreshToken != "r" {
		t.Errorf("Expected refresh token r, got %q", got.RefreshToken)
	}
}

func TestGetClientWithoutCredentials(t *testing.T) {
	if _, err := GetClient(t.Context(), t.TempDir(), GoogleScopes); !fault.Is(err, fault.Config) {
		t.Errorf("Expected config error, got %v", err)
	}
}
