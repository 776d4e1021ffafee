package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

const (
	// ClientSecretsFile is the Google API credentials.json downloaded from
	// the Cloud Console, kept in the config directory.
	ClientSecretsFile = "credentials.json"

	// TokenFile holds the user's access and refresh token.
	TokenFile = "token.json"

	// LocalhostAuthPort is where the local server listens for the OAuth
	// redirect.
	LocalhostAuthPort = "6789"
)

// GoogleScopes covers every Google API the planner calls with user
// credentials: sending reminder mail and mirroring tasks to a calendar.
var GoogleScopes = []string{
	gmail.GmailSendScope,
	calendar.CalendarEventsScope,
	calendar.CalendarReadonlyScope,
}

// ErrNoToken means the authorization flow has not been run yet.
var ErrNoToken = errors.New("no OAuth token; run `planhub auth`")

// GetConfig creates an oauth2.Config from the client secrets file in dir.
func GetConfig(dir string, scopes []string) (*oauth2.Config, error) {
	const op = "auth.config"
	clientSecretsFile := filepath.Join(dir, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fault.E(fault.Config, op, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err))
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fault.E(fault.Config, op, fmt.Errorf("unable to parse client secret file to config: %w", err))
	}
	config.RedirectURL = redirectURL(config.RedirectURL)
	return config, nil
}

// redirectURL forces localhost and out-of-band redirects onto the port
// the callback server listens on.
func redirectURL(configured string) string {
	if configured == "urn:ietf:wg:oauth:2.0:oob" || configured == "" {
		return fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
	}
	parsed, err := url.Parse(configured)
	if err != nil {
		slog.Warn("could not parse redirect URL, using it as is", "url", configured, "error", err)
		return configured
	}
	if parsed.Hostname() != "localhost" && parsed.Hostname() != "127.0.0.1" {
		slog.Warn("redirect URL is not a localhost callback", "url", configured)
		return configured
	}
	if parsed.Port() != LocalhostAuthPort {
		parsed.Host = net.JoinHostPort(parsed.Hostname(), LocalhostAuthPort)
	}
	return parsed.String()
}

// GetClient returns an *http.Client that refreshes the stored token as
// needed. It never starts the interactive flow; a missing token yields a
// Config error wrapping ErrNoToken.
func GetClient(ctx context.Context, dir string, scopes []string) (*http.Client, error) {
	config, err := GetConfig(dir, scopes)
	if err != nil {
		return nil, err
	}

	tokenFile := filepath.Join(dir, TokenFile)
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fault.E(fault.Config, "auth.client", fmt.Errorf("%w: %v", ErrNoToken, err))
	}

	src := &savingSource{
		base: config.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

// savingSource persists the token whenever a refresh changes it.
type savingSource struct {
	base oauth2.TokenSource
	path string
	last *oauth2.Token
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		if err := saveToken(s.path, tok); err != nil {
			slog.Warn("could not save refreshed token", "path", s.path, "error", err)
		}
		s.last = tok
	}
	return tok, nil
}

// Login runs the browser authorization flow and stores the token in dir.
func Login(ctx context.Context, dir string, scopes []string) error {
	config, err := GetConfig(dir, scopes)
	if err != nil {
		return err
	}
	tok, err := getTokenFromWeb(ctx, config)
	if err != nil {
		return fault.E(fault.Auth, "auth.login", err)
	}
	return saveToken(filepath.Join(dir, TokenFile), tok)
}

// getTokenFromWeb runs the authorization code flow via a local web server
// that captures the redirect.
func getTokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	state := fmt.Sprintf("planhub-%d", time.Now().UnixNano())

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("state") != state {
				http.Error(w, "State mismatch", http.StatusBadRequest)
				return
			}
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- errors.New("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	defer server.Shutdown(context.Background())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()

	// AccessTypeOffline is required for a refresh token.
	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize PlanHub:\n%s\n", authURL)
	slog.Info("waiting for authorization code", "redirect", config.RedirectURL)

	select {
	case authCode := <-codeCh:
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := config.Exchange(ctx, authCode)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, errors.New("authorization timed out. Please try again")
	}
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
