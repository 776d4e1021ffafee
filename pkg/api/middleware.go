package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/harrisonrobin/planhub/pkg/auth"
	"github.com/harrisonrobin/planhub/pkg/fault"
)

type contextKey string

const userKey contextKey = "user"

// User returns the email set by RequireAuth.
func User(ctx context.Context) string {
	email, _ := ctx.Value(userKey).(string)
	return email
}

// RequireAuth rejects requests without a valid bearer session token.
func RequireAuth(sessions *auth.Sessions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, fault.E(fault.Auth, "api.auth", err))
				return
			}
			email, err := sessions.Verify(token)
			if err != nil {
				writeError(w, fault.Errorf(fault.Auth, "api.auth", "invalid or expired token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, email)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logging logs one line per request.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
		})
	}
}
