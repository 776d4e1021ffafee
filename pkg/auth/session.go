package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

// DefaultSessionTTL is how long an issued session token stays valid.
const DefaultSessionTTL = 24 * time.Hour

// Sessions issues and verifies HS256 bearer tokens identifying a user by
// email address.
type Sessions struct {
	secret []byte
	now    func() time.Time
}

func NewSessions(secret string) (*Sessions, error) {
	if len(secret) < 16 {
		return nil, fault.Errorf(fault.Config, "auth.sessions", "session secret must be at least 16 bytes")
	}
	return &Sessions{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for email that expires after ttl.
func (s *Sessions) Issue(email string, ttl time.Duration) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fault.Errorf(fault.Invalid, "auth.issue", "invalid email %q", email)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": email,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fault.E(fault.Internal, "auth.issue", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and returns the email it
// was issued for.
func (s *Sessions) Verify(raw string) (string, error) {
	const op = "auth.verify"
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fault.E(fault.Auth, op, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fault.Errorf(fault.Auth, op, "invalid token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fault.Errorf(fault.Auth, op, "token has no subject")
	}
	return sub, nil
}

// ErrNoBearer means the Authorization header is missing or not a bearer
// token.
var ErrNoBearer = errors.New("authorization header required")

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrNoBearer
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrNoBearer
	}
	return strings.TrimSpace(parts[1]), nil
}
