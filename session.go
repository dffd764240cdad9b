package anonq

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ============================================================================
// Session
// ============================================================================

// Session carries an authenticated actor's access token. A nil or empty
// session means the actor is anonymous: reads on own data are off the
// table and only write-only anonymous sends are possible.
//
// The token is issued and signed by the backend's auth service; the
// client only reads its claims, it never verifies the signature. The
// backend re-verifies on every request, so a forged token buys nothing.
type Session struct {
	token string
}

// NewSession wraps an access token obtained from the auth service.
func NewSession(accessToken string) *Session {
	return &Session{token: accessToken}
}

// Token returns the raw access token.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// Authenticated reports whether the session carries a usable, unexpired
// token.
func (s *Session) Authenticated() bool {
	_, err := s.ActorID()
	return err == nil
}

// ActorID extracts the authenticated user id from the token's subject
// claim.
func (s *Session) ActorID() (string, error) {
	if s == nil || s.token == "" {
		return "", &PermissionError{Op: "session", Reason: "no access token"}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, claims); err != nil {
		return "", fmt.Errorf("failed to parse access token: %w", err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
		return "", &PermissionError{Op: "session", Reason: "access token expired"}
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("access token has no subject")
	}
	if _, err := uuid.Parse(sub); err != nil {
		return "", fmt.Errorf("access token subject is not a user id: %w", err)
	}
	return sub, nil
}
