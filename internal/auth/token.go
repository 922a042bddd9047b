// Package auth supplies the bearer token the daemon authenticates with.
// Obtaining the token (the login screen) happens outside the daemon; the
// token is handed over through a file in the session directory or an
// environment variable.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// EnvToken overrides the token file when set.
const EnvToken = "CHATSYNC_TOKEN"

// ErrReauthRequired means there is no usable token and the user must log in
// again.
var ErrReauthRequired = errors.New("auth: re-authentication required")

// Claims are the fields of a JWT access token the client cares about.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// Source reads the token on every call so a fresh login is picked up
// without restarting the daemon.
type Source struct {
	Path string
	Env  string
	Now  func() time.Time
}

// NewSource returns a Source reading path, overridable by CHATSYNC_TOKEN.
func NewSource(path string) *Source {
	return &Source{Path: path, Env: EnvToken, Now: time.Now}
}

// Token returns the current token. A missing, empty or expired token yields
// ErrReauthRequired.
func (s *Source) Token() (string, error) {
	token := ""
	if s.Env != "" {
		token = strings.TrimSpace(os.Getenv(s.Env))
	}
	if token == "" && s.Path != "" {
		data, err := os.ReadFile(s.Path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}
	if token == "" {
		return "", ErrReauthRequired
	}
	if err := s.checkExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

// Save stores token in the token file with owner-only permissions.
func (s *Source) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return err
	}
	return os.WriteFile(s.Path, []byte(strings.TrimSpace(token)+"\n"), 0600)
}

// Clear removes the token file, e.g. on logout.
func (s *Source) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// checkExpiry rejects JWTs whose exp has passed. The signature is not
// verified; the server does that. Opaque tokens are accepted as-is.
func (s *Source) checkExpiry(token string) error {
	claims, err := ParseClaims(token)
	if err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if !now().Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w: token expired at %s", ErrReauthRequired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return nil
}

// ParseClaims decodes a JWT's claims without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}
