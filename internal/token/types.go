package token

import (
	"strings"
	"time"

	"github.com/go-authgate/tokengate/internal/models"
)

// Mode selects how access tokens are minted and validated.
type Mode string

const (
	ModeOpaque Mode = "opaque"
	ModeJWT    Mode = "jwt"
)

// ParseMode validates s as a token mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeOpaque, ModeJWT:
		return Mode(s), true
	}
	return "", false
}

// TokenResult represents the result of token generation
type TokenResult struct {
	TokenString string    // opaque value or signed JWT
	TokenType   string    // "bearer"
	Scope       string    // space separated granted scopes
	ExpiresIn   int64     // seconds
	ExpiresAt   time.Time // token expiration time
}

// ResultFor describes a freshly issued token. ExpiresIn is the full
// lifetime, not the time remaining.
func ResultFor(tok *models.AccessToken) *TokenResult {
	return &TokenResult{
		TokenString: tok.Value,
		TokenType:   "bearer",
		Scope:       tok.ScopeString(),
		ExpiresIn:   int64(tok.ExpiresAt.Sub(tok.IssuedAt) / time.Second),
		ExpiresAt:   tok.ExpiresAt,
	}
}

// TokenValidationResult represents the result of token verification.
// It is produced fresh for every validation and never persisted.
type TokenValidationResult struct {
	Valid     bool
	ClientID  string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Reason    ErrorKind
}

// Invalid returns a failed validation result carrying reason.
func Invalid(reason ErrorKind) *TokenValidationResult {
	return &TokenValidationResult{Valid: false, Reason: reason}
}

// ScopeString returns the scopes joined by spaces.
func (r *TokenValidationResult) ScopeString() string {
	return strings.Join(r.Scopes, " ")
}

// ParseScope splits a space separated scope string, dropping empties and
// duplicates while keeping the first-seen order.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
