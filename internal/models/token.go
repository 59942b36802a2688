package models

import (
	"strings"
	"time"
)

// AccessToken is an issued access token. For opaque tokens Value is the
// random bearer string kept in the token store; for JWTs it is the signed
// compact serialization and nothing is stored.
type AccessToken struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked,omitempty"`
}

// IsExpired reports whether the token is expired at now.
// A token is valid while now < ExpiresAt.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ScopeString returns the granted scopes joined by spaces.
func (t *AccessToken) ScopeString() string {
	return strings.Join(t.Scopes, " ")
}
