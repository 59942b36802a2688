package models

import (
	"slices"
	"time"
)

// GrantTypeClientCredentials is the only grant type this server issues tokens for.
const GrantTypeClientCredentials = "client_credentials"

// Client is a registered OAuth2 client. Clients are immutable once registered.
type Client struct {
	ClientID       string
	SecretHash     string // bcrypt hash, never the plaintext secret
	Scopes         []string
	GrantTypes     []string
	AccessTokenTTL time.Duration
}

// HasGrantType reports whether the client may use grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// HasScope reports whether scope is one of the client's allowed scopes.
func (c *Client) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}
