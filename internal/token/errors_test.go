package token

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"invalid client", ErrInvalidClient, KindInvalidClient},
		{"wrapped invalid grant", fmt.Errorf("issue: %w", ErrInvalidGrant), KindInvalidGrant},
		{"scope", ErrScopeNotAllowed, KindScopeNotAllowed},
		{"expired", ErrExpiredToken, KindTokenExpired},
		{"revoked", ErrRevokedToken, KindTokenRevoked},
		{"malformed", ErrMalformedToken, KindTokenMalformed},
		{"unavailable", fmt.Errorf("remote: %w", ErrIntrospectionUnavailable), KindIntrospectionUnavailable},
		{"unknown error fails closed", errors.New("boom"), KindUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorFor_RoundTrip(t *testing.T) {
	kinds := []ErrorKind{
		KindInvalidClient, KindInvalidGrant, KindScopeNotAllowed, KindInvalidToken,
		KindTokenExpired, KindTokenRevoked, KindTokenMalformed,
		KindIntrospectionUnavailable, KindInsufficientScope, KindUnauthorized,
	}
	for _, k := range kinds {
		assert.Equal(t, k, KindOf(ErrorFor(k)), string(k))
	}
	assert.Nil(t, ErrorFor(KindNone))
	assert.Equal(t, ErrUnauthorized, ErrorFor("something_else"))
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, KindIntrospectionUnavailable.Retryable())
	assert.False(t, KindTokenExpired.Retryable())
	assert.False(t, KindTokenMalformed.Retryable())
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", []string{}},
		{"   ", []string{}},
		{"read", []string{"read"}},
		{"read write", []string{"read", "write"}},
		{"  write   read  ", []string{"write", "read"}},
		{"read read write", []string{"read", "write"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseScope(tt.input))
		})
	}
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("jwt")
	assert.True(t, ok)
	assert.Equal(t, ModeJWT, m)

	m, ok = ParseMode("opaque")
	assert.True(t, ok)
	assert.Equal(t, ModeOpaque, m)

	_, ok = ParseMode("JWT")
	assert.False(t, ok)
}
