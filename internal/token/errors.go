package token

import "errors"

// ErrorKind is the machine-readable error code returned to clients and
// carried in validation results.
type ErrorKind string

const (
	KindNone                     ErrorKind = ""
	KindInvalidRequest           ErrorKind = "invalid_request"
	KindInvalidClient            ErrorKind = "invalid_client"
	KindInvalidGrant             ErrorKind = "invalid_grant"
	KindScopeNotAllowed          ErrorKind = "invalid_scope"
	KindInvalidToken             ErrorKind = "invalid_token"
	KindTokenExpired             ErrorKind = "token_expired"
	KindTokenRevoked             ErrorKind = "token_revoked"
	KindTokenMalformed           ErrorKind = "token_malformed"
	KindIntrospectionUnavailable ErrorKind = "introspection_unavailable"
	KindInsufficientScope        ErrorKind = "insufficient_scope"
	KindUnauthorized             ErrorKind = "unauthorized"
)

var (
	// ErrInvalidRequest indicates a malformed token or introspection request
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidClient indicates unknown client or wrong secret; the two are
	// deliberately indistinguishable
	ErrInvalidClient = errors.New("client authentication failed")

	// ErrInvalidGrant indicates the client may not use the requested grant type
	ErrInvalidGrant = errors.New("grant type not allowed for client")

	// ErrScopeNotAllowed indicates none of the requested scopes are allowed
	ErrScopeNotAllowed = errors.New("requested scope not allowed")

	// ErrInvalidToken indicates the token is unknown to the issuer
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("token expired")

	// ErrRevokedToken indicates the token was revoked
	ErrRevokedToken = errors.New("token revoked")

	// ErrMalformedToken indicates a signature or format failure
	ErrMalformedToken = errors.New("token malformed")

	// ErrIntrospectionUnavailable indicates the introspection endpoint could not
	// be reached or answered garbage. Callers may retry.
	ErrIntrospectionUnavailable = errors.New("introspection unavailable")

	// ErrInsufficientScope indicates a valid token lacking required scopes
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrUnauthorized indicates the resource server denied access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenGeneration indicates token generation failed
	ErrTokenGeneration = errors.New("failed to generate token")
)

var kindErrors = []struct {
	kind ErrorKind
	err  error
}{
	{KindInvalidRequest, ErrInvalidRequest},
	{KindInvalidClient, ErrInvalidClient},
	{KindInvalidGrant, ErrInvalidGrant},
	{KindScopeNotAllowed, ErrScopeNotAllowed},
	{KindInvalidToken, ErrInvalidToken},
	{KindTokenExpired, ErrExpiredToken},
	{KindTokenRevoked, ErrRevokedToken},
	{KindTokenMalformed, ErrMalformedToken},
	{KindIntrospectionUnavailable, ErrIntrospectionUnavailable},
	{KindInsufficientScope, ErrInsufficientScope},
	{KindUnauthorized, ErrUnauthorized},
}

// KindOf maps err to its ErrorKind. Unrecognized errors map to
// KindUnauthorized so callers fail closed.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindUnauthorized
}

// ErrorFor returns the sentinel error for kind, or nil for KindNone.
func ErrorFor(kind ErrorKind) error {
	if kind == KindNone {
		return nil
	}
	for _, ke := range kindErrors {
		if ke.kind == kind {
			return ke.err
		}
	}
	return ErrUnauthorized
}

// Retryable reports whether kind describes a transient infrastructure
// failure rather than a definitive rejection.
func (k ErrorKind) Retryable() bool {
	return k == KindIntrospectionUnavailable
}
