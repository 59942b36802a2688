package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-authgate/tokengate/internal/token"

	"go.uber.org/zap"
)

// Principal is the authenticated caller behind a valid access token.
type Principal struct {
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the principal was granted scope.
func (p *Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// AuthorizationError is a resource server denial. Kind says why; for
// insufficient_scope MissingScopes lists what the token lacks.
//
// Every AuthorizationError matches token.ErrUnauthorized as well as the
// sentinel for its Kind.
type AuthorizationError struct {
	Kind          token.ErrorKind
	MissingScopes []string
}

func (e *AuthorizationError) Error() string {
	if len(e.MissingScopes) > 0 {
		return fmt.Sprintf("unauthorized: missing required scopes %v", e.MissingScopes)
	}
	return fmt.Sprintf("unauthorized: %s", e.Kind)
}

// Is enables errors.Is(err, token.ErrUnauthorized).
func (e *AuthorizationError) Is(target error) bool {
	return target == token.ErrUnauthorized
}

func (e *AuthorizationError) Unwrap() error {
	return token.ErrorFor(e.Kind)
}

// Retryable reports whether the denial came from an introspection outage.
func (e *AuthorizationError) Retryable() bool {
	return e.Kind.Retryable()
}

// ResourceGuard decides whether a presented token may access a resource.
type ResourceGuard struct {
	introspector TokenIntrospector
	logger       *zap.Logger
}

func NewResourceGuard(introspector TokenIntrospector, logger *zap.Logger) *ResourceGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceGuard{introspector: introspector, logger: logger}
}

// Authorize validates tokenString and checks that it carries every scope in
// required. Any failure, including an introspection outage, is a denial.
func (g *ResourceGuard) Authorize(ctx context.Context, tokenString string, required ...string) (*Principal, error) {
	if tokenString == "" {
		return nil, &AuthorizationError{Kind: token.KindUnauthorized}
	}

	result := g.introspector.Validate(ctx, tokenString)
	if result == nil {
		return nil, &AuthorizationError{Kind: token.KindUnauthorized}
	}
	if !result.Valid {
		kind := result.Reason
		if kind == token.KindNone {
			kind = token.KindUnauthorized
		}
		g.logger.Debug("access denied",
			zap.String("reason", string(kind)))
		return nil, &AuthorizationError{Kind: kind}
	}

	principal := &Principal{
		ClientID:  result.ClientID,
		Scopes:    slices.Clone(result.Scopes),
		ExpiresAt: result.ExpiresAt,
	}

	var missing []string
	for _, s := range required {
		if !principal.HasScope(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		g.logger.Debug("access denied",
			zap.String("client_id", principal.ClientID),
			zap.Strings("missing_scopes", missing))
		return nil, &AuthorizationError{
			Kind:          token.KindInsufficientScope,
			MissingScopes: missing,
		}
	}

	return principal, nil
}
