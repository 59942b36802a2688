package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-authgate/tokengate/internal/models"
)

var (
	// ErrTokenNotFound is returned when no live token matches a value
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired is returned by Get for an expired entry still inside
	// its retention window, and by Put for a token already past expiry. It
	// wraps ErrTokenNotFound.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrTokenNotFound)

	// ErrTokenRevoked is returned by Get for a revoked entry. It wraps
	// ErrTokenNotFound.
	ErrTokenRevoked = fmt.Errorf("%w: revoked", ErrTokenNotFound)

	// ErrTokenExists is returned by Put when the value is already in use
	ErrTokenExists = errors.New("token value already exists")
)

// TokenStore persists opaque access tokens keyed by their value.
// Implementations must be safe for concurrent use.
type TokenStore interface {
	Put(ctx context.Context, tok *models.AccessToken) error
	Get(ctx context.Context, value string) (*models.AccessToken, error)
	Revoke(ctx context.Context, value string) error
	SweepExpired(ctx context.Context) (int, error)
	Close() error
}

func cloneToken(t *models.AccessToken) *models.AccessToken {
	cp := *t
	cp.Scopes = slices.Clone(t.Scopes)
	return &cp
}
