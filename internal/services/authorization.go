package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/metrics"
	"github.com/go-authgate/tokengate/internal/models"
	"github.com/go-authgate/tokengate/internal/store"
	"github.com/go-authgate/tokengate/internal/token"

	"go.uber.org/zap"
)

var (
	// ErrRevocationUnsupported is returned by Revoke in jwt mode, where tokens
	// are self-contained and nothing is stored.
	ErrRevocationUnsupported = errors.New("revocation is not supported for jwt tokens")

	// ErrNotTokenOwner is returned when a client tries to revoke a token that
	// was issued to another client.
	ErrNotTokenOwner = errors.New("token was issued to another client")
)

// AuthorizationService is the authorization server core. The token mode is
// fixed at construction.
type AuthorizationService struct {
	mode     token.Mode
	registry *store.ClientRegistry
	issuer   *TokenIssuer
	tokens   store.TokenStore
	jwt      *token.JWTProvider
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAuthorizationService builds the service and its TokenIssuer.
func NewAuthorizationService(opts Options) (*AuthorizationService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	issuer, err := NewTokenIssuer(opts)
	if err != nil {
		return nil, err
	}
	return &AuthorizationService{
		mode:     opts.Mode,
		registry: opts.Registry,
		issuer:   issuer,
		tokens:   opts.Store,
		jwt:      opts.JWT,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}, nil
}

// Mode returns the configured token mode.
func (s *AuthorizationService) Mode() token.Mode {
	return s.mode
}

// IssueToken delegates to the TokenIssuer.
func (s *AuthorizationService) IssueToken(ctx context.Context, req IssueRequest) (*models.AccessToken, error) {
	return s.issuer.IssueToken(ctx, req)
}

// AuthenticateClient checks client credentials for the introspection and
// revocation endpoints. Failures are always token.ErrInvalidClient.
func (s *AuthorizationService) AuthenticateClient(clientID, secret string) (*models.Client, error) {
	c, err := s.registry.Lookup(clientID)
	if err != nil {
		s.registry.BurnCompare(secret)
		return nil, token.ErrInvalidClient
	}
	if !s.registry.VerifySecret(c, secret) {
		return nil, token.ErrInvalidClient
	}
	return c, nil
}

// Introspect reports whether value is a currently valid token. Store misses
// are translated to validation reasons and never returned as errors.
func (s *AuthorizationService) Introspect(ctx context.Context, value string) *token.TokenValidationResult {
	if value == "" {
		return token.Invalid(token.KindInvalidRequest)
	}

	var result *token.TokenValidationResult
	if s.mode == token.ModeJWT {
		result = s.jwt.Verify(value)
	} else {
		result = s.introspectOpaque(ctx, value)
	}

	s.metrics.Validation("introspect", outcome(result))
	return result
}

func (s *AuthorizationService) introspectOpaque(ctx context.Context, value string) *token.TokenValidationResult {
	tok, err := s.tokens.Get(ctx, value)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTokenExpired):
		return token.Invalid(token.KindTokenExpired)
	case errors.Is(err, store.ErrTokenRevoked):
		return token.Invalid(token.KindTokenRevoked)
	case errors.Is(err, store.ErrTokenNotFound):
		return token.Invalid(token.KindInvalidToken)
	default:
		s.logger.Error("token store lookup failed", zap.Error(err))
		return token.Invalid(token.KindIntrospectionUnavailable)
	}

	// The store already checks expiry, but its clock may differ from ours.
	if tok.IsExpired(s.clock.Now()) {
		return token.Invalid(token.KindTokenExpired)
	}

	return &token.TokenValidationResult{
		Valid:     true,
		ClientID:  tok.ClientID,
		Scopes:    tok.Scopes,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	}
}

// Revoke revokes an opaque token on behalf of clientID. Unknown, expired and
// already revoked tokens are not errors, matching RFC 7009.
func (s *AuthorizationService) Revoke(ctx context.Context, clientID, value string) error {
	if s.mode == token.ModeJWT {
		return ErrRevocationUnsupported
	}

	tok, err := s.tokens.Get(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("revoke: %w", err)
	}
	if tok.ClientID != clientID {
		return ErrNotTokenOwner
	}

	if err := s.tokens.Revoke(ctx, value); err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("revoke: %w", err)
	}

	s.metrics.TokenRevoked()
	s.logger.Info("token revoked",
		zap.String("client_id", clientID),
		zap.String("jti", tok.ID))
	return nil
}

// Close releases the token store.
func (s *AuthorizationService) Close() error {
	if s.tokens == nil {
		return nil
	}
	return s.tokens.Close()
}

func outcome(r *token.TokenValidationResult) string {
	if r.Valid {
		return "valid"
	}
	return string(r.Reason)
}
