package services

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/metrics"
	"github.com/go-authgate/tokengate/internal/models"
	"github.com/go-authgate/tokengate/internal/store"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Opaque values are 256-bit random, so a collision means something is badly
// wrong with the entropy source. Retry a couple of times before giving up.
const maxOpaqueAttempts = 3

// IssueRequest is a client-credentials token request.
type IssueRequest struct {
	ClientID     string
	ClientSecret string
	Scopes       []string // empty means all scopes the client is allowed
	GrantType    string
}

// Options wires the authorization server components together.
type Options struct {
	Mode     token.Mode
	Registry *store.ClientRegistry
	Store    store.TokenStore   // required in opaque mode
	JWT      *token.JWTProvider // required in jwt mode
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func (o *Options) validate() error {
	if o.Registry == nil {
		return errors.New("services: client registry is required")
	}
	switch o.Mode {
	case token.ModeOpaque:
		if o.Store == nil {
			return errors.New("services: opaque mode requires a token store")
		}
	case token.ModeJWT:
		if o.JWT == nil {
			return errors.New("services: jwt mode requires a signing key")
		}
	default:
		return fmt.Errorf("services: unknown token mode %q", o.Mode)
	}
	if o.Clock == nil {
		o.Clock = clock.System{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// TokenIssuer authenticates clients and mints access tokens.
type TokenIssuer struct {
	mode     token.Mode
	registry *store.ClientRegistry
	tokens   store.TokenStore
	jwt      *token.JWTProvider
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewTokenIssuer validates opts and returns an issuer for opts.Mode.
func NewTokenIssuer(opts Options) (*TokenIssuer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &TokenIssuer{
		mode:     opts.Mode,
		registry: opts.Registry,
		tokens:   opts.Store,
		jwt:      opts.JWT,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}, nil
}

// Mode returns the token mode the issuer mints.
func (i *TokenIssuer) Mode() token.Mode {
	return i.mode
}

// IssueToken runs the client-credentials grant. Unknown clients and wrong
// secrets both fail with token.ErrInvalidClient.
func (i *TokenIssuer) IssueToken(ctx context.Context, req IssueRequest) (*models.AccessToken, error) {
	tok, err := i.issue(ctx, req)
	if err != nil {
		code := string(token.KindOf(err))
		if errors.Is(err, token.ErrTokenGeneration) {
			code = "server_error"
			i.logger.Error("token generation failed",
				zap.String("client_id", req.ClientID),
				zap.Error(err))
		} else {
			i.logger.Info("token request rejected",
				zap.String("client_id", req.ClientID),
				zap.String("reason", code))
		}
		i.metrics.IssueFailed(code)
		return nil, err
	}

	i.metrics.TokenIssued(string(i.mode))
	i.logger.Info("token issued",
		zap.String("client_id", tok.ClientID),
		zap.String("jti", tok.ID),
		zap.String("mode", string(i.mode)),
		zap.String("scope", tok.ScopeString()),
		zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

func (i *TokenIssuer) issue(ctx context.Context, req IssueRequest) (*models.AccessToken, error) {
	client, err := i.registry.Lookup(req.ClientID)
	if err != nil {
		i.registry.BurnCompare(req.ClientSecret)
		return nil, token.ErrInvalidClient
	}
	if !i.registry.VerifySecret(client, req.ClientSecret) {
		return nil, token.ErrInvalidClient
	}

	if !client.HasGrantType(req.GrantType) {
		return nil, token.ErrInvalidGrant
	}

	scopes, err := grantScopes(client, req.Scopes)
	if err != nil {
		return nil, err
	}

	now := token.TruncateTime(i.clock.Now())
	tok := &models.AccessToken{
		ID:        uuid.NewString(),
		ClientID:  client.ClientID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(client.AccessTokenTTL),
	}

	if i.mode == token.ModeJWT {
		signed, err := i.jwt.Sign(tok)
		if err != nil {
			return nil, err
		}
		tok.Value = signed
		return tok, nil
	}

	for range maxOpaqueAttempts {
		value, err := token.GenerateOpaque()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", token.ErrTokenGeneration, err)
		}
		tok.Value = value

		err = i.tokens.Put(ctx, tok)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, store.ErrTokenExists) {
			return nil, fmt.Errorf("%w: store: %v", token.ErrTokenGeneration, err)
		}
	}
	return nil, fmt.Errorf("%w: opaque value collision", token.ErrTokenGeneration)
}

// grantScopes intersects the requested scopes with the client's allowed
// scopes, keeping the requested order. An empty request grants everything
// the client is allowed.
func grantScopes(c *models.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(c.Scopes), nil
	}

	granted := make([]string, 0, len(requested))
	for _, s := range requested {
		if c.HasScope(s) && !slices.Contains(granted, s) {
			granted = append(granted, s)
		}
	}
	if len(granted) == 0 {
		return nil, token.ErrScopeNotAllowed
	}
	return granted, nil
}
