package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/httpclient"
	"github.com/go-authgate/tokengate/internal/logger"
	"github.com/go-authgate/tokengate/internal/metrics"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

//go:generate go tool mockgen -source=introspector.go -destination=../mocks/mock_introspector.go -package=mocks

// TokenIntrospector validates a presented bearer token. Implementations never
// return a valid result they could not verify.
type TokenIntrospector interface {
	Validate(ctx context.Context, tokenString string) *token.TokenValidationResult
}

// JWTIntrospector verifies self-contained tokens with the shared signing key.
type JWTIntrospector struct {
	provider *token.JWTProvider
	metrics  *metrics.Metrics
}

func NewJWTIntrospector(provider *token.JWTProvider, m *metrics.Metrics) *JWTIntrospector {
	return &JWTIntrospector{provider: provider, metrics: m}
}

func (j *JWTIntrospector) Validate(_ context.Context, tokenString string) *token.TokenValidationResult {
	if tokenString == "" {
		return token.Invalid(token.KindInvalidRequest)
	}
	result := j.provider.Verify(tokenString)
	j.metrics.Validation("jwt", outcome(result))
	return result
}

// LocalIntrospector asks a co-located AuthorizationService.
type LocalIntrospector struct {
	service *AuthorizationService
}

func NewLocalIntrospector(service *AuthorizationService) *LocalIntrospector {
	return &LocalIntrospector{service: service}
}

func (l *LocalIntrospector) Validate(ctx context.Context, tokenString string) *token.TokenValidationResult {
	return l.service.Introspect(ctx, tokenString)
}

// RemoteIntrospectorConfig configures a RemoteIntrospector.
type RemoteIntrospectorConfig struct {
	URL        string
	Auth       *httpclient.AuthConfig
	HTTPClient *http.Client

	// Timeout bounds each attempt. MaxRetries is the number of attempts after
	// the first one.
	Timeout    time.Duration
	MaxRetries int

	// InitialBackoff is the first retry delay. Defaults to 100ms.
	InitialBackoff time.Duration

	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// RemoteIntrospector calls the authorization server's RFC 7662 endpoint.
// Transport failures, 5xx and 429 responses are retried with exponential
// backoff; if no attempt succeeds the result is introspection_unavailable.
type RemoteIntrospector struct {
	url            string
	auth           *httpclient.AuthConfig
	client         *http.Client
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	clock          clock.Clock
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// introspectionResponse is the RFC 7662 response plus the non-standard
// reason field set by our authorization server.
type introspectionResponse struct {
	Active   *bool  `json:"active"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
	Reason   string `json:"reason"`
}

var errUnexpectedStatus = errors.New("unexpected introspection status")

func NewRemoteIntrospector(cfg RemoteIntrospectorConfig) (*RemoteIntrospector, error) {
	if cfg.URL == "" {
		return nil, errors.New("services: introspection URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("services: invalid introspection URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("services: introspection timeout must be positive")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Auth == nil {
		cfg.Auth = httpclient.NewAuthConfig(httpclient.AuthModeNone, "")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.NewClient(false)
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RemoteIntrospector{
		url:            cfg.URL,
		auth:           cfg.Auth,
		client:         cfg.HTTPClient,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		clock:          cfg.Clock,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}, nil
}

func (r *RemoteIntrospector) Validate(ctx context.Context, tokenString string) *token.TokenValidationResult {
	if tokenString == "" {
		return token.Invalid(token.KindInvalidRequest)
	}

	start := time.Now()
	result := r.validate(ctx, tokenString)
	r.metrics.IntrospectionObserved(outcome(result), time.Since(start))
	r.metrics.Validation("remote", outcome(result))
	return result
}

func (r *RemoteIntrospector) validate(ctx context.Context, tokenString string) *token.TokenValidationResult {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.initialBackoff
	expBackoff.MaxInterval = r.timeout

	attempt := 0
	operation := func() (*introspectionResponse, error) {
		attempt++
		return r.introspect(ctx, tokenString)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(r.maxRetries+1)), // #nosec G115 -- maxRetries is non-negative
		backoff.WithMaxElapsedTime(r.timeout*time.Duration(r.maxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.logger.Debug("retrying introspection",
				zap.Int("attempt", attempt),
				zap.Duration("delay", d),
				zap.Error(err))
		}),
	)
	if err != nil {
		r.logger.Warn("introspection unavailable",
			zap.String("url", r.url),
			zap.String("token", logger.Redact(tokenString)),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return token.Invalid(token.KindIntrospectionUnavailable)
	}

	return r.toResult(resp)
}

// introspect performs a single attempt bounded by the per-attempt timeout.
// Errors not worth retrying are wrapped with backoff.Permanent.
func (r *RemoteIntrospector) introspect(ctx context.Context, tokenString string) (*introspectionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("token", tokenString)
	form.Set("token_type_hint", "access_token")
	body := []byte(form.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if err := r.auth.AddAuthHeaders(req, body); err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read introspection response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode))
	}

	var out introspectionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid introspection response: %w", err))
	}
	if out.Active == nil {
		return nil, backoff.Permanent(errors.New("introspection response has no active field"))
	}
	if *out.Active && out.ClientID == "" {
		return nil, backoff.Permanent(errors.New("active introspection response has no client_id"))
	}
	return &out, nil
}

func (r *RemoteIntrospector) toResult(resp *introspectionResponse) *token.TokenValidationResult {
	if !*resp.Active {
		return token.Invalid(reasonFromRemote(resp.Reason))
	}

	result := &token.TokenValidationResult{
		Valid:    true,
		ClientID: resp.ClientID,
		Scopes:   token.ParseScope(resp.Scope),
	}
	if resp.Iat > 0 {
		result.IssuedAt = time.Unix(resp.Iat, 0)
	}
	if resp.Exp > 0 {
		result.ExpiresAt = time.Unix(resp.Exp, 0)
		if !r.clock.Now().Before(result.ExpiresAt) {
			return token.Invalid(token.KindTokenExpired)
		}
	}
	return result
}

// reasonFromRemote maps the reason field of an inactive response. Unknown or
// missing reasons become invalid_token.
func reasonFromRemote(reason string) token.ErrorKind {
	kind := token.ErrorKind(reason)
	switch kind {
	case token.KindTokenExpired,
		token.KindTokenRevoked,
		token.KindTokenMalformed,
		token.KindInvalidToken,
		token.KindInvalidRequest:
		return kind
	}
	return token.KindInvalidToken
}
