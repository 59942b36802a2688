package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/config"
	"github.com/go-authgate/tokengate/internal/handlers"
	"github.com/go-authgate/tokengate/internal/httpclient"
	"github.com/go-authgate/tokengate/internal/metrics"
	"github.com/go-authgate/tokengate/internal/middleware"
	"github.com/go-authgate/tokengate/internal/models"
	"github.com/go-authgate/tokengate/internal/services"
	"github.com/go-authgate/tokengate/internal/store"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AuthServer is the authorization server: token, introspection and
// revocation endpoints over one AuthorizationService. With EmbedResources
// set it also serves the protected resources, checking tokens in process.
type AuthServer struct {
	Engine  *gin.Engine
	Service *services.AuthorizationService
	Metrics *metrics.Metrics

	closers []func() error
}

// AuthOption customizes NewAuthServer.
type AuthOption func(*authOptions)

type authOptions struct {
	clock      clock.Clock
	secretCost int
}

// WithAuthClock replaces the wall clock, mainly for tests.
func WithAuthClock(c clock.Clock) AuthOption {
	return func(o *authOptions) { o.clock = c }
}

// WithSecretCost sets the bcrypt cost used to hash the bootstrap client
// secret. Zero selects the bcrypt default.
func WithSecretCost(cost int) AuthOption {
	return func(o *authOptions) { o.secretCost = cost }
}

// NewAuthServer builds the authorization server from cfg. Callers must
// Close it to stop the store sweeper and release Redis connections.
func NewAuthServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...AuthOption) (*AuthServer, error) {
	if err := cfg.ValidateAuthServer(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := authOptions{clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}

	s := &AuthServer{Metrics: metrics.New()}

	registry, err := loadRegistry(cfg, o.secretCost)
	if err != nil {
		return nil, err
	}

	mode, _ := token.ParseMode(cfg.TokenMode)
	svcOpts := services.Options{
		Mode:     mode,
		Registry: registry,
		Clock:    o.clock,
		Metrics:  s.Metrics,
		Logger:   logger,
	}

	var redisClient *redis.Client
	needRedis := (mode == token.ModeOpaque && cfg.TokenStore == config.TokenStoreRedis) ||
		(cfg.EnableRateLimit && cfg.RateLimitStore == config.RateLimitStoreRedis)
	if needRedis {
		redisClient, err = store.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case mode == token.ModeJWT:
		s.closeRedis(redisClient)
		svcOpts.JWT, err = newJWTProvider(cfg, o.clock)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	case cfg.TokenStore == config.TokenStoreRedis:
		// The store owns the client and closes it.
		svcOpts.Store = store.NewRedisTokenStore(redisClient,
			store.WithRedisClock(o.clock),
			store.WithRedisRetention(cfg.TokenRetention),
		)
	default:
		svcOpts.Store = store.NewMemoryTokenStore(
			store.WithClock(o.clock),
			store.WithCleanupInterval(cfg.TokenCleanupInterval),
			store.WithRetention(cfg.TokenRetention),
			store.WithLogger(logger),
			store.WithSweepHook(s.Metrics.TokensSwept),
		)
		s.closeRedis(redisClient)
	}

	s.Service, err = services.NewAuthorizationService(svcOpts)
	if err != nil {
		_ = s.Close()
		if svcOpts.Store != nil {
			_ = svcOpts.Store.Close()
		}
		return nil, err
	}
	s.closers = append(s.closers, s.Service.Close)

	s.Engine, err = s.routes(cfg, redisClient, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Info("authorization server ready",
		zap.String("token_mode", string(mode)),
		zap.String("token_store", storeName(cfg, mode)),
		zap.Bool("embed_resources", cfg.EmbedResources),
		zap.Int("clients", registry.Len()))
	return s, nil
}

func (s *AuthServer) routes(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	var limiter []gin.HandlerFunc
	if cfg.EnableRateLimit {
		l, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.TokenRateLimit,
			StoreType:         cfg.RateLimitStore,
			RedisClient:       redisClient,
			Logger:            logger,
		})
		if err != nil {
			return nil, err
		}
		limiter = append(limiter, l)
	}

	clientAuth := middleware.RequireClient(s.Service)
	if cfg.IntrospectionHMACSecret != "" {
		verifier := httpclient.NewAuthConfig(httpclient.AuthModeHMAC, cfg.IntrospectionHMACSecret)
		verifier.Nonces = httpclient.NewNonceCache()
		clientAuth = middleware.RequireClientOrSignature(s.Service, verifier, middleware.DefaultSignatureMaxAge)
	}

	tokenHandler := handlers.NewTokenHandler(s.Service, logger)
	introspectHandler := handlers.NewIntrospectHandler(s.Service, logger)
	revokeHandler := handlers.NewRevokeHandler(s.Service, logger)

	oauth := r.Group("/oauth")
	oauth.POST("/token", append(limiter, tokenHandler.Token)...)
	oauth.POST("/introspect", clientAuth, introspectHandler.Introspect)
	oauth.POST("/check_token", clientAuth, introspectHandler.Introspect)
	oauth.POST("/revoke", middleware.RequireClient(s.Service), revokeHandler.Revoke)

	if cfg.EmbedResources {
		guard := services.NewResourceGuard(services.NewLocalIntrospector(s.Service), logger)
		mountResources(r, guard)
	}

	r.GET("/healthz", handlers.Health("auth-server"))
	r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	return r, nil
}

// Close stops background work and releases connections.
func (s *AuthServer) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// closeRedis registers client for closing when the token store does not own it.
func (s *AuthServer) closeRedis(client *redis.Client) {
	if client != nil {
		s.closers = append(s.closers, client.Close)
	}
}

// loadRegistry builds the client registry from CLIENTS_FILE plus the
// optional bootstrap client from CLIENT_ID and CLIENT_SECRET.
func loadRegistry(cfg *config.Config, cost int) (*store.ClientRegistry, error) {
	var clients []*models.Client
	if cfg.ClientsFile != "" {
		loaded, err := store.LoadClientsFile(cfg.ClientsFile)
		if err != nil {
			return nil, err
		}
		clients = append(clients, loaded...)
	}

	if cfg.ClientID != "" {
		hash, err := store.HashSecret(cfg.ClientSecret, cost)
		if err != nil {
			return nil, fmt.Errorf("hash bootstrap client secret: %w", err)
		}
		clients = append(clients, &models.Client{
			ClientID:       cfg.ClientID,
			SecretHash:     hash,
			Scopes:         cfg.ClientScopes,
			GrantTypes:     []string{models.GrantTypeClientCredentials},
			AccessTokenTTL: cfg.ClientTokenTTL,
		})
	}

	return store.NewClientRegistry(clients...)
}

func newJWTProvider(cfg *config.Config, clk clock.Clock) (*token.JWTProvider, error) {
	return token.NewJWTProvider(
		token.SigningKey{KeyID: cfg.JWTKeyID, Secret: []byte(cfg.JWTSecret)},
		cfg.JWTIssuer,
		clk,
	)
}

func storeName(cfg *config.Config, mode token.Mode) string {
	if mode == token.ModeJWT {
		return "none"
	}
	return cfg.TokenStore
}
