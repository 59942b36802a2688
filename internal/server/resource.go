package server

import (
	"fmt"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/config"
	"github.com/go-authgate/tokengate/internal/handlers"
	"github.com/go-authgate/tokengate/internal/httpclient"
	"github.com/go-authgate/tokengate/internal/metrics"
	"github.com/go-authgate/tokengate/internal/middleware"
	"github.com/go-authgate/tokengate/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Scopes required by the sample resources.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// ResourceServer hosts the protected resources behind a ResourceGuard.
type ResourceServer struct {
	Engine  *gin.Engine
	Guard   *services.ResourceGuard
	Metrics *metrics.Metrics
}

// NewResourceServer builds the resource server. JWTs are verified locally;
// opaque tokens go through the authorization server's introspection endpoint.
func NewResourceServer(cfg *config.Config, logger *zap.Logger, clk clock.Clock) (*ResourceServer, error) {
	if err := cfg.ValidateResourceServer(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}

	s := &ResourceServer{Metrics: metrics.New()}

	introspector, err := newIntrospector(cfg, clk, s.Metrics, logger)
	if err != nil {
		return nil, err
	}
	s.Guard = services.NewResourceGuard(introspector, logger)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	mountResources(r, s.Guard)
	r.GET("/healthz", handlers.Health("resource-server"))
	r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	s.Engine = r

	logger.Info("resource server ready",
		zap.String("token_mode", cfg.TokenMode),
		zap.String("introspection_url", cfg.IntrospectionURL))
	return s, nil
}

// mountResources registers the protected sample resources behind guard.
func mountResources(r gin.IRoutes, guard *services.ResourceGuard) {
	resource := handlers.NewResourceHandler()
	r.GET("/hello", middleware.RequireBearer(guard, ScopeRead), resource.Hello)
	r.POST("/hello", middleware.RequireBearer(guard, ScopeWrite), resource.PostHello)
}

func newIntrospector(cfg *config.Config, clk clock.Clock, m *metrics.Metrics, logger *zap.Logger) (services.TokenIntrospector, error) {
	if cfg.TokenMode == config.TokenModeJWT {
		provider, err := newJWTProvider(cfg, clk)
		if err != nil {
			return nil, err
		}
		return services.NewJWTIntrospector(provider, m), nil
	}

	var auth *httpclient.AuthConfig
	switch cfg.IntrospectionAuthMode {
	case config.IntrospectionAuthBasic:
		auth = httpclient.NewBasicAuthConfig(cfg.IntrospectionClientID, cfg.IntrospectionClientSecret)
	case config.IntrospectionAuthHMAC:
		auth = httpclient.NewAuthConfig(httpclient.AuthModeHMAC, cfg.IntrospectionHMACSecret)
	case config.IntrospectionAuthNone:
		auth = httpclient.NewAuthConfig(httpclient.AuthModeNone, "")
	default:
		return nil, fmt.Errorf("unknown introspection auth mode %q", cfg.IntrospectionAuthMode)
	}

	return services.NewRemoteIntrospector(services.RemoteIntrospectorConfig{
		URL:        cfg.IntrospectionURL,
		Auth:       auth,
		HTTPClient: httpclient.NewClient(cfg.HTTPAPIInsecureSkipVerify),
		Timeout:    cfg.IntrospectionTimeout,
		MaxRetries: cfg.IntrospectionMaxRetries,
		Clock:      clk,
		Metrics:    m,
		Logger:     logger,
	})
}
