package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Token modes
const (
	TokenModeOpaque = "opaque"
	TokenModeJWT    = "jwt"
)

// Token store backends
const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

// Rate limit store backends
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Introspection client authentication modes
const (
	IntrospectionAuthBasic = "basic"
	IntrospectionAuthHMAC  = "hmac"
	IntrospectionAuthNone  = "none"
)

// DefaultJWTSecret is the placeholder used when JWT_SECRET is unset. It is
// rejected in jwt mode.
const DefaultJWTSecret = "your-256-bit-secret-change-in-production"

const minJWTSecretLength = 32

type Config struct {
	// Server settings
	ServerAddr   string
	ResourceAddr string
	BaseURL      string

	// Token settings
	TokenMode string // "opaque" or "jwt"
	JWTSecret string
	JWTKeyID  string
	JWTIssuer string

	// Token store (opaque mode)
	TokenStore           string // "memory" or "redis"
	TokenCleanupInterval time.Duration
	TokenRetention       time.Duration // how long expired tokens stay recognisable

	// Redis, shared by the token store and the rate limiter
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Client registrations
	ClientsFile    string
	ClientID       string
	ClientSecret   string
	ClientScopes   []string
	ClientTokenTTL time.Duration

	// Serve the protected resources from the authorization server
	EmbedResources bool

	// Resource server introspection
	IntrospectionURL          string
	IntrospectionClientID     string
	IntrospectionClientSecret string
	IntrospectionAuthMode     string // "basic", "hmac" or "none"
	IntrospectionHMACSecret   string
	IntrospectionTimeout      time.Duration
	IntrospectionMaxRetries   int
	HTTPAPIInsecureSkipVerify bool

	// Rate limiting
	EnableRateLimit bool
	TokenRateLimit  int // requests per minute per IP
	RateLimitStore  string

	// Logging
	LogLevel string
	LogDev   bool
}

func Load() *Config {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	baseURL := getEnv("BASE_URL", "http://localhost:8080")

	return &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		ResourceAddr: getEnv("RESOURCE_ADDR", ":8081"),
		BaseURL:      baseURL,

		TokenMode: getEnv("TOKEN_MODE", TokenModeOpaque),
		JWTSecret: getEnv("JWT_SECRET", DefaultJWTSecret),
		JWTKeyID:  getEnv("JWT_KEY_ID", "tokengate-hs256"),
		JWTIssuer: getEnv("JWT_ISSUER", baseURL),

		TokenStore:           getEnv("TOKEN_STORE", TokenStoreMemory),
		TokenCleanupInterval: getEnvDuration("TOKEN_CLEANUP_INTERVAL", time.Minute),
		TokenRetention:       getEnvDuration("TOKEN_RETENTION", time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ClientsFile:    getEnv("CLIENTS_FILE", ""),
		ClientID:       getEnv("CLIENT_ID", ""),
		ClientSecret:   getEnv("CLIENT_SECRET", ""),
		ClientScopes:   parseList(getEnv("CLIENT_SCOPES", "read,write")),
		ClientTokenTTL: getEnvDuration("CLIENT_TOKEN_TTL", time.Hour),

		EmbedResources: getEnvBool("EMBED_RESOURCES", false),

		IntrospectionURL:          getEnv("INTROSPECTION_URL", ""),
		IntrospectionClientID:     getEnv("INTROSPECTION_CLIENT_ID", ""),
		IntrospectionClientSecret: getEnv("INTROSPECTION_CLIENT_SECRET", ""),
		IntrospectionAuthMode:     getEnv("INTROSPECTION_AUTH_MODE", IntrospectionAuthBasic),
		IntrospectionHMACSecret:   getEnv("INTROSPECTION_HMAC_SECRET", ""),
		IntrospectionTimeout:      getEnvDuration("INTROSPECTION_TIMEOUT", 5*time.Second),
		IntrospectionMaxRetries:   getEnvInt("INTROSPECTION_MAX_RETRIES", 2),
		HTTPAPIInsecureSkipVerify: getEnvBool("HTTP_API_INSECURE_SKIP_VERIFY", false),

		EnableRateLimit: getEnvBool("ENABLE_RATE_LIMIT", true),
		TokenRateLimit:  getEnvInt("TOKEN_RATE_LIMIT", 60),
		RateLimitStore:  getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogDev:   getEnvBool("LOG_DEV", false),
	}
}

// Validate checks settings shared by both servers.
func (c *Config) Validate() error {
	switch c.TokenMode {
	case TokenModeOpaque:
	case TokenModeJWT:
		if c.JWTSecret == DefaultJWTSecret {
			return errors.New("JWT_SECRET must be set in jwt mode")
		}
		if len(c.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
		}
	default:
		return fmt.Errorf("invalid TOKEN_MODE value: %q (must be %q or %q)",
			c.TokenMode, TokenModeOpaque, TokenModeJWT)
	}

	if c.TokenStore != TokenStoreMemory && c.TokenStore != TokenStoreRedis {
		return fmt.Errorf("invalid TOKEN_STORE value: %q (must be %q or %q)",
			c.TokenStore, TokenStoreMemory, TokenStoreRedis)
	}

	if c.TokenRetention < 0 {
		return fmt.Errorf("TOKEN_RETENTION must not be negative, got %s", c.TokenRetention)
	}

	if c.RateLimitStore != RateLimitStoreMemory && c.RateLimitStore != RateLimitStoreRedis {
		return fmt.Errorf("invalid RATE_LIMIT_STORE value: %q (must be %q or %q)",
			c.RateLimitStore, RateLimitStoreMemory, RateLimitStoreRedis)
	}
	if c.EnableRateLimit && c.TokenRateLimit <= 0 {
		return fmt.Errorf("TOKEN_RATE_LIMIT must be positive, got %d", c.TokenRateLimit)
	}

	return nil
}

// ValidateAuthServer checks the authorization server settings.
func (c *Config) ValidateAuthServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ClientsFile == "" && c.ClientID == "" {
		return errors.New("no clients configured: set CLIENTS_FILE or CLIENT_ID and CLIENT_SECRET")
	}
	if c.ClientID != "" {
		if c.ClientSecret == "" {
			return errors.New("CLIENT_SECRET is required when CLIENT_ID is set")
		}
		if c.ClientTokenTTL < time.Second {
			return fmt.Errorf("CLIENT_TOKEN_TTL must be at least 1s, got %s", c.ClientTokenTTL)
		}
	}
	return nil
}

// ValidateResourceServer checks the resource server settings. In opaque mode
// tokens can only be checked through the introspection endpoint.
func (c *Config) ValidateResourceServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TokenMode == TokenModeJWT {
		return nil
	}

	if c.IntrospectionURL == "" {
		return errors.New("INTROSPECTION_URL is required in opaque mode")
	}
	if c.IntrospectionTimeout <= 0 {
		return fmt.Errorf("INTROSPECTION_TIMEOUT must be positive, got %s", c.IntrospectionTimeout)
	}
	if c.IntrospectionMaxRetries < 0 {
		return fmt.Errorf("INTROSPECTION_MAX_RETRIES must not be negative, got %d", c.IntrospectionMaxRetries)
	}

	switch c.IntrospectionAuthMode {
	case IntrospectionAuthBasic:
		if c.IntrospectionClientID == "" || c.IntrospectionClientSecret == "" {
			return errors.New("INTROSPECTION_CLIENT_ID and INTROSPECTION_CLIENT_SECRET are required for basic auth")
		}
	case IntrospectionAuthHMAC:
		if c.IntrospectionHMACSecret == "" {
			return errors.New("INTROSPECTION_HMAC_SECRET is required for hmac auth")
		}
	case IntrospectionAuthNone:
	default:
		return fmt.Errorf("invalid INTROSPECTION_AUTH_MODE value: %q", c.IntrospectionAuthMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseList splits a comma separated value, trimming blanks.
func parseList(input string) []string {
	out := []string{}
	for _, part := range strings.Split(input, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
