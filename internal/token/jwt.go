package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// SigningKey is the HMAC key shared by the issuer (sign) and any resource
// server that verifies JWTs locally.
type SigningKey struct {
	KeyID  string
	Secret []byte
}

// accessClaims is the JWT payload of an access token.
type accessClaims struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTProvider signs and verifies self-contained access tokens.
type JWTProvider struct {
	key    SigningKey
	issuer string
	clock  clock.Clock
}

// NewJWTProvider creates a provider for key. clk may be nil.
func NewJWTProvider(key SigningKey, issuer string, clk clock.Clock) (*JWTProvider, error) {
	if len(key.Secret) == 0 {
		return nil, errors.New("jwt: signing key secret is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &JWTProvider{key: key, issuer: issuer, clock: clk}, nil
}

// Sign encodes tok as an HS256 JWT.
func (p *JWTProvider) Sign(tok *models.AccessToken) (string, error) {
	claims := accessClaims{
		ClientID: tok.ClientID,
		Scope:    tok.ScopeString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   tok.ClientID,
			ID:        tok.ID,
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if p.key.KeyID != "" {
		t.Header["kid"] = p.key.KeyID
	}

	signed, err := t.SignedString(p.key.Secret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}
	return signed, nil
}

// Verify checks the signature, kid and expiry of tokenString. Claims are only
// read after the signature has been verified.
func (p *JWTProvider) Verify(tokenString string) *TokenValidationResult {
	claims := &accessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, p.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Invalid(KindTokenExpired)
		}
		return Invalid(KindTokenMalformed)
	}

	if claims.ClientID == "" {
		return Invalid(KindTokenMalformed)
	}

	result := &TokenValidationResult{
		Valid:     true,
		ClientID:  claims.ClientID,
		Scopes:    ParseScope(claims.Scope),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Time
	}
	return result
}

func (p *JWTProvider) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	if p.key.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != p.key.KeyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}
	return p.key.Secret, nil
}

// TruncateTime drops sub-second precision so stored expiry and the JWT exp
// claim agree.
func TruncateTime(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
