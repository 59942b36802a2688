package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-authgate/tokengate/internal/clock"
	"github.com/go-authgate/tokengate/internal/models"
	"github.com/go-authgate/tokengate/internal/store"
	"github.com/go-authgate/tokengate/internal/token"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testClientID     = "client"
	testClientSecret = "clientpassword"
	testJWTSecret    = "0123456789abcdef0123456789abcdef"
)

var testNow = time.Unix(1_700_000_000, 0)

func newTestRegistry(t *testing.T) *store.ClientRegistry {
	t.Helper()
	hash, err := store.HashSecret(testClientSecret, bcrypt.MinCost)
	require.NoError(t, err)
	readerHash, err := store.HashSecret("readerpassword", bcrypt.MinCost)
	require.NoError(t, err)

	reg, err := store.NewClientRegistry(
		&models.Client{
			ClientID:       testClientID,
			SecretHash:     hash,
			Scopes:         []string{"read", "write"},
			AccessTokenTTL: 3600 * time.Second,
		},
		&models.Client{
			ClientID:       "reader",
			SecretHash:     readerHash,
			Scopes:         []string{"read"},
			GrantTypes:     []string{models.GrantTypeClientCredentials},
			AccessTokenTTL: time.Minute,
		},
		&models.Client{
			ClientID:       "legacy",
			SecretHash:     hash,
			Scopes:         []string{"read"},
			GrantTypes:     []string{"password"},
			AccessTokenTTL: time.Hour,
		},
	)
	require.NoError(t, err)
	return reg
}

func newTestJWTProvider(t *testing.T, clk clock.Clock) *token.JWTProvider {
	t.Helper()
	p, err := token.NewJWTProvider(
		token.SigningKey{KeyID: "test-key", Secret: []byte(testJWTSecret)},
		"tokengate-test",
		clk,
	)
	require.NoError(t, err)
	return p
}

func newOpaqueService(t *testing.T, clk *clock.Mock) (*AuthorizationService, *store.MemoryTokenStore) {
	t.Helper()
	tokens := store.NewMemoryTokenStore(store.WithClock(clk), store.WithCleanupInterval(0))
	svc, err := NewAuthorizationService(Options{
		Mode:     token.ModeOpaque,
		Registry: newTestRegistry(t),
		Store:    tokens,
		Clock:    clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, tokens
}

func newJWTService(t *testing.T, clk *clock.Mock) *AuthorizationService {
	t.Helper()
	svc, err := NewAuthorizationService(Options{
		Mode:     token.ModeJWT,
		Registry: newTestRegistry(t),
		JWT:      newTestJWTProvider(t, clk),
		Clock:    clk,
	})
	require.NoError(t, err)
	return svc
}

func clientRequest(scopes ...string) IssueRequest {
	return IssueRequest{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Scopes:       scopes,
		GrantType:    models.GrantTypeClientCredentials,
	}
}

// stubStore lets tests inject token store failures.
type stubStore struct {
	putErrs []error
	puts    int
	getErr  error
}

func (s *stubStore) Put(context.Context, *models.AccessToken) error {
	s.puts++
	if len(s.putErrs) == 0 {
		return nil
	}
	err := s.putErrs[0]
	s.putErrs = s.putErrs[1:]
	return err
}

func (s *stubStore) Get(context.Context, string) (*models.AccessToken, error) {
	return nil, s.getErr
}

func (s *stubStore) Revoke(context.Context, string) error { return s.getErr }

func (s *stubStore) SweepExpired(context.Context) (int, error) { return 0, nil }

func (s *stubStore) Close() error { return nil }
