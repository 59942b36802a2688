package store

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/go-authgate/tokengate/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// ErrClientNotFound is returned by Lookup for unknown client IDs. It never
// leaves the service layer.
var ErrClientNotFound = errors.New("client not found")

// ClientRegistry is the static set of clients loaded at startup. It has no
// mutation operations and is safe for concurrent reads.
type ClientRegistry struct {
	clients   map[string]*models.Client
	dummyHash []byte
}

// NewClientRegistry registers clients. Client IDs must be unique and
// non-empty, and every client needs a secret hash and a TTL of at least a
// second. TTLs are truncated to whole seconds.
func NewClientRegistry(clients ...*models.Client) (*ClientRegistry, error) {
	r := &ClientRegistry{clients: make(map[string]*models.Client, len(clients))}

	cost := bcrypt.DefaultCost
	for _, c := range clients {
		if c == nil || c.ClientID == "" {
			return nil, errors.New("registry: client ID is required")
		}
		if _, ok := r.clients[c.ClientID]; ok {
			return nil, fmt.Errorf("registry: duplicate client ID %q", c.ClientID)
		}
		if c.SecretHash == "" {
			return nil, fmt.Errorf("registry: client %q has no secret hash", c.ClientID)
		}
		hashCost, err := bcrypt.Cost([]byte(c.SecretHash))
		if err != nil {
			return nil, fmt.Errorf("registry: client %q secret is not a bcrypt hash: %w", c.ClientID, err)
		}
		if c.AccessTokenTTL < time.Second {
			return nil, fmt.Errorf("registry: client %q access token TTL must be at least one second", c.ClientID)
		}
		if len(r.clients) == 0 {
			cost = hashCost
		}

		cp := cloneClient(c)
		cp.AccessTokenTTL = cp.AccessTokenTTL.Truncate(time.Second)
		if len(cp.GrantTypes) == 0 {
			cp.GrantTypes = []string{models.GrantTypeClientCredentials}
		}
		r.clients[c.ClientID] = cp
	}

	// Unknown clients are compared against this hash so a lookup miss costs
	// as much as a wrong secret.
	dummy, err := bcrypt.GenerateFromPassword([]byte("tokengate-dummy-secret"), cost)
	if err != nil {
		return nil, fmt.Errorf("registry: generate dummy hash: %w", err)
	}
	r.dummyHash = dummy

	return r, nil
}

// Lookup returns a copy of the client registered under clientID.
func (r *ClientRegistry) Lookup(clientID string) (*models.Client, error) {
	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return cloneClient(c), nil
}

// VerifySecret reports whether secret matches the client's stored hash.
func (r *ClientRegistry) VerifySecret(c *models.Client, secret string) bool {
	if c == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
}

// BurnCompare performs a throwaway hash comparison for unknown clients.
func (r *ClientRegistry) BurnCompare(secret string) {
	_ = bcrypt.CompareHashAndPassword(r.dummyHash, []byte(secret))
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int {
	return len(r.clients)
}

// HashSecret bcrypt-hashes a plaintext client secret. A cost of 0 selects
// bcrypt.DefaultCost.
func HashSecret(secret string, cost int) (string, error) {
	if secret == "" {
		return "", errors.New("registry: empty client secret")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

type clientsFile struct {
	Clients []clientEntry `yaml:"clients"`
}

type clientEntry struct {
	ClientID                   string   `yaml:"client_id"`
	SecretHash                 string   `yaml:"secret_hash"`
	Scopes                     []string `yaml:"scopes"`
	GrantTypes                 []string `yaml:"grant_types"`
	AccessTokenValiditySeconds int      `yaml:"access_token_validity_seconds"`
}

// LoadClientsFile reads client registrations from a YAML file.
//
//	clients:
//	  - client_id: client
//	    secret_hash: $2a$10$...
//	    scopes: [read, write]
//	    grant_types: [client_credentials]
//	    access_token_validity_seconds: 3600
func LoadClientsFile(path string) ([]*models.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read clients file: %w", err)
	}
	return ParseClients(data)
}

// ParseClients decodes YAML client registrations.
func ParseClients(data []byte) ([]*models.Client, error) {
	var f clientsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("registry: parse clients file: %w", err)
	}

	clients := make([]*models.Client, 0, len(f.Clients))
	for _, e := range f.Clients {
		clients = append(clients, &models.Client{
			ClientID:       e.ClientID,
			SecretHash:     e.SecretHash,
			Scopes:         e.Scopes,
			GrantTypes:     e.GrantTypes,
			AccessTokenTTL: time.Duration(e.AccessTokenValiditySeconds) * time.Second,
		})
	}
	return clients, nil
}

func cloneClient(c *models.Client) *models.Client {
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	return &cp
}
