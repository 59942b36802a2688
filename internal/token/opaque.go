package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// opaqueTokenBytes gives 256 bits of entropy per token.
const opaqueTokenBytes = 32

// GenerateOpaque returns a new random, URL-safe bearer token value.
func GenerateOpaque() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
