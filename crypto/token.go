package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateToken returns a URL-safe base64 encoding of n random bytes
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateSessionID generates a 40 character session ID
func GenerateSessionID() (string, error) {
	id, err := GenerateToken(30)
	if err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return id, nil
}

// GenerateState generates an OAuth state value
func GenerateState() (string, error) {
	state, err := GenerateToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}
