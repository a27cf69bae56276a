package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewAgentToken generates an opaque agent credential.
func NewAgentToken() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate agent token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
