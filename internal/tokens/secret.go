package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const secretBytes = 32

// SecretGenerator produces opaque secrets.
type SecretGenerator interface {
	NewSecret() (string, error)
}

type randomGenerator struct{}

// NewRandomGenerator returns a generator of 256-bit base64url secrets.
func NewRandomGenerator() SecretGenerator {
	return randomGenerator{}
}

func (randomGenerator) NewSecret() (string, error) {
	buffer := make([]byte, secretBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("tokens: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// digest binds the secret to its key so a digest from one key never matches another.
func digest(key, secret string) string {
	sum := sha256.Sum256([]byte(key + "\x00" + secret))
	return hex.EncodeToString(sum[:])
}
