// Package keygen provides fixed-length random identifier generation.
// Generators should be safe for concurrent use.
package keygen

import (
	"crypto/rand"
	"errors"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// LinkIDLength is the length of public link and group identifiers.
	LinkIDLength = 8
	// GroupTokenLength is the length of group edit tokens.
	GroupTokenLength = 12
)

// Generator generates opaque identifiers of a requested length.
// Implementations should be safe for concurrent use.
type Generator interface {
	Generate(length int) (string, error)
}

// base62Generator implements Generator using base62 encoding.
// It is safe for concurrent use.
type base62Generator struct{}

// NewBase62 returns a new base62 identifier generator.
func NewBase62() Generator {
	return &base62Generator{}
}

// Generate generates a random base62 string of the specified length.
// Collisions are not checked here; the store's unique constraints are the
// authority and callers retry with a fresh value on violation.
func (g *base62Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	for i := range b {
		b[i] = base62Chars[int(b[i])%len(base62Chars)]
	}

	return string(b), nil
}
