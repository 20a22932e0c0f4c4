// Package secrets generates and hashes opaque bearer secrets.
//
// The randomness source is a distinct type that can only be constructed over
// crypto/rand. A general-purpose PRNG cannot satisfy it, so weak secrets are
// a compile-time impossibility rather than a review-time hope.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"

	dErrors "membergate/pkg/domain-errors"
)

// Source is a cryptographically secure randomness source. The zero value is
// unusable; obtain one from NewSource.
type Source struct {
	reader io.Reader
}

// NewSource returns a Source backed by crypto/rand. There is no constructor
// accepting an arbitrary reader.
func NewSource() Source {
	return Source{reader: rand.Reader}
}

// Generate creates a random secret with 256 bits of entropy, base64-encoded.
func (s Source) Generate() (string, error) {
	if s.reader == nil {
		return "", errors.New("secrets: zero-value Source; use NewSource")
	}
	buf := make([]byte, 32)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of the provided secret. Only the hash is ever
// persisted; the plaintext leaves the process exactly once.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeValidation, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext secret against a bcrypt hash in constant time.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthenticated, "invalid secret")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}
