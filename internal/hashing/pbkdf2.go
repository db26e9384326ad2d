package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 hashes credentials with PBKDF2-HMAC-SHA256, serialized as
// pbkdf2-sha256$<iterations>$<salt>$<hash>
type PBKDF2 struct {
	iterations int
	saltLength int
	keyLength  int
}

// NewPBKDF2 constructs the PBKDF2 hasher with standard parameters.
func NewPBKDF2() *PBKDF2 {
	return &PBKDF2{
		iterations: 310_000,
		saltLength: 16,
		keyLength:  32,
	}
}

func (p *PBKDF2) Hash(plaintext string) (string, error) {
	salt := make([]byte, p.saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("pbkdf2 salt: %w", err)
	}

	key := pbkdf2.Key([]byte(plaintext), salt, p.iterations, p.keyLength, sha256.New)

	return fmt.Sprintf("pbkdf2-sha256$%d$%s$%s",
		p.iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (p *PBKDF2) Verify(plaintext, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 4 || parts[0] != "pbkdf2-sha256" {
		return false, fmt.Errorf("malformed pbkdf2 hash")
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, fmt.Errorf("malformed pbkdf2 iterations")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("malformed pbkdf2 salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("malformed pbkdf2 digest: %w", err)
	}

	computed := pbkdf2.Key([]byte(plaintext), salt, iterations, len(hash), sha256.New)
	return subtle.ConstantTimeCompare(hash, computed) == 1, nil
}
