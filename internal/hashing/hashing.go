// Package hashing implements the credential verifier capability: one-way
// password hashing selectable per tenant by algorithm identifier.
package hashing

import (
	"tokenly/internal/tenant"
)

// Hasher is the per-algorithm credential capability the engine consumes.
// Verify must never return an error for a well-formed stored hash that simply
// does not match; mismatches are a false result, errors mean a malformed hash.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, encodedHash string) (bool, error)
}

// Registry resolves the Hasher for a tenant's configured algorithm.
type Registry struct {
	hashers map[tenant.HashAlgorithm]Hasher
}

// NewRegistry builds the default registry with all supported algorithms.
func NewRegistry() *Registry {
	return &Registry{
		hashers: map[tenant.HashAlgorithm]Hasher{
			tenant.HashBcrypt: NewBcrypt(),
			tenant.HashArgon2: NewArgon2(),
			tenant.HashPBKDF2: NewPBKDF2(),
		},
	}
}

// For returns the Hasher for the algorithm, falling back to bcrypt for the
// zero value. Unknown algorithms are rejected earlier, at config parse time.
func (r *Registry) For(alg tenant.HashAlgorithm) Hasher {
	if h, ok := r.hashers[alg]; ok {
		return h
	}
	return r.hashers[tenant.HashBcrypt]
}
