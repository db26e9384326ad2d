package tenant

import "github.com/google/uuid"

// Key value prefixes. The gateway relies on these to reject malformed keys
// before any store lookup.
const (
	PublicKeyPrefix = "pk_"
	SecretKeyPrefix = "sk_"
)

// NewPublicKeyValue generates a publishable API key value.
func NewPublicKeyValue() string {
	return PublicKeyPrefix + uuid.New().String()
}

// NewSecretKeyValue generates a secret API key value. Only its hash is stored.
func NewSecretKeyValue() string {
	return SecretKeyPrefix + uuid.New().String()
}
