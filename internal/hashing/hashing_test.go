package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenly/internal/tenant"
)

func TestHashersRoundTrip(t *testing.T) {
	hashers := map[string]Hasher{
		"bcrypt": NewBcrypt(),
		"argon2": NewArgon2(),
		"pbkdf2": NewPBKDF2(),
	}

	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			encoded, err := h.Hash("correct horse battery staple")
			require.NoError(t, err)
			require.NotEmpty(t, encoded)
			assert.NotContains(t, encoded, "correct horse")

			ok, err := h.Verify("correct horse battery staple", encoded)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = h.Verify("wrong password", encoded)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestArgon2PHCFormat(t *testing.T) {
	encoded, err := NewArgon2().Hash("some password here")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=3,p=2$"), encoded)
}

func TestArgon2MalformedHash(t *testing.T) {
	_, err := NewArgon2().Verify("pw", "$bcrypt$nope")
	assert.Error(t, err)
}

func TestPBKDF2MalformedHash(t *testing.T) {
	_, err := NewPBKDF2().Verify("pw", "pbkdf2-sha256$bad")
	assert.Error(t, err)
}

func TestRegistryResolution(t *testing.T) {
	r := NewRegistry()

	assert.IsType(t, &Bcrypt{}, r.For(tenant.HashBcrypt))
	assert.IsType(t, &Argon2{}, r.For(tenant.HashArgon2))
	assert.IsType(t, &PBKDF2{}, r.For(tenant.HashPBKDF2))

	t.Run("zero value falls back to bcrypt", func(t *testing.T) {
		assert.IsType(t, &Bcrypt{}, r.For(""))
	})
}
