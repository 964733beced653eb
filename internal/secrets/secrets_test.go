package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArgon2Hasher(t *testing.T) {
	hasher := NewArgon2Hasher()

	t.Run("hash and verify round trip", func(t *testing.T) {
		encoded, err := hasher.Hash("super-secret")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(encoded, "$argon2id$"))

		require.True(t, hasher.Verify("super-secret", encoded))
		require.False(t, hasher.Verify("wrong-secret", encoded))
	})

	t.Run("same plaintext produces distinct hashes", func(t *testing.T) {
		a, err := hasher.Hash("super-secret")
		require.NoError(t, err)
		b, err := hasher.Hash("super-secret")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("verify rejects malformed encodings", func(t *testing.T) {
		require.False(t, hasher.Verify("anything", ""))
		require.False(t, hasher.Verify("anything", "$argon2id$garbage"))
		require.False(t, hasher.Verify("anything", "plaintext-stored-by-mistake"))
	})
}

func TestLookupHash(t *testing.T) {
	a := LookupHash("token-one")
	b := LookupHash("token-one")
	c := LookupHash("token-two")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestGenerators(t *testing.T) {
	t.Run("key secret", func(t *testing.T) {
		s, err := NewKeySecret()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(s, "ak_"))
	})

	t.Run("refresh token", func(t *testing.T) {
		s, err := NewRefreshToken()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(s, "art_"))
	})

	t.Run("public id is apub_ plus 32 hex chars", func(t *testing.T) {
		s, err := NewPublicID()
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(s, "apub_"))
		require.Len(t, s, len("apub_")+32)
		require.Equal(t, strings.ToLower(s), s)
	})

	t.Run("public ids are unique", func(t *testing.T) {
		a, err := NewPublicID()
		require.NoError(t, err)
		b, err := NewPublicID()
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestDeviceFingerprint(t *testing.T) {
	a := DeviceFingerprint("203.0.113.10", "curl/8.0")
	b := DeviceFingerprint("203.0.113.10", "curl/8.0")
	c := DeviceFingerprint("203.0.113.11", "curl/8.0")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
