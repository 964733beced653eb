package permission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/keymint/internal/models"
)

func TestValidateSyntax(t *testing.T) {
	catalog := DefaultCatalog()

	t.Run("accepts two and three segment forms", func(t *testing.T) {
		require.NoError(t, catalog.ValidateSyntax("posts:create"))
		require.NoError(t, catalog.ValidateSyntax("posts:comments:write"))
		require.NoError(t, catalog.ValidateSyntax("a-b:c_d:e9"))
	})

	t.Run("rejects malformed strings", func(t *testing.T) {
		for _, perm := range []string{
			"",
			"posts",
			"posts:",
			":create",
			"posts::create",
			"a:b:c:d",
			"Posts:Create",
			"posts create",
		} {
			err := catalog.ValidateSyntax(perm)
			var syntaxErr *SyntaxError
			require.ErrorAs(t, err, &syntaxErr, "permission %q", perm)
			require.Equal(t, perm, syntaxErr.Permission)
		}
	})
}

func TestValidateEnvelope(t *testing.T) {
	catalog := DefaultCatalog()
	parent := []string{PermPostsCreate, PermKeysIssue, PermCommentsWrite}

	t.Run("primary keys only need the grammar", func(t *testing.T) {
		err := catalog.ValidateEnvelope([]string{"anything:goes"}, nil, models.KeyTypePrimary)
		require.NoError(t, err)

		err = catalog.ValidateEnvelope([]string{"broken"}, nil, models.KeyTypePrimary)
		var syntaxErr *SyntaxError
		require.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("secondary subset of parent passes", func(t *testing.T) {
		err := catalog.ValidateEnvelope([]string{PermPostsCreate, PermCommentsWrite}, parent, models.KeyTypeSecondary)
		require.NoError(t, err)
	})

	t.Run("excess permissions reported by name", func(t *testing.T) {
		err := catalog.ValidateEnvelope(
			[]string{PermPostsCreate, "files:read", "admin:all"},
			parent,
			models.KeyTypeSecondary,
		)

		var envErr *EnvelopeError
		require.ErrorAs(t, err, &envErr)
		require.Equal(t, []string{"admin:all", "files:read"}, envErr.Missing)
		require.Empty(t, envErr.Forbidden)
	})

	t.Run("use key forbidden set applies even when parent holds them", func(t *testing.T) {
		err := catalog.ValidateEnvelope(
			[]string{PermPostsCreate, PermCommentsWrite},
			parent,
			models.KeyTypeUse,
		)

		var envErr *EnvelopeError
		require.ErrorAs(t, err, &envErr)
		require.Equal(t, []string{PermPostsCreate}, envErr.Forbidden)
		require.Empty(t, envErr.Missing)
	})

	t.Run("use key requesting keys:issue is rejected", func(t *testing.T) {
		err := catalog.ValidateEnvelope([]string{PermKeysIssue}, parent, models.KeyTypeUse)

		var envErr *EnvelopeError
		require.ErrorAs(t, err, &envErr)
		require.Equal(t, []string{PermKeysIssue}, envErr.Forbidden)
	})

	t.Run("use key within envelope passes", func(t *testing.T) {
		err := catalog.ValidateEnvelope([]string{PermCommentsWrite}, parent, models.KeyTypeUse)
		require.NoError(t, err)
	})

	t.Run("malformed child permission is a syntax error not an envelope error", func(t *testing.T) {
		err := catalog.ValidateEnvelope([]string{"bad"}, parent, models.KeyTypeSecondary)
		var envErr *EnvelopeError
		require.False(t, errors.As(err, &envErr))
		var syntaxErr *SyntaxError
		require.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("duplicate excess permissions reported once", func(t *testing.T) {
		err := catalog.ValidateEnvelope(
			[]string{"files:read", "files:read"},
			parent,
			models.KeyTypeSecondary,
		)

		var envErr *EnvelopeError
		require.ErrorAs(t, err, &envErr)
		require.Equal(t, []string{"files:read"}, envErr.Missing)
	})

	t.Run("custom catalog swaps the forbidden set", func(t *testing.T) {
		custom := NewCatalog([]string{"files:delete"})
		err := custom.ValidateEnvelope([]string{PermPostsCreate}, parent, models.KeyTypeUse)
		require.NoError(t, err)

		err = custom.ValidateEnvelope([]string{"files:delete"}, []string{"files:delete"}, models.KeyTypeUse)
		var envErr *EnvelopeError
		require.ErrorAs(t, err, &envErr)
		require.Equal(t, []string{"files:delete"}, envErr.Forbidden)
	})
}
