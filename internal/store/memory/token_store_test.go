package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

func newTestToken(t *testing.T, lookupHash string) *models.RefreshToken {
	t.Helper()

	tokenID, err := uuid.NewV7()
	require.NoError(t, err)
	subjectID, err := uuid.NewV7()
	require.NoError(t, err)

	now := time.Now()
	return &models.RefreshToken{
		TokenID:     tokenID,
		SubjectType: models.SubjectTypeKey,
		SubjectID:   subjectID,
		TokenHash:   "$argon2id$test",
		LookupHash:  lookupHash,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestTokenStore_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore()

	token := newTestToken(t, "lookup-1")
	require.NoError(t, s.Insert(ctx, token))

	got, err := s.FindByLookupHash(ctx, "lookup-1")
	require.NoError(t, err)
	require.Equal(t, token.TokenID, got.TokenID)

	_, err = s.FindByLookupHash(ctx, "lookup-missing")
	require.ErrorIs(t, err, store.ErrTokenNotFound)

	err = s.Insert(ctx, token)
	require.ErrorIs(t, err, store.ErrTokenAlreadyExists)
}

func TestTokenStore_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("successful rotation marks old and inserts new", func(t *testing.T) {
		s := NewTokenStore()
		old := newTestToken(t, "lookup-1")
		require.NoError(t, s.Insert(ctx, old))

		replacement := newTestToken(t, "lookup-2")
		err := s.Rotate(ctx, "lookup-1", func(current *models.RefreshToken) (*models.RefreshToken, error) {
			require.Equal(t, old.TokenID, current.TokenID)
			require.Nil(t, current.RotatedAt)
			return replacement, nil
		})
		require.NoError(t, err)

		gotOld, err := s.FindByLookupHash(ctx, "lookup-1")
		require.NoError(t, err)
		require.NotNil(t, gotOld.RotatedAt)
		require.Equal(t, replacement.TokenID, *gotOld.ReplacedByID)

		gotNew, err := s.FindByLookupHash(ctx, "lookup-2")
		require.NoError(t, err)
		require.Nil(t, gotNew.RotatedAt)
	})

	t.Run("exchange error writes nothing", func(t *testing.T) {
		s := NewTokenStore()
		old := newTestToken(t, "lookup-1")
		require.NoError(t, s.Insert(ctx, old))

		wantErr := errors.New("declined")
		err := s.Rotate(ctx, "lookup-1", func(current *models.RefreshToken) (*models.RefreshToken, error) {
			return nil, wantErr
		})
		require.ErrorIs(t, err, wantErr)

		gotOld, err := s.FindByLookupHash(ctx, "lookup-1")
		require.NoError(t, err)
		require.Nil(t, gotOld.RotatedAt)
		require.Nil(t, gotOld.ReplacedByID)
	})

	t.Run("unknown lookup hash", func(t *testing.T) {
		s := NewTokenStore()
		err := s.Rotate(ctx, "lookup-missing", func(current *models.RefreshToken) (*models.RefreshToken, error) {
			t.Fatal("exchange must not run for unknown tokens")
			return nil, nil
		})
		require.ErrorIs(t, err, store.ErrTokenNotFound)
	})

	t.Run("concurrent rotations have exactly one winner", func(t *testing.T) {
		s := NewTokenStore()
		old := newTestToken(t, "lookup-1")
		require.NoError(t, s.Insert(ctx, old))

		const attempts = 8
		var wg sync.WaitGroup
		wins := make(chan uuid.UUID, attempts)

		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				replacement := newTestToken(t, uuid.NewString())
				err := s.Rotate(ctx, "lookup-1", func(current *models.RefreshToken) (*models.RefreshToken, error) {
					if current.RotatedAt != nil {
						return nil, errors.New("replay")
					}
					return replacement, nil
				})
				if err == nil {
					wins <- replacement.TokenID
				}
			}()
		}

		wg.Wait()
		close(wins)

		var winners []uuid.UUID
		for id := range wins {
			winners = append(winners, id)
		}
		require.Len(t, winners, 1)

		gotOld, err := s.FindByLookupHash(ctx, "lookup-1")
		require.NoError(t, err)
		require.Equal(t, winners[0], *gotOld.ReplacedByID)
	})
}

func TestTokenStore_Revoke(t *testing.T) {
	ctx := context.Background()

	t.Run("revoke live token", func(t *testing.T) {
		s := NewTokenStore()
		token := newTestToken(t, "lookup-1")
		require.NoError(t, s.Insert(ctx, token))

		require.NoError(t, s.Revoke(ctx, token.TokenID))

		got, err := s.FindByLookupHash(ctx, "lookup-1")
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)

		err = s.Revoke(ctx, token.TokenID)
		require.ErrorIs(t, err, store.ErrTokenNotFound)
	})

	t.Run("revoke all for subject skips terminated tokens", func(t *testing.T) {
		s := NewTokenStore()
		subjectID, err := uuid.NewV7()
		require.NoError(t, err)

		a := newTestToken(t, "lookup-a")
		a.SubjectID = subjectID
		b := newTestToken(t, "lookup-b")
		b.SubjectID = subjectID
		c := newTestToken(t, "lookup-c")
		c.SubjectID = subjectID

		require.NoError(t, s.Insert(ctx, a))
		require.NoError(t, s.Insert(ctx, b))
		require.NoError(t, s.Insert(ctx, c))
		require.NoError(t, s.Revoke(ctx, c.TokenID))

		count, err := s.RevokeAllForSubject(ctx, models.SubjectTypeKey, subjectID)
		require.NoError(t, err)
		require.Equal(t, 2, count)
	})
}
