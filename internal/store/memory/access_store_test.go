package memory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

func TestPostAccessStore(t *testing.T) {
	ctx := context.Background()
	postID := uuid.New()
	keyID := uuid.New()
	groupID := uuid.New()

	t.Run("upsert overwrites rather than accumulates", func(t *testing.T) {
		s := NewPostAccessStore()

		require.NoError(t, s.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: keyID, Mask: 0x03,
		}))
		require.NoError(t, s.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: keyID, Mask: 0x01,
		}))

		grant, err := s.FindDirect(ctx, postID, keyID)
		require.NoError(t, err)
		require.Equal(t, 0x01, grant.Mask)
	})

	t.Run("delete removes the grant", func(t *testing.T) {
		s := NewPostAccessStore()
		require.NoError(t, s.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: keyID, Mask: 0x01,
		}))

		require.NoError(t, s.Delete(ctx, postID, models.GrantTargetKey, keyID))

		_, err := s.FindDirect(ctx, postID, keyID)
		require.ErrorIs(t, err, store.ErrGrantNotFound)

		err = s.Delete(ctx, postID, models.GrantTargetKey, keyID)
		require.ErrorIs(t, err, store.ErrGrantNotFound)
	})

	t.Run("find for groups returns only matching grants", func(t *testing.T) {
		s := NewPostAccessStore()
		require.NoError(t, s.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetGroup, TargetID: groupID, Mask: 0x02,
		}))

		grants, err := s.FindForGroups(ctx, postID, []uuid.UUID{groupID, uuid.New()})
		require.NoError(t, err)
		require.Len(t, grants, 1)
		require.Equal(t, 0x02, grants[0].Mask)
	})
}

func TestGroupMembershipStore(t *testing.T) {
	ctx := context.Background()
	s := NewGroupMembershipStore()

	groupA := uuid.New()
	groupB := uuid.New()
	keyID := uuid.New()

	require.NoError(t, s.AddMember(ctx, groupA, keyID))
	require.NoError(t, s.AddMember(ctx, groupA, keyID)) // idempotent
	require.NoError(t, s.AddMember(ctx, groupB, keyID))

	groups, err := s.FindGroupsForKey(ctx, keyID)
	require.NoError(t, err)
	require.ElementsMatch(t, []uuid.UUID{groupA, groupB}, groups)

	require.NoError(t, s.RemoveMember(ctx, groupA, keyID))

	groups, err = s.FindGroupsForKey(ctx, keyID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{groupB}, groups)
}
