package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/keymint/internal/audit"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
	"github.com/wolfeidau/keymint/internal/store/memory"
)

type resolverFixture struct {
	grants   *memory.PostAccessStore
	groups   *memory.GroupMembershipStore
	recorder *audit.Recorder
	resolver *Resolver
}

func newResolverFixture() *resolverFixture {
	grants := memory.NewPostAccessStore()
	groups := memory.NewGroupMembershipStore()
	recorder := audit.NewRecorder()
	return &resolverFixture{
		grants:   grants,
		groups:   groups,
		recorder: recorder,
		resolver: NewResolver(grants, groups, recorder),
	}
}

func TestBitmask(t *testing.T) {
	t.Run("predicates", func(t *testing.T) {
		require.True(t, HasView(MaskViewer))
		require.False(t, HasComment(MaskViewer))
		require.True(t, HasComment(MaskCommenter))
		require.True(t, HasManageAccess(MaskManager))
		require.False(t, HasManageAccess(MaskCommenter))
	})

	t.Run("validate mask", func(t *testing.T) {
		require.NoError(t, ValidateMask(MaskView))
		require.NoError(t, ValidateMask(MaskManager))

		var invalid *InvalidMaskError
		require.ErrorAs(t, ValidateMask(0), &invalid)
		require.ErrorAs(t, ValidateMask(0x10), &invalid)
	})

	t.Run("mask names", func(t *testing.T) {
		require.Equal(t, "view|comment", MaskNames(MaskCommenter))
		require.Equal(t, "none", MaskNames(0))
	})
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	postID := uuid.New()
	keyID := uuid.New()
	groupA := uuid.New()
	groupB := uuid.New()

	t.Run("no grants resolves to zero", func(t *testing.T) {
		f := newResolverFixture()
		mask, err := f.resolver.Resolve(ctx, postID, keyID, nil)
		require.NoError(t, err)
		require.Equal(t, 0, mask)
	})

	t.Run("direct and group grants are ORed", func(t *testing.T) {
		f := newResolverFixture()
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: keyID, Mask: MaskView,
		}))
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetGroup, TargetID: groupA, Mask: MaskComment,
		}))
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetGroup, TargetID: groupB, Mask: MaskManageAccess,
		}))

		mask, err := f.resolver.Resolve(ctx, postID, keyID, []uuid.UUID{groupA, groupB})
		require.NoError(t, err)
		require.Equal(t, MaskView|MaskComment|MaskManageAccess, mask)
	})

	t.Run("result is invariant under group order and duplication", func(t *testing.T) {
		f := newResolverFixture()
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetGroup, TargetID: groupA, Mask: MaskCommenter,
		}))
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetGroup, TargetID: groupB, Mask: MaskView,
		}))

		a, err := f.resolver.Resolve(ctx, postID, keyID, []uuid.UUID{groupA, groupB})
		require.NoError(t, err)
		b, err := f.resolver.Resolve(ctx, postID, keyID, []uuid.UUID{groupB, groupA, groupA})
		require.NoError(t, err)
		require.Equal(t, a, b)
	})

	t.Run("resolve for key uses stored memberships", func(t *testing.T) {
		f := newResolverFixture()
		require.NoError(t, f.groups.AddMember(ctx, groupA, keyID))
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetGroup, TargetID: groupA, Mask: MaskCommenter,
		}))

		mask, err := f.resolver.ResolveForKey(ctx, postID, keyID)
		require.NoError(t, err)
		require.Equal(t, MaskCommenter, mask)
	})

	t.Run("grant then resolve round trip", func(t *testing.T) {
		f := newResolverFixture()
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: keyID, Mask: MaskCommenter,
		}))

		mask, err := f.resolver.Resolve(ctx, postID, keyID, nil)
		require.NoError(t, err)
		require.Equal(t, MaskCommenter, mask)

		require.NoError(t, f.grants.Delete(ctx, postID, models.GrantTargetKey, keyID))

		mask, err = f.resolver.Resolve(ctx, postID, keyID, nil)
		require.NoError(t, err)
		require.Equal(t, 0, mask)
	})
}

func TestRequire(t *testing.T) {
	t.Run("no view is reported as not found", func(t *testing.T) {
		err := Require(0, MaskView)
		require.ErrorIs(t, err, ErrPostNotFound)

		err = Require(MaskComment, MaskComment) // comment without view
		require.ErrorIs(t, err, ErrPostNotFound)
	})

	t.Run("view without required bits is forbidden", func(t *testing.T) {
		err := Require(MaskView, MaskView|MaskComment)

		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		require.Equal(t, MaskView|MaskComment, forbidden.Required)
	})

	t.Run("sufficient mask passes", func(t *testing.T) {
		require.NoError(t, Require(MaskManager, MaskView|MaskManageAccess))
	})
}

func TestResolver_GrantRevoke(t *testing.T) {
	ctx := context.Background()
	postID := uuid.New()
	manager := uuid.New()
	viewer := uuid.New()
	target := uuid.New()

	setup := func(t *testing.T) *resolverFixture {
		t.Helper()
		f := newResolverFixture()
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: manager, Mask: MaskView | MaskManageAccess,
		}))
		require.NoError(t, f.grants.Upsert(ctx, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: viewer, Mask: MaskView,
		}))
		return f
	}

	t.Run("manager can grant bits it does not hold", func(t *testing.T) {
		f := setup(t)

		// The manager holds view|manage_access but not comment; granting
		// comment to someone else is still allowed.
		err := f.resolver.Grant(ctx, manager, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: target, Mask: MaskCommenter,
		})
		require.NoError(t, err)

		mask, err := f.resolver.Resolve(ctx, postID, target, nil)
		require.NoError(t, err)
		require.Equal(t, MaskCommenter, mask)

		events := f.recorder.ByAction("post_access:grant")
		require.Len(t, events, 1)
		require.Equal(t, models.HexID(manager), events[0].ActorID)
	})

	t.Run("viewer without manage access is forbidden", func(t *testing.T) {
		f := setup(t)

		err := f.resolver.Grant(ctx, viewer, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: target, Mask: MaskView,
		})

		var forbidden *ForbiddenError
		require.ErrorAs(t, err, &forbidden)
		require.Equal(t, MaskManageAccess, forbidden.Required)
	})

	t.Run("stranger sees not found rather than forbidden", func(t *testing.T) {
		f := setup(t)

		err := f.resolver.Grant(ctx, uuid.New(), &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: target, Mask: MaskView,
		})
		require.ErrorIs(t, err, ErrPostNotFound)
	})

	t.Run("zero mask grant rejected before authorization", func(t *testing.T) {
		f := setup(t)

		err := f.resolver.Grant(ctx, viewer, &models.PostAccessGrant{
			PostID: postID, TargetType: models.GrantTargetKey, TargetID: target, Mask: 0,
		})

		var invalid *InvalidMaskError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("revoke removes access", func(t *testing.T) {
		f := setup(t)

		err := f.resolver.Revoke(ctx, manager, postID, models.GrantTargetKey, viewer)
		require.NoError(t, err)

		mask, err := f.resolver.Resolve(ctx, postID, viewer, nil)
		require.NoError(t, err)
		require.Equal(t, 0, mask)

		err = f.resolver.Revoke(ctx, manager, postID, models.GrantTargetKey, viewer)
		require.ErrorIs(t, err, store.ErrGrantNotFound)
	})
}
