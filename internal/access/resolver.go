package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/audit"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

// ErrPostNotFound is returned both when a post genuinely has no grants for
// the caller and when the caller lacks view access. The conflation is
// deliberate: a caller without view must not be able to tell that the post
// exists.
var ErrPostNotFound = errors.New("post not found")

// ForbiddenError means the post is visible but the attempted action needs
// bits the caller's resolved mask does not carry.
type ForbiddenError struct {
	Required int
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("action requires %s", MaskNames(e.Required))
}

// Resolver computes effective post access and applies grant mutations.
type Resolver struct {
	grants  store.PostAccessStore
	groups  store.GroupMembershipStore
	auditor audit.Sink
}

// NewResolver creates a resolver over the given stores.
func NewResolver(grants store.PostAccessStore, groups store.GroupMembershipStore, auditor audit.Sink) *Resolver {
	return &Resolver{
		grants:  grants,
		groups:  groups,
		auditor: auditor,
	}
}

// Resolve combines the key's direct grant with any grants held by the
// given groups, ORing the masks together. The result is independent of
// grant order and of redundant grants.
func (r *Resolver) Resolve(ctx context.Context, postID, keyID uuid.UUID, groupIDs []uuid.UUID) (int, error) {
	mask := 0

	direct, err := r.grants.FindDirect(ctx, postID, keyID)
	switch {
	case err == nil:
		mask |= direct.Mask
	case errors.Is(err, store.ErrGrantNotFound):
		// No direct grant; groups may still contribute.
	default:
		return 0, fmt.Errorf("failed to resolve direct grant: %w", err)
	}

	if len(groupIDs) > 0 {
		groupGrants, err := r.grants.FindForGroups(ctx, postID, groupIDs)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve group grants: %w", err)
		}
		for _, g := range groupGrants {
			mask |= g.Mask
		}
	}

	return mask, nil
}

// ResolveForKey resolves using the key's stored group memberships.
func (r *Resolver) ResolveForKey(ctx context.Context, postID, keyID uuid.UUID) (int, error) {
	groupIDs, err := r.groups.FindGroupsForKey(ctx, keyID)
	if err != nil {
		return 0, fmt.Errorf("failed to load group memberships: %w", err)
	}
	return r.Resolve(ctx, postID, keyID, groupIDs)
}

// Require checks a resolved mask against the bits an action needs. A
// caller without view gets ErrPostNotFound, never a Forbidden, so the
// post's existence does not leak. A caller with view but without the
// required bits gets a ForbiddenError naming them.
func Require(mask, required int) error {
	if !HasView(mask) {
		return ErrPostNotFound
	}
	if mask&required != required {
		return &ForbiddenError{Required: required}
	}
	return nil
}

// Grant upserts a grant on behalf of a requesting key. The requester must
// itself resolve MANAGE_ACCESS on the post; it does not need to hold the
// bits it grants (a manager may grant comment without holding comment).
func (r *Resolver) Grant(ctx context.Context, requesterKeyID uuid.UUID, grant *models.PostAccessGrant) error {
	if err := ValidateMask(grant.Mask); err != nil {
		return err
	}
	if grant.TargetType != models.GrantTargetKey && grant.TargetType != models.GrantTargetGroup {
		return fmt.Errorf("invalid grant target type %q", grant.TargetType)
	}

	if err := r.requireManage(ctx, grant.PostID, requesterKeyID); err != nil {
		return err
	}

	if err := r.grants.Upsert(ctx, grant); err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}

	log.Debug().
		Str("post_id", models.HexID(grant.PostID)).
		Str("target_id", models.HexID(grant.TargetID)).
		Str("mask", MaskNames(grant.Mask)).
		Msg("Granted post access")

	return r.emit(ctx, audit.Event{
		ActorType:   audit.ActorTypeKey,
		ActorID:     models.HexID(requesterKeyID),
		Action:      "post_access:grant",
		SubjectType: "post",
		SubjectID:   models.HexID(grant.PostID),
		Metadata: map[string]any{
			"target_type": grant.TargetType,
			"target_id":   models.HexID(grant.TargetID),
			"mask":        MaskNames(grant.Mask),
		},
	})
}

// Revoke deletes a grant on behalf of a requesting key, under the same
// manage-access gate as Grant.
func (r *Resolver) Revoke(ctx context.Context, requesterKeyID, postID uuid.UUID, targetType string, targetID uuid.UUID) error {
	if err := r.requireManage(ctx, postID, requesterKeyID); err != nil {
		return err
	}

	if err := r.grants.Delete(ctx, postID, targetType, targetID); err != nil {
		if errors.Is(err, store.ErrGrantNotFound) {
			return store.ErrGrantNotFound
		}
		return fmt.Errorf("failed to delete grant: %w", err)
	}

	return r.emit(ctx, audit.Event{
		ActorType:   audit.ActorTypeKey,
		ActorID:     models.HexID(requesterKeyID),
		Action:      "post_access:revoke",
		SubjectType: "post",
		SubjectID:   models.HexID(postID),
		Metadata: map[string]any{
			"target_type": targetType,
			"target_id":   models.HexID(targetID),
		},
	})
}

func (r *Resolver) requireManage(ctx context.Context, postID, requesterKeyID uuid.UUID) error {
	mask, err := r.ResolveForKey(ctx, postID, requesterKeyID)
	if err != nil {
		return err
	}
	return Require(mask, MaskManageAccess)
}

func (r *Resolver) emit(ctx context.Context, event audit.Event) error {
	event.CreatedAt = time.Now()
	if err := r.auditor.Emit(ctx, event); err != nil {
		var emitErr *audit.EmitError
		if errors.As(err, &emitErr) {
			return emitErr
		}
		return &audit.EmitError{Action: event.Action, Err: err}
	}
	return nil
}
