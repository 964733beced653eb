package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/keymint/internal/models"
)

// Errors
var (
	ErrGrantNotFound = errors.New("grant not found")
)

// PostAccessStore manages post access grants. A grant is unique per
// (post, target type, target id); Upsert overwrites the mask.
type PostAccessStore interface {
	// Upsert creates or replaces the grant for the grant's
	// (post, target type, target id) tuple.
	Upsert(ctx context.Context, grant *models.PostAccessGrant) error

	// Delete removes a grant. Fails with ErrGrantNotFound if absent.
	Delete(ctx context.Context, postID uuid.UUID, targetType string, targetID uuid.UUID) error

	// FindDirect returns the grant targeting the key directly, or
	// ErrGrantNotFound.
	FindDirect(ctx context.Context, postID, keyID uuid.UUID) (*models.PostAccessGrant, error)

	// FindForGroups returns the grants on the post targeting any of the
	// given groups. Missing groups simply contribute nothing.
	FindForGroups(ctx context.Context, postID uuid.UUID, groupIDs []uuid.UUID) ([]*models.PostAccessGrant, error)
}

// GroupMembershipStore manages the many-to-many edges between groups and
// keys. Membership is only ever used to widen the set of grants visible to
// a key.
type GroupMembershipStore interface {
	// AddMember adds a key to a group. Adding an existing member is
	// idempotent.
	AddMember(ctx context.Context, groupID, keyID uuid.UUID) error

	// RemoveMember removes a key from a group.
	RemoveMember(ctx context.Context, groupID, keyID uuid.UUID) error

	// FindGroupsForKey returns the ids of all groups the key belongs to.
	FindGroupsForKey(ctx context.Context, keyID uuid.UUID) ([]uuid.UUID, error)
}
