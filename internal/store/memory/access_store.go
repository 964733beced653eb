package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

type grantKey struct {
	postID     uuid.UUID
	targetType string
	targetID   uuid.UUID
}

// PostAccessStore is an in-memory implementation of store.PostAccessStore.
type PostAccessStore struct {
	mu     sync.RWMutex
	grants map[grantKey]*models.PostAccessGrant
}

// NewPostAccessStore creates a new in-memory post access store.
func NewPostAccessStore() *PostAccessStore {
	return &PostAccessStore{
		grants: make(map[grantKey]*models.PostAccessGrant),
	}
}

// Upsert creates or replaces the grant for its target tuple.
func (s *PostAccessStore) Upsert(ctx context.Context, grant *models.PostAccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := grantKey{postID: grant.PostID, targetType: grant.TargetType, targetID: grant.TargetID}
	now := time.Now()

	stored := *grant
	if existing, exists := s.grants[k]; exists {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.grants[k] = &stored
	return nil
}

// Delete removes a grant.
func (s *PostAccessStore) Delete(ctx context.Context, postID uuid.UUID, targetType string, targetID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := grantKey{postID: postID, targetType: targetType, targetID: targetID}
	if _, exists := s.grants[k]; !exists {
		return store.ErrGrantNotFound
	}
	delete(s.grants, k)
	return nil
}

// FindDirect returns the grant targeting the key directly.
func (s *PostAccessStore) FindDirect(ctx context.Context, postID, keyID uuid.UUID) (*models.PostAccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := grantKey{postID: postID, targetType: models.GrantTargetKey, targetID: keyID}
	grant, exists := s.grants[k]
	if !exists {
		return nil, store.ErrGrantNotFound
	}

	out := *grant
	return &out, nil
}

// FindForGroups returns the grants on the post targeting any of the groups.
func (s *PostAccessStore) FindForGroups(ctx context.Context, postID uuid.UUID, groupIDs []uuid.UUID) ([]*models.PostAccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PostAccessGrant
	for _, groupID := range groupIDs {
		k := grantKey{postID: postID, targetType: models.GrantTargetGroup, targetID: groupID}
		if grant, exists := s.grants[k]; exists {
			g := *grant
			out = append(out, &g)
		}
	}
	return out, nil
}

// GroupMembershipStore is an in-memory implementation of
// store.GroupMembershipStore.
type GroupMembershipStore struct {
	mu      sync.RWMutex
	members map[uuid.UUID]map[uuid.UUID]struct{} // group -> keys
}

// NewGroupMembershipStore creates a new in-memory membership store.
func NewGroupMembershipStore() *GroupMembershipStore {
	return &GroupMembershipStore{
		members: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// AddMember adds a key to a group. Idempotent.
func (s *GroupMembershipStore) AddMember(ctx context.Context, groupID, keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, exists := s.members[groupID]
	if !exists {
		keys = make(map[uuid.UUID]struct{})
		s.members[groupID] = keys
	}
	keys[keyID] = struct{}{}
	return nil
}

// RemoveMember removes a key from a group.
func (s *GroupMembershipStore) RemoveMember(ctx context.Context, groupID, keyID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keys, exists := s.members[groupID]; exists {
		delete(keys, keyID)
	}
	return nil
}

// FindGroupsForKey returns the ids of all groups the key belongs to.
func (s *GroupMembershipStore) FindGroupsForKey(ctx context.Context, keyID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var groups []uuid.UUID
	for groupID, keys := range s.members {
		if _, member := keys[keyID]; member {
			groups = append(groups, groupID)
		}
	}
	return groups, nil
}
