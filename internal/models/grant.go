package models

import (
	"time"

	"github.com/google/uuid"
)

// GrantTargetType identifies what a post access grant points at.
const (
	GrantTargetKey   = "key"
	GrantTargetGroup = "group"
)

// PostAccessGrant is an authorization edge from a key or group to a post,
// carrying a capability bitmask. Grants are unique per (post, target type,
// target id); re-granting overwrites the mask, it does not accumulate.
type PostAccessGrant struct {
	PostID     uuid.UUID
	TargetType string // "key" or "group"
	TargetID   uuid.UUID
	Mask       int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GroupMembership links a key into a group. Membership only widens the set
// of grants visible to the key; it carries no mask of its own.
type GroupMembership struct {
	GroupID   uuid.UUID
	KeyID     uuid.UUID
	CreatedAt time.Time
}
