package models

import (
	"time"

	"github.com/google/uuid"
)

// SubjectType identifies who a refresh token was issued to.
const (
	SubjectTypeOwner = "owner"
	SubjectTypeKey   = "key"
)

// RefreshToken is a single-use bearer credential. The raw token is never
// stored: TokenHash is a salted argon2id hash used to authenticate, and
// LookupHash is a deterministic sha256 digest used only to locate the row.
// Once RotatedAt or RevokedAt is set the token is permanently unusable;
// rows are retained for forensic replay audit, never deleted.
type RefreshToken struct {
	TokenID     uuid.UUID
	SubjectType string // "owner" or "key"
	SubjectID   uuid.UUID

	TokenHash  string
	LookupHash string

	IssuedAt  time.Time
	ExpiresAt time.Time

	RevokedAt    *time.Time
	RotatedAt    *time.Time
	ReplacedByID *uuid.UUID
}

// IsExpired returns true if the token's lifetime has passed.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsRevoked returns true if the token was explicitly revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsRotated returns true if the token has already been redeemed. A rotated
// token presented again is a replay.
func (t *RefreshToken) IsRotated() bool {
	return t.RotatedAt != nil
}
