package models

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeyType represents the position of a key in the delegation hierarchy.
const (
	KeyTypePrimary   = "primary"   // Root key, minted directly for an owner
	KeyTypeSecondary = "secondary" // Delegated key, can mint children
	KeyTypeUse       = "use"       // Interaction-only key, cannot mint
)

// Key represents a machine credential. Keys form a tree rooted at a primary
// key: the lineage fields (IssuedByKeyID, ParentKeyID, InitialAuthorKeyID)
// are set at creation and never mutated afterwards. Rotation creates a new
// record that copies them forward.
type Key struct {
	KeyID    uuid.UUID // UUIDv7, internal identity
	PublicID string    // "apub_" prefixed, used only for credential exchange
	Type     string    // "primary", "secondary", "use"
	Label    string    // Display label (e.g. "ci-deploy")

	OwnerID uuid.UUID // Owner the root primary key was minted for

	Permissions []string // Permission strings, e.g. "posts:create"
	Active      bool

	// Secret material. Only the argon2id hash is ever persisted; the
	// plaintext is returned once at mint time via MintedKey.
	SecretHash string

	// Optional bounded counters for use keys.
	UseCountLimit   *int
	UseCountCurrent int
	DeviceLimit     *int

	// Lineage, immutable once set.
	IssuedByKeyID      *uuid.UUID // Issuer (nil for primary keys)
	ParentKeyID        *uuid.UUID // Direct parent (nil for primary keys)
	InitialAuthorKeyID uuid.UUID  // Root primary key (self for primary keys)

	// Rotation links, set only by rotation.
	RotatedFromID *uuid.UUID
	RotatedToID   *uuid.UUID
	RetiredAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRetired returns true if the key has been replaced by rotation.
func (k *Key) IsRetired() bool {
	return k.RetiredAt != nil
}

// CanIssue returns true if the key type is allowed to mint child keys.
// Use keys never mint, regardless of their permission set.
func (k *Key) CanIssue() bool {
	return k.Type == KeyTypePrimary || k.Type == KeyTypeSecondary
}

// HasPermission reports whether the key's permission set contains perm.
func (k *Key) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// MintedKey is the one-shot result of minting or rotating a key. It is the
// only type that ever carries the plaintext secret; everything else in the
// system sees Key, which holds only the hash.
type MintedKey struct {
	Key    *Key
	Secret string // Plaintext secret, shown exactly once
}

// HexID renders a 128-bit id as the external 32-char lowercase hex form.
func HexID(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}

// ParseHexID parses the external 32-char lowercase hex form back into an id.
func ParseHexID(s string) (uuid.UUID, error) {
	if len(s) != 32 {
		return uuid.Nil, fmt.Errorf("invalid id %q: want 32 hex chars", s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return uuid.FromBytes(raw)
}
