// Package keys implements the credential lifecycle: minting, rotation and
// activation of keys arranged in a delegation tree rooted at a primary key.
package keys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/audit"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/permission"
	"github.com/wolfeidau/keymint/internal/secrets"
	"github.com/wolfeidau/keymint/internal/store"
)

// maxLineageDepth caps descendant traversal. Lineage is a tree by
// construction; hitting the cap means the stored data is corrupt.
const maxLineageDepth = 32

// ErrInvalidKeyType is returned when a mint request names a key type that
// cannot be minted through that operation.
var ErrInvalidKeyType = errors.New("invalid key type")

// ForbiddenError means the issuing key exists but is not allowed to
// perform the operation. Required names what was missing.
type ForbiddenError struct {
	Required string
}

func (e *ForbiddenError) Error() string {
	return "operation forbidden: requires " + e.Required
}

// InconsistencyError reports corrupt lineage (a cycle, or depth beyond the
// traversal cap). This is an internal failure, never caller guidance.
type InconsistencyError struct {
	Reason string
}

func (e *InconsistencyError) Error() string {
	return "lineage inconsistency: " + e.Reason
}

// Actor identifies who requested a lifecycle operation, for audit.
type Actor struct {
	Type audit.ActorType
	ID   uuid.UUID
}

// OwnerActor builds an audit actor for a human owner.
func OwnerActor(ownerID uuid.UUID) Actor {
	return Actor{Type: audit.ActorTypeOwner, ID: ownerID}
}

// KeyActor builds an audit actor for a key.
func KeyActor(keyID uuid.UUID) Actor {
	return Actor{Type: audit.ActorTypeKey, ID: keyID}
}

// ChildLimits carries the optional bounded counters for use keys.
type ChildLimits struct {
	UseCountLimit *int
	DeviceLimit   *int
}

// Manager orchestrates the key lifecycle over a KeyStore. All mutating
// operations emit exactly one audit event; when the operation itself
// succeeds but the emit fails, the result is returned together with an
// *audit.EmitError so callers can decide whether degraded audit is fatal.
type Manager struct {
	keys    store.KeyStore
	catalog permission.Catalog
	hasher  secrets.Hasher
	auditor audit.Sink
}

// NewManager creates a key lifecycle manager.
func NewManager(keys store.KeyStore, catalog permission.Catalog, hasher secrets.Hasher, auditor audit.Sink) *Manager {
	return &Manager{
		keys:    keys,
		catalog: catalog,
		hasher:  hasher,
		auditor: auditor,
	}
}

// MintPrimary mints a root primary key for an owner. Primary keys have no
// parent: the lineage triple is null/null/self. The returned MintedKey is
// the only place the plaintext secret ever appears.
func (m *Manager) MintPrimary(ctx context.Context, ownerID uuid.UUID, permissions []string, label string) (*models.MintedKey, error) {
	if err := m.catalog.ValidateSyntaxAll(permissions); err != nil {
		return nil, err
	}

	minted, err := m.newKey(models.KeyTypePrimary, ownerID, permissions, label)
	if err != nil {
		return nil, err
	}
	// A primary key is its own lineage root.
	minted.Key.InitialAuthorKeyID = minted.Key.KeyID

	if err := m.keys.Insert(ctx, minted.Key); err != nil {
		return nil, fmt.Errorf("failed to persist primary key: %w", err)
	}

	log.Info().
		Str("key_id", models.HexID(minted.Key.KeyID)).
		Str("owner_id", models.HexID(ownerID)).
		Str("label", label).
		Msg("Minted primary key")

	return minted, m.emit(ctx, OwnerActor(ownerID), audit.Event{
		Action:      "key:mint_primary",
		SubjectType: "key",
		SubjectID:   models.HexID(minted.Key.KeyID),
		Metadata:    keyMetadata(minted.Key),
	})
}

// MintChild mints a secondary or use key under an existing parent. The
// parent must be active, of an issuing-capable type, and hold keys:issue;
// the requested permissions must pass the envelope rules.
func (m *Manager) MintChild(ctx context.Context, parentKeyID uuid.UUID, permissions []string, keyType string, limits *ChildLimits, label string) (*models.MintedKey, error) {
	if keyType != models.KeyTypeSecondary && keyType != models.KeyTypeUse {
		return nil, fmt.Errorf("%w: %q (want secondary or use)", ErrInvalidKeyType, keyType)
	}

	parent, err := m.keys.Get(ctx, parentKeyID)
	if err != nil {
		return nil, err
	}

	if !parent.Active {
		return nil, &ForbiddenError{Required: "an active issuing key"}
	}
	if !parent.CanIssue() {
		return nil, &ForbiddenError{Required: "a primary or secondary issuing key"}
	}
	if !parent.HasPermission(permission.PermKeysIssue) {
		return nil, &ForbiddenError{Required: permission.PermKeysIssue}
	}

	if err := m.catalog.ValidateEnvelope(permissions, parent.Permissions, keyType); err != nil {
		return nil, err
	}

	minted, err := m.newKey(keyType, parent.OwnerID, permissions, label)
	if err != nil {
		return nil, err
	}

	// Lineage: the parent issues the child; the root is inherited.
	parentID := parent.KeyID
	minted.Key.IssuedByKeyID = &parentID
	minted.Key.ParentKeyID = &parentID
	minted.Key.InitialAuthorKeyID = parent.InitialAuthorKeyID

	if keyType == models.KeyTypeUse && limits != nil {
		minted.Key.UseCountLimit = limits.UseCountLimit
		minted.Key.DeviceLimit = limits.DeviceLimit
	}

	if err := m.keys.Insert(ctx, minted.Key); err != nil {
		return nil, fmt.Errorf("failed to persist child key: %w", err)
	}

	log.Info().
		Str("key_id", models.HexID(minted.Key.KeyID)).
		Str("parent_key_id", models.HexID(parent.KeyID)).
		Str("type", keyType).
		Msg("Minted child key")

	return minted, m.emit(ctx, KeyActor(parent.KeyID), audit.Event{
		Action:      "key:mint_child",
		SubjectType: "key",
		SubjectID:   models.HexID(minted.Key.KeyID),
		Metadata:    keyMetadata(minted.Key),
	})
}

// Rotate replaces a key with a fresh-secret successor. The replacement
// copies type, permissions, limits and the full lineage triple verbatim;
// the use counter starts at zero. The create-new plus retire-old pair is
// one atomic store operation.
func (m *Manager) Rotate(ctx context.Context, actor Actor, oldKeyID uuid.UUID) (*models.MintedKey, error) {
	old, err := m.keys.Get(ctx, oldKeyID)
	if err != nil {
		return nil, err
	}
	if old.IsRetired() {
		return nil, store.ErrKeyRetired
	}

	minted, err := m.newKey(old.Type, old.OwnerID, append([]string(nil), old.Permissions...), old.Label)
	if err != nil {
		return nil, err
	}

	// Lineage is copied verbatim; only the rotation link is new.
	minted.Key.IssuedByKeyID = copyID(old.IssuedByKeyID)
	minted.Key.ParentKeyID = copyID(old.ParentKeyID)
	minted.Key.InitialAuthorKeyID = old.InitialAuthorKeyID
	minted.Key.UseCountLimit = copyInt(old.UseCountLimit)
	minted.Key.DeviceLimit = copyInt(old.DeviceLimit)
	rotatedFrom := old.KeyID
	minted.Key.RotatedFromID = &rotatedFrom
	minted.Key.Active = old.Active

	if err := m.keys.MarkRotated(ctx, old.KeyID, minted.Key); err != nil {
		return nil, err
	}

	log.Info().
		Str("old_key_id", models.HexID(old.KeyID)).
		Str("new_key_id", models.HexID(minted.Key.KeyID)).
		Msg("Rotated key")

	return minted, m.emit(ctx, actor, audit.Event{
		Action:      "key:rotate",
		SubjectType: "key",
		SubjectID:   models.HexID(old.KeyID),
		Metadata: map[string]any{
			"replacement_key_id": models.HexID(minted.Key.KeyID),
		},
	})
}

// Deactivate sets a key inactive. With cascade, the key and every
// transitive descendant are deactivated in one bulk write; the count of
// affected keys is returned. The traversal read and the bulk write are not
// a single snapshot: a child minted concurrently may escape the cascade,
// which is an accepted trade-off since lineage changes and deactivation
// are both owner-driven.
func (m *Manager) Deactivate(ctx context.Context, actor Actor, keyID uuid.UUID, cascade bool) (int, error) {
	if _, err := m.keys.Get(ctx, keyID); err != nil {
		return 0, err
	}

	if !cascade {
		if err := m.keys.UpdateActive(ctx, keyID, false); err != nil {
			return 0, err
		}
		return 1, m.emit(ctx, actor, audit.Event{
			Action:      "key:deactivate",
			SubjectType: "key",
			SubjectID:   models.HexID(keyID),
			Metadata:    map[string]any{"cascade": false},
		})
	}

	ids, err := m.descendants(ctx, keyID)
	if err != nil {
		return 0, err
	}

	count, err := m.keys.DeactivateMany(ctx, append([]uuid.UUID{keyID}, ids...))
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate subtree: %w", err)
	}

	log.Info().
		Str("key_id", models.HexID(keyID)).
		Int("count", count).
		Msg("Deactivated key subtree")

	return count, m.emit(ctx, actor, audit.Event{
		Action:      "key:deactivate",
		SubjectType: "key",
		SubjectID:   models.HexID(keyID),
		Metadata:    map[string]any{"cascade": true, "count": count},
	})
}

// Activate sets a single key active again. There is deliberately no
// cascading variant: reactivating a subtree is a per-key decision.
func (m *Manager) Activate(ctx context.Context, actor Actor, keyID uuid.UUID) error {
	if err := m.keys.UpdateActive(ctx, keyID, true); err != nil {
		return err
	}

	return m.emit(ctx, actor, audit.Event{
		Action:      "key:activate",
		SubjectType: "key",
		SubjectID:   models.HexID(keyID),
	})
}

// descendants walks the delegation tree breadth-first and returns every
// transitive child of root. Revisiting a key or exceeding the depth cap
// means the adjacency list is not a tree.
func (m *Manager) descendants(ctx context.Context, root uuid.UUID) ([]uuid.UUID, error) {
	visited := map[uuid.UUID]struct{}{root: {}}
	var out []uuid.UUID

	frontier := []uuid.UUID{root}
	for depth := 0; len(frontier) > 0; depth++ {
		if depth >= maxLineageDepth {
			return nil, &InconsistencyError{
				Reason: fmt.Sprintf("descendants of %s exceed depth %d", models.HexID(root), maxLineageDepth),
			}
		}

		var next []uuid.UUID
		for _, id := range frontier {
			children, err := m.keys.FindByParent(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("failed to list children of %s: %w", models.HexID(id), err)
			}
			for _, child := range children {
				if _, seen := visited[child.KeyID]; seen {
					return nil, &InconsistencyError{
						Reason: fmt.Sprintf("lineage cycle at key %s", models.HexID(child.KeyID)),
					}
				}
				visited[child.KeyID] = struct{}{}
				out = append(out, child.KeyID)
				next = append(next, child.KeyID)
			}
		}
		frontier = next
	}

	return out, nil
}

// newKey assembles a fresh key with generated id, public id and secret.
// Lineage is left for the caller to fill in.
func (m *Manager) newKey(keyType string, ownerID uuid.UUID, permissions []string, label string) (*models.MintedKey, error) {
	keyID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key id: %w", err)
	}

	publicID, err := secrets.NewPublicID()
	if err != nil {
		return nil, err
	}

	secret, err := secrets.NewKeySecret()
	if err != nil {
		return nil, err
	}

	secretHash, err := m.hasher.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	now := time.Now()
	return &models.MintedKey{
		Key: &models.Key{
			KeyID:       keyID,
			PublicID:    publicID,
			Type:        keyType,
			Label:       label,
			OwnerID:     ownerID,
			Permissions: permissions,
			Active:      true,
			SecretHash:  secretHash,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Secret: secret,
	}, nil
}

// keyMetadata builds audit metadata from the persisted key record. The
// event is constructed from Key, never MintedKey, so the plaintext secret
// is stripped before the event exists.
func keyMetadata(key *models.Key) map[string]any {
	return map[string]any{
		"type":        key.Type,
		"label":       key.Label,
		"permissions": append([]string(nil), key.Permissions...),
	}
}

func (m *Manager) emit(ctx context.Context, actor Actor, event audit.Event) error {
	event.ActorType = actor.Type
	event.ActorID = models.HexID(actor.ID)
	event.CreatedAt = time.Now()

	if err := m.auditor.Emit(ctx, event); err != nil {
		var emitErr *audit.EmitError
		if errors.As(err, &emitErr) {
			return emitErr
		}
		return &audit.EmitError{Action: event.Action, Err: err}
	}
	return nil
}

func copyID(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
