package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/keymint/internal/models"
)

// Errors
var (
	ErrKeyNotFound           = errors.New("key not found")
	ErrKeyAlreadyExists      = errors.New("key already exists")
	ErrPublicIDAlreadyExists = errors.New("public id already exists")
	ErrKeyRetired            = errors.New("key already retired")
)

// KeyStore manages key records and their public-id mappings. Implementations
// must make Insert and MarkRotated atomic: a key is never observable without
// its public-id mapping, and an old key is never observable as retired
// without its replacement existing (and vice versa).
type KeyStore interface {
	// Insert persists a new key together with its public-id mapping.
	Insert(ctx context.Context, key *models.Key) error

	// Get retrieves a key by its internal id.
	Get(ctx context.Context, keyID uuid.UUID) (*models.Key, error)

	// GetByPublicID retrieves a key via the public-id mapping. Used only
	// on the credential-exchange path.
	GetByPublicID(ctx context.Context, publicID string) (*models.Key, error)

	// FindByParent returns the direct children of a key.
	FindByParent(ctx context.Context, parentKeyID uuid.UUID) ([]*models.Key, error)

	// UpdateActive flips the active flag on a single key.
	UpdateActive(ctx context.Context, keyID uuid.UUID, active bool) error

	// DeactivateMany sets active=false on every listed key in one atomic
	// write and returns the number of rows affected.
	DeactivateMany(ctx context.Context, keyIDs []uuid.UUID) (int, error)

	// MarkRotated atomically inserts the replacement key (with its
	// public-id mapping) and retires the old key: rotated_to, retired_at
	// and active=false are set in the same transaction. Fails with
	// ErrKeyRetired if the old key was already rotated.
	MarkRotated(ctx context.Context, oldKeyID uuid.UUID, replacement *models.Key) error

	// IncrementUseCount atomically increments the key's use counter and
	// returns the new value.
	IncrementUseCount(ctx context.Context, keyID uuid.UUID) (int, error)

	// RegisterDevice records a device fingerprint for the key and returns
	// the number of distinct devices seen. Registering a known
	// fingerprint is idempotent.
	RegisterDevice(ctx context.Context, keyID uuid.UUID, fingerprint string) (int, error)
}
