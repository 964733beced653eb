// Package memory provides in-memory store implementations for development
// and testing. Each store is guarded by a single mutex, which also makes
// the multi-row operations (insert with public-id mapping, rotation,
// bulk deactivation, locked token rotation) atomic.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

// KeyStore is an in-memory implementation of store.KeyStore.
type KeyStore struct {
	mu        sync.RWMutex
	keys      map[uuid.UUID]*models.Key
	publicIDs map[string]uuid.UUID
	devices   map[uuid.UUID]map[string]struct{}
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys:      make(map[uuid.UUID]*models.Key),
		publicIDs: make(map[string]uuid.UUID),
		devices:   make(map[uuid.UUID]map[string]struct{}),
	}
}

// Insert persists a new key together with its public-id mapping.
func (s *KeyStore) Insert(ctx context.Context, key *models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(key)
}

func (s *KeyStore) insertLocked(key *models.Key) error {
	if _, exists := s.keys[key.KeyID]; exists {
		return store.ErrKeyAlreadyExists
	}
	if _, exists := s.publicIDs[key.PublicID]; exists {
		return store.ErrPublicIDAlreadyExists
	}

	s.keys[key.KeyID] = copyKey(key)
	s.publicIDs[key.PublicID] = key.KeyID
	return nil
}

// Get retrieves a key by its internal id.
func (s *KeyStore) Get(ctx context.Context, keyID uuid.UUID) (*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, exists := s.keys[keyID]
	if !exists {
		return nil, store.ErrKeyNotFound
	}
	return copyKey(key), nil
}

// GetByPublicID retrieves a key via the public-id mapping.
func (s *KeyStore) GetByPublicID(ctx context.Context, publicID string) (*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, exists := s.publicIDs[publicID]
	if !exists {
		return nil, store.ErrKeyNotFound
	}
	return copyKey(s.keys[keyID]), nil
}

// FindByParent returns the direct children of a key.
func (s *KeyStore) FindByParent(ctx context.Context, parentKeyID uuid.UUID) ([]*models.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var children []*models.Key
	for _, key := range s.keys {
		if key.ParentKeyID != nil && *key.ParentKeyID == parentKeyID {
			children = append(children, copyKey(key))
		}
	}
	return children, nil
}

// UpdateActive flips the active flag on a single key.
func (s *KeyStore) UpdateActive(ctx context.Context, keyID uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[keyID]
	if !exists {
		return store.ErrKeyNotFound
	}

	key.Active = active
	key.UpdatedAt = time.Now()
	return nil
}

// DeactivateMany sets active=false on every listed key in one step.
func (s *KeyStore) DeactivateMany(ctx context.Context, keyIDs []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, id := range keyIDs {
		if key, exists := s.keys[id]; exists {
			key.Active = false
			key.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

// MarkRotated inserts the replacement and retires the old key atomically.
func (s *KeyStore) MarkRotated(ctx context.Context, oldKeyID uuid.UUID, replacement *models.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.keys[oldKeyID]
	if !exists {
		return store.ErrKeyNotFound
	}
	if old.RetiredAt != nil {
		return store.ErrKeyRetired
	}

	if err := s.insertLocked(replacement); err != nil {
		return err
	}

	now := time.Now()
	replacedBy := replacement.KeyID
	old.RotatedToID = &replacedBy
	old.RetiredAt = &now
	old.Active = false
	old.UpdatedAt = now
	return nil
}

// IncrementUseCount increments the key's use counter and returns the new
// value.
func (s *KeyStore) IncrementUseCount(ctx context.Context, keyID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, exists := s.keys[keyID]
	if !exists {
		return 0, store.ErrKeyNotFound
	}

	key.UseCountCurrent++
	key.UpdatedAt = time.Now()
	return key.UseCountCurrent, nil
}

// RegisterDevice records a device fingerprint and returns the number of
// distinct devices seen for the key.
func (s *KeyStore) RegisterDevice(ctx context.Context, keyID uuid.UUID, fingerprint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[keyID]; !exists {
		return 0, store.ErrKeyNotFound
	}

	seen, ok := s.devices[keyID]
	if !ok {
		seen = make(map[string]struct{})
		s.devices[keyID] = seen
	}
	seen[fingerprint] = struct{}{}
	return len(seen), nil
}

// copyKey returns a deep copy so callers cannot mutate stored state.
func copyKey(key *models.Key) *models.Key {
	out := *key
	out.Permissions = append([]string(nil), key.Permissions...)
	out.UseCountLimit = copyIntPtr(key.UseCountLimit)
	out.DeviceLimit = copyIntPtr(key.DeviceLimit)
	out.IssuedByKeyID = copyIDPtr(key.IssuedByKeyID)
	out.ParentKeyID = copyIDPtr(key.ParentKeyID)
	out.RotatedFromID = copyIDPtr(key.RotatedFromID)
	out.RotatedToID = copyIDPtr(key.RotatedToID)
	out.RetiredAt = copyTimePtr(key.RetiredAt)
	return &out
}

func copyIntPtr(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyIDPtr(v *uuid.UUID) *uuid.UUID {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
