package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

// TokenStore is an in-memory implementation of store.TokenStore. The mutex
// is held across the whole Rotate check-then-mark sequence, giving the
// same serialization the postgres store gets from a row lock.
type TokenStore struct {
	mu       sync.Mutex
	tokens   map[uuid.UUID]*models.RefreshToken
	byLookup map[string]uuid.UUID
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens:   make(map[uuid.UUID]*models.RefreshToken),
		byLookup: make(map[string]uuid.UUID),
	}
}

// Insert persists a freshly issued refresh token.
func (s *TokenStore) Insert(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(token)
}

func (s *TokenStore) insertLocked(token *models.RefreshToken) error {
	if _, exists := s.tokens[token.TokenID]; exists {
		return store.ErrTokenAlreadyExists
	}
	if _, exists := s.byLookup[token.LookupHash]; exists {
		return store.ErrTokenAlreadyExists
	}

	s.tokens[token.TokenID] = copyToken(token)
	s.byLookup[token.LookupHash] = token.TokenID
	return nil
}

// FindByLookupHash locates a token by its deterministic lookup digest.
func (s *TokenStore) FindByLookupHash(ctx context.Context, lookupHash string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenID, exists := s.byLookup[lookupHash]
	if !exists {
		return nil, store.ErrTokenNotFound
	}
	return copyToken(s.tokens[tokenID]), nil
}

// Rotate runs the exchange decision and the resulting writes under one
// lock acquisition.
func (s *TokenStore) Rotate(ctx context.Context, lookupHash string, exchange store.RotateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenID, exists := s.byLookup[lookupHash]
	if !exists {
		return store.ErrTokenNotFound
	}
	current := s.tokens[tokenID]

	replacement, err := exchange(copyToken(current))
	if err != nil {
		return err
	}
	if replacement == nil {
		return errors.New("rotate exchange returned no replacement")
	}

	if err := s.insertLocked(replacement); err != nil {
		return err
	}

	now := time.Now()
	replacedBy := replacement.TokenID
	current.RotatedAt = &now
	current.ReplacedByID = &replacedBy
	return nil
}

// Revoke terminates a token explicitly.
func (s *TokenStore) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, exists := s.tokens[tokenID]
	if !exists {
		return store.ErrTokenNotFound
	}
	if token.RevokedAt != nil || token.RotatedAt != nil {
		return store.ErrTokenNotFound
	}

	now := time.Now()
	token.RevokedAt = &now
	return nil
}

// RevokeAllForSubject revokes every live token issued to the subject.
func (s *TokenStore) RevokeAllForSubject(ctx context.Context, subjectType string, subjectID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, token := range s.tokens {
		if token.SubjectType != subjectType || token.SubjectID != subjectID {
			continue
		}
		if token.RevokedAt != nil || token.RotatedAt != nil {
			continue
		}
		token.RevokedAt = &now
		count++
	}
	return count, nil
}

func copyToken(token *models.RefreshToken) *models.RefreshToken {
	out := *token
	if token.RevokedAt != nil {
		t := *token.RevokedAt
		out.RevokedAt = &t
	}
	if token.RotatedAt != nil {
		t := *token.RotatedAt
		out.RotatedAt = &t
	}
	if token.ReplacedByID != nil {
		id := *token.ReplacedByID
		out.ReplacedByID = &id
	}
	return &out
}
