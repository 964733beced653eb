package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/keymint/internal/models"
)

// Errors
var (
	ErrTokenNotFound      = errors.New("refresh token not found")
	ErrTokenAlreadyExists = errors.New("refresh token already exists")
)

// RotateFunc decides the outcome of a refresh-token rotation while the
// current row is locked. It receives the stored token and either returns
// the replacement token to persist, or an error to abort the rotation.
// The store guarantees the decision and the resulting writes happen under
// the same lock, so two concurrent rotations of one token serialize and
// the loser observes the winner's rotated_at.
type RotateFunc func(current *models.RefreshToken) (*models.RefreshToken, error)

// TokenStore manages refresh-token rows. Tokens are never deleted; they
// are terminated by rotation or revocation and retained for replay audit.
type TokenStore interface {
	// Insert persists a freshly issued refresh token.
	Insert(ctx context.Context, token *models.RefreshToken) error

	// FindByLookupHash locates a token by its deterministic lookup
	// digest, without locking. Fails with ErrTokenNotFound.
	FindByLookupHash(ctx context.Context, lookupHash string) (*models.RefreshToken, error)

	// Rotate locks the row for lookupHash and invokes exchange with the
	// current token. If exchange returns a replacement, the replacement
	// is inserted and the old row marked rotated (rotated_at,
	// replaced_by_id) in the same transaction. If exchange returns an
	// error, nothing is written. Fails with ErrTokenNotFound when no row
	// matches the lookup hash.
	Rotate(ctx context.Context, lookupHash string, exchange RotateFunc) error

	// Revoke terminates a token explicitly. Revoking an already
	// terminated token is an error.
	Revoke(ctx context.Context, tokenID uuid.UUID) error

	// RevokeAllForSubject revokes every live token issued to the subject
	// and returns the count affected.
	RevokeAllForSubject(ctx context.Context, subjectType string, subjectID uuid.UUID) (int, error)
}
