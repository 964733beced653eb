package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

const tokenColumns = `
	token_id, subject_type, subject_id, token_hash, lookup_hash,
	issued_at, expires_at, revoked_at, rotated_at, replaced_by_id
`

// TokenStore implements store.TokenStore using PostgreSQL. Rotation locks
// the current row with SELECT FOR UPDATE, so the check-then-mark sequence
// in the exchange callback is serialized per token.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a new PostgreSQL-backed refresh token store.
// It shares the connection pool with other stores.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{
		pool: pool,
	}
}

// Insert persists a freshly issued refresh token.
func (s *TokenStore) Insert(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (
			token_id, subject_type, subject_id, token_hash, lookup_hash,
			issued_at, expires_at, revoked_at, rotated_at, replaced_by_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		token.TokenID,
		token.SubjectType,
		token.SubjectID,
		token.TokenHash,
		token.LookupHash,
		token.IssuedAt,
		token.ExpiresAt,
		token.RevokedAt,
		token.RotatedAt,
		token.ReplacedByID,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	return nil
}

// FindByLookupHash locates a token by its deterministic lookup digest,
// without locking.
func (s *TokenStore) FindByLookupHash(ctx context.Context, lookupHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE lookup_hash = $1`

	token, err := scanToken(s.pool.QueryRow(ctx, query, lookupHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	return token, nil
}

// Rotate locks the row for lookupHash, invokes exchange with the current
// token, then persists the replacement and marks the old row rotated in
// the same transaction. If exchange returns an error the transaction is
// rolled back and nothing is written.
func (s *TokenStore) Rotate(ctx context.Context, lookupHash string, exchange store.RotateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE lookup_hash = $1 FOR UPDATE`

	current, err := scanToken(tx.QueryRow(ctx, query, lookupHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTokenNotFound
		}
		return fmt.Errorf("failed to lock token: %w", err)
	}

	replacement, err := exchange(current)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (
			token_id, subject_type, subject_id, token_hash, lookup_hash,
			issued_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		replacement.TokenID,
		replacement.SubjectType,
		replacement.SubjectID,
		replacement.TokenHash,
		replacement.LookupHash,
		replacement.IssuedAt,
		replacement.ExpiresAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET rotated_at = $2, replaced_by_id = $3
		WHERE token_id = $1
	`, current.TokenID, replacement.IssuedAt, replacement.TokenID)
	if err != nil {
		return mapPostgresError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}

	log.Debug().
		Str("old_token_id", current.TokenID.String()).
		Str("new_token_id", replacement.TokenID.String()).
		Msg("Rotated refresh token")

	return nil
}

// Revoke terminates a token explicitly. Revoking an already terminated
// token is an error.
func (s *TokenStore) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE token_id = $1 AND revoked_at IS NULL AND rotated_at IS NULL
	`, tokenID)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTokenNotFound
	}

	return nil
}

// RevokeAllForSubject revokes every live token issued to the subject and
// returns the count affected.
func (s *TokenStore) RevokeAllForSubject(ctx context.Context, subjectType string, subjectID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE subject_type = $1 AND subject_id = $2
		  AND revoked_at IS NULL AND rotated_at IS NULL
	`, subjectType, subjectID)
	if err != nil {
		return 0, mapPostgresError(err)
	}

	return int(tag.RowsAffected()), nil
}

func scanToken(row pgx.Row) (*models.RefreshToken, error) {
	var token models.RefreshToken
	err := row.Scan(
		&token.TokenID,
		&token.SubjectType,
		&token.SubjectID,
		&token.TokenHash,
		&token.LookupHash,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.RevokedAt,
		&token.RotatedAt,
		&token.ReplacedByID,
	)
	if err != nil {
		return nil, err
	}
	return &token, nil
}
