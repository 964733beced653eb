package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/store"
)

const keyColumns = `
	key_id, public_id, key_type, label, owner_id, permissions, active,
	secret_hash, use_count_limit, use_count_current, device_limit,
	issued_by_key_id, parent_key_id, initial_author_key_id,
	rotated_from_id, rotated_to_id, retired_at, created_at, updated_at
`

// KeyStore implements store.KeyStore using PostgreSQL.
type KeyStore struct {
	pool *pgxpool.Pool
}

// NewKeyStore creates a new PostgreSQL-backed key store.
// It shares the connection pool with other stores.
func NewKeyStore(pool *pgxpool.Pool) *KeyStore {
	return &KeyStore{
		pool: pool,
	}
}

// Insert persists a new key together with its public-id mapping. Both rows
// land in one transaction, so a key is never observable without its mapping.
func (s *KeyStore) Insert(ctx context.Context, key *models.Key) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if err := insertKeyTx(ctx, tx, key); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit key insert: %w", err)
	}

	log.Debug().
		Str("key_id", key.KeyID.String()).
		Str("key_type", key.Type).
		Msg("Created key")

	return nil
}

func insertKeyTx(ctx context.Context, tx pgx.Tx, key *models.Key) error {
	query := `
		INSERT INTO keys (
			key_id, public_id, key_type, label, owner_id, permissions, active,
			secret_hash, use_count_limit, use_count_current, device_limit,
			issued_by_key_id, parent_key_id, initial_author_key_id,
			rotated_from_id, rotated_to_id, retired_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)
	`

	_, err := tx.Exec(ctx, query,
		key.KeyID,
		key.PublicID,
		key.Type,
		key.Label,
		key.OwnerID,
		key.Permissions,
		key.Active,
		key.SecretHash,
		key.UseCountLimit,
		key.UseCountCurrent,
		key.DeviceLimit,
		key.IssuedByKeyID,
		key.ParentKeyID,
		key.InitialAuthorKeyID,
		key.RotatedFromID,
		key.RotatedToID,
		key.RetiredAt,
		key.CreatedAt,
		key.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO key_public_ids (public_id, key_id) VALUES ($1, $2)`,
		key.PublicID, key.KeyID,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	return nil
}

// Get retrieves a key by its internal id.
func (s *KeyStore) Get(ctx context.Context, keyID uuid.UUID) (*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE key_id = $1`

	key, err := scanKey(s.pool.QueryRow(ctx, query, keyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	return key, nil
}

// GetByPublicID retrieves a key via the public-id mapping.
func (s *KeyStore) GetByPublicID(ctx context.Context, publicID string) (*models.Key, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM keys
		WHERE key_id = (SELECT key_id FROM key_public_ids WHERE public_id = $1)
	`

	key, err := scanKey(s.pool.QueryRow(ctx, query, publicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key by public id: %w", err)
	}

	return key, nil
}

// FindByParent returns the direct children of a key, oldest first.
func (s *KeyStore) FindByParent(ctx context.Context, parentKeyID uuid.UUID) ([]*models.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM keys WHERE parent_key_id = $1 ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, parentKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var keys []*models.Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate children: %w", err)
	}

	return keys, nil
}

// UpdateActive flips the active flag on a single key.
func (s *KeyStore) UpdateActive(ctx context.Context, keyID uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE keys SET active = $2, updated_at = now() WHERE key_id = $1`,
		keyID, active,
	)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrKeyNotFound
	}

	return nil
}

// DeactivateMany sets active=false on every listed key in one statement
// and returns the number of rows affected.
func (s *KeyStore) DeactivateMany(ctx context.Context, keyIDs []uuid.UUID) (int, error) {
	if len(keyIDs) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE keys SET active = FALSE, updated_at = now() WHERE key_id = ANY($1)`,
		keyIDs,
	)
	if err != nil {
		return 0, mapPostgresError(err)
	}

	return int(tag.RowsAffected()), nil
}

// MarkRotated atomically inserts the replacement key and retires the old
// key. The old row is locked first so two rotations of the same key
// serialize; the loser observes retired_at and fails with ErrKeyRetired.
func (s *KeyStore) MarkRotated(ctx context.Context, oldKeyID uuid.UUID, replacement *models.Key) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var retiredAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT retired_at FROM keys WHERE key_id = $1 FOR UPDATE`,
		oldKeyID,
	).Scan(&retiredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrKeyNotFound
		}
		return fmt.Errorf("failed to lock key for rotation: %w", err)
	}
	if retiredAt != nil {
		return store.ErrKeyRetired
	}

	if err := insertKeyTx(ctx, tx, replacement); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE keys
		SET rotated_to_id = $2, retired_at = $3, active = FALSE, updated_at = now()
		WHERE key_id = $1
	`, oldKeyID, replacement.KeyID, replacement.CreatedAt)
	if err != nil {
		return mapPostgresError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rotation: %w", err)
	}

	log.Debug().
		Str("old_key_id", oldKeyID.String()).
		Str("new_key_id", replacement.KeyID.String()).
		Msg("Rotated key")

	return nil
}

// IncrementUseCount atomically increments the key's use counter and
// returns the new value.
func (s *KeyStore) IncrementUseCount(ctx context.Context, keyID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE keys
		SET use_count_current = use_count_current + 1, updated_at = now()
		WHERE key_id = $1
		RETURNING use_count_current
	`, keyID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrKeyNotFound
		}
		return 0, fmt.Errorf("failed to increment use count: %w", err)
	}

	return count, nil
}

// RegisterDevice records a device fingerprint for the key and returns the
// number of distinct devices seen. Re-registering an existing fingerprint
// is idempotent.
func (s *KeyStore) RegisterDevice(ctx context.Context, keyID uuid.UUID, fingerprint string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO key_devices (key_id, fingerprint)
		VALUES ($1, $2)
		ON CONFLICT (key_id, fingerprint) DO NOTHING
	`, keyID, fingerprint)
	if err != nil {
		return 0, mapPostgresError(err)
	}

	var count int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM key_devices WHERE key_id = $1`,
		keyID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit device registration: %w", err)
	}

	return count, nil
}

func scanKey(row pgx.Row) (*models.Key, error) {
	var key models.Key
	err := row.Scan(
		&key.KeyID,
		&key.PublicID,
		&key.Type,
		&key.Label,
		&key.OwnerID,
		&key.Permissions,
		&key.Active,
		&key.SecretHash,
		&key.UseCountLimit,
		&key.UseCountCurrent,
		&key.DeviceLimit,
		&key.IssuedByKeyID,
		&key.ParentKeyID,
		&key.InitialAuthorKeyID,
		&key.RotatedFromID,
		&key.RotatedToID,
		&key.RetiredAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
