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

// PostAccessStore implements store.PostAccessStore using PostgreSQL.
type PostAccessStore struct {
	pool *pgxpool.Pool
}

// NewPostAccessStore creates a new PostgreSQL-backed post access store.
// It shares the connection pool with other stores.
func NewPostAccessStore(pool *pgxpool.Pool) *PostAccessStore {
	return &PostAccessStore{
		pool: pool,
	}
}

// Upsert creates or replaces the grant for the grant's
// (post, target type, target id) tuple. Re-granting overwrites the mask.
func (s *PostAccessStore) Upsert(ctx context.Context, grant *models.PostAccessGrant) error {
	query := `
		INSERT INTO post_access_grants (
			post_id, target_type, target_id, mask, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (post_id, target_type, target_id)
		DO UPDATE SET mask = EXCLUDED.mask, updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		grant.PostID,
		grant.TargetType,
		grant.TargetID,
		grant.Mask,
		grant.CreatedAt,
		grant.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	log.Debug().
		Str("post_id", grant.PostID.String()).
		Str("target_type", grant.TargetType).
		Int("mask", grant.Mask).
		Msg("Upserted post access grant")

	return nil
}

// Delete removes a grant.
func (s *PostAccessStore) Delete(ctx context.Context, postID uuid.UUID, targetType string, targetID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM post_access_grants
		WHERE post_id = $1 AND target_type = $2 AND target_id = $3
	`, postID, targetType, targetID)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrGrantNotFound
	}

	return nil
}

// FindDirect returns the grant targeting the key directly.
func (s *PostAccessStore) FindDirect(ctx context.Context, postID, keyID uuid.UUID) (*models.PostAccessGrant, error) {
	query := `
		SELECT post_id, target_type, target_id, mask, created_at, updated_at
		FROM post_access_grants
		WHERE post_id = $1 AND target_type = $2 AND target_id = $3
	`

	grant, err := scanGrant(s.pool.QueryRow(ctx, query, postID, models.GrantTargetKey, keyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return grant, nil
}

// FindForGroups returns the grants on the post targeting any of the given
// groups.
func (s *PostAccessStore) FindForGroups(ctx context.Context, postID uuid.UUID, groupIDs []uuid.UUID) ([]*models.PostAccessGrant, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT post_id, target_type, target_id, mask, created_at, updated_at
		FROM post_access_grants
		WHERE post_id = $1 AND target_type = $2 AND target_id = ANY($3)
	`

	rows, err := s.pool.Query(ctx, query, postID, models.GrantTargetGroup, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query group grants: %w", err)
	}
	defer rows.Close()

	var grants []*models.PostAccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}

	return grants, nil
}

func scanGrant(row pgx.Row) (*models.PostAccessGrant, error) {
	var grant models.PostAccessGrant
	err := row.Scan(
		&grant.PostID,
		&grant.TargetType,
		&grant.TargetID,
		&grant.Mask,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// GroupMembershipStore implements store.GroupMembershipStore using PostgreSQL.
type GroupMembershipStore struct {
	pool *pgxpool.Pool
}

// NewGroupMembershipStore creates a new PostgreSQL-backed group membership store.
func NewGroupMembershipStore(pool *pgxpool.Pool) *GroupMembershipStore {
	return &GroupMembershipStore{
		pool: pool,
	}
}

// AddMember adds a key to a group. Adding an existing member is idempotent.
func (s *GroupMembershipStore) AddMember(ctx context.Context, groupID, keyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_memberships (group_id, key_id)
		VALUES ($1, $2)
		ON CONFLICT (group_id, key_id) DO NOTHING
	`, groupID, keyID)
	if err != nil {
		return mapPostgresError(err)
	}

	return nil
}

// RemoveMember removes a key from a group.
func (s *GroupMembershipStore) RemoveMember(ctx context.Context, groupID, keyID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM group_memberships WHERE group_id = $1 AND key_id = $2
	`, groupID, keyID)
	if err != nil {
		return mapPostgresError(err)
	}

	return nil
}

// FindGroupsForKey returns the ids of all groups the key belongs to.
func (s *GroupMembershipStore) FindGroupsForKey(ctx context.Context, keyID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_id FROM group_memberships WHERE key_id = $1`,
		keyID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var groupIDs []uuid.UUID
	for rows.Next() {
		var groupID uuid.UUID
		if err := rows.Scan(&groupID); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		groupIDs = append(groupIDs, groupID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return groupIDs, nil
}
