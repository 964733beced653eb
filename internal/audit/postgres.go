package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresSink writes audit events to the audit_events table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a PostgreSQL-backed audit sink sharing the pool
// with the other stores.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Emit inserts a single audit event row.
func (s *PostgresSink) Emit(ctx context.Context, event Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return &EmitError{Action: event.Action, Err: fmt.Errorf("failed to marshal metadata: %w", err)}
		}
	}

	query := `
		INSERT INTO audit_events (
			actor_type, actor_id, action,
			subject_type, subject_id, severity,
			metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		event.ActorType,
		event.ActorID,
		event.Action,
		nullable(event.SubjectType),
		nullable(event.SubjectID),
		event.Severity,
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("action", event.Action).Msg("Failed to write audit event")
		return &EmitError{Action: event.Action, Err: err}
	}

	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
