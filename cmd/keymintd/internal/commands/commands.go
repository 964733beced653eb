// Package commands implements the keymintd administrative CLI. Every
// command talks straight to PostgreSQL through the shared stores; there
// is no intermediate API server.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keymint/internal/access"
	"github.com/wolfeidau/keymint/internal/audit"
	"github.com/wolfeidau/keymint/internal/keys"
	"github.com/wolfeidau/keymint/internal/logger"
	"github.com/wolfeidau/keymint/internal/models"
	"github.com/wolfeidau/keymint/internal/permission"
	"github.com/wolfeidau/keymint/internal/secrets"
	"github.com/wolfeidau/keymint/internal/store/postgres"
	"github.com/wolfeidau/keymint/internal/tokens"
)

type Globals struct {
	Debug   bool
	Version string
}

// databaseFlags is embedded in every command that needs a database
// connection.
type databaseFlags struct {
	Database string `help:"PostgreSQL connection string." env:"KEYMINT_DATABASE_URL" required:""`
}

// connect builds the shared connection pool, retrying transient failures
// with exponential backoff so the CLI survives a database that is still
// starting up.
func (d *databaseFlags) connect(ctx context.Context, globals *Globals) (*pgxpool.Pool, error) {
	log.Logger = logger.Setup(globals.Debug)

	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		return postgres.NewPool(ctx, &postgres.PoolConfig{ConnString: d.Database})
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}

func newKeyManager(pool *pgxpool.Pool) *keys.Manager {
	return keys.NewManager(
		postgres.NewKeyStore(pool),
		permission.DefaultCatalog(),
		secrets.NewArgon2Hasher(),
		audit.NewPostgresSink(pool),
	)
}

func newResolver(pool *pgxpool.Pool) *access.Resolver {
	return access.NewResolver(
		postgres.NewPostAccessStore(pool),
		postgres.NewGroupMembershipStore(pool),
		audit.NewPostgresSink(pool),
	)
}

// signingFlags is embedded in the commands that issue or verify tokens.
type signingFlags struct {
	SigningSecret string `help:"HMAC secret for access tokens, at least 32 bytes." env:"KEYMINT_SIGNING_SECRET" required:""`
}

func (s *signingFlags) newEngine(pool *pgxpool.Pool) (*tokens.Engine, error) {
	return tokens.NewEngine(
		postgres.NewTokenStore(pool),
		postgres.NewKeyStore(pool),
		secrets.NewArgon2Hasher(),
		audit.NewPostgresSink(pool),
		tokens.Config{SigningSecret: []byte(s.SigningSecret)},
	)
}

// degradedAudit downgrades an audit emission failure to a warning. The
// underlying operation already committed, so the CLI reports success.
func degradedAudit(err error) error {
	var emitErr *audit.EmitError
	if errors.As(err, &emitErr) {
		log.Warn().Err(emitErr).Msg("Operation succeeded but the audit event was not recorded")
		return nil
	}
	return err
}

func parseID(name, value string) (uuid.UUID, error) {
	parsed, err := models.ParseHexID(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed, nil
}
