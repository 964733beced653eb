package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/keymint/internal/store/postgres"
)

type MigrateCmd struct {
	databaseFlags
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	fmt.Println("Migrations applied")
	return nil
}
