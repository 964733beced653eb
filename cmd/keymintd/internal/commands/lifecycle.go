package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/keymint/internal/keys"
	"github.com/wolfeidau/keymint/internal/models"
)

type RotateCmd struct {
	databaseFlags
	Key   string `arg:"" help:"Key id to rotate (32 hex chars)"`
	Actor string `help:"Owner id performing the rotation (32 hex chars)" required:""`
}

func (c *RotateCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	keyID, err := parseID("key id", c.Key)
	if err != nil {
		return err
	}
	actorID, err := parseID("actor id", c.Actor)
	if err != nil {
		return err
	}

	minted, err := newKeyManager(pool).Rotate(ctx, keys.OwnerActor(actorID), keyID)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}

	fmt.Printf("Retired:   %s\n", c.Key)
	printMinted(minted)
	return nil
}

type ActivateCmd struct {
	databaseFlags
	Key   string `arg:"" help:"Key id to activate (32 hex chars)"`
	Actor string `help:"Owner id performing the activation (32 hex chars)" required:""`
}

func (c *ActivateCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	keyID, err := parseID("key id", c.Key)
	if err != nil {
		return err
	}
	actorID, err := parseID("actor id", c.Actor)
	if err != nil {
		return err
	}

	err = newKeyManager(pool).Activate(ctx, keys.OwnerActor(actorID), keyID)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to activate key: %w", err)
	}

	fmt.Printf("Activated %s\n", models.HexID(keyID))
	return nil
}

type DeactivateCmd struct {
	databaseFlags
	Key     string `arg:"" help:"Key id to deactivate (32 hex chars)"`
	Actor   string `help:"Owner id performing the deactivation (32 hex chars)" required:""`
	Cascade bool   `help:"Also deactivate every descendant key"`
}

func (c *DeactivateCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	keyID, err := parseID("key id", c.Key)
	if err != nil {
		return err
	}
	actorID, err := parseID("actor id", c.Actor)
	if err != nil {
		return err
	}

	count, err := newKeyManager(pool).Deactivate(ctx, keys.OwnerActor(actorID), keyID, c.Cascade)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to deactivate key: %w", err)
	}

	fmt.Printf("Deactivated %d key(s)\n", count)
	return nil
}
