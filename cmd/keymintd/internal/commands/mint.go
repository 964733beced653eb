package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/keymint/internal/keys"
	"github.com/wolfeidau/keymint/internal/models"
)

type MintPrimaryCmd struct {
	databaseFlags
	Owner       string   `arg:"" help:"Owner id (32 hex chars)"`
	Permissions []string `help:"Permission strings for the key" required:""`
	Label       string   `help:"Display label" default:""`
}

func (c *MintPrimaryCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	ownerID, err := parseID("owner id", c.Owner)
	if err != nil {
		return err
	}

	minted, err := newKeyManager(pool).MintPrimary(ctx, ownerID, c.Permissions, c.Label)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to mint primary key: %w", err)
	}

	printMinted(minted)
	return nil
}

type MintChildCmd struct {
	databaseFlags
	Parent      string   `arg:"" help:"Parent key id (32 hex chars)"`
	Type        string   `help:"Key type: secondary or use" enum:"secondary,use" default:"use"`
	Permissions []string `help:"Permission strings for the key" required:""`
	Label       string   `help:"Display label" default:""`
	UseLimit    int      `help:"Maximum number of credential exchanges, 0 for unlimited" default:"0"`
	DeviceLimit int      `help:"Maximum number of distinct devices, 0 for unlimited" default:"0"`
}

func (c *MintChildCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	parentID, err := parseID("parent key id", c.Parent)
	if err != nil {
		return err
	}

	var limits *keys.ChildLimits
	if c.UseLimit > 0 || c.DeviceLimit > 0 {
		limits = &keys.ChildLimits{}
		if c.UseLimit > 0 {
			limits.UseCountLimit = &c.UseLimit
		}
		if c.DeviceLimit > 0 {
			limits.DeviceLimit = &c.DeviceLimit
		}
	}

	minted, err := newKeyManager(pool).MintChild(ctx, parentID, c.Permissions, c.Type, limits, c.Label)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to mint child key: %w", err)
	}

	printMinted(minted)
	return nil
}

// printMinted is the only place the plaintext secret is ever rendered.
func printMinted(minted *models.MintedKey) {
	fmt.Printf("Key ID:    %s\n", models.HexID(minted.Key.KeyID))
	fmt.Printf("Public ID: %s\n", minted.Key.PublicID)
	fmt.Printf("Type:      %s\n", minted.Key.Type)
	fmt.Printf("Secret:    %s\n", minted.Secret)
	fmt.Println("Store the secret now; it cannot be recovered later.")
}
