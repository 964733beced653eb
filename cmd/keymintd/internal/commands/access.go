package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/keymint/internal/access"
	"github.com/wolfeidau/keymint/internal/models"
)

func maskFromNames(names []string) int {
	var mask int
	for _, name := range names {
		switch name {
		case "view":
			mask |= access.MaskView
		case "comment":
			mask |= access.MaskComment
		case "manage_access":
			mask |= access.MaskManageAccess
		}
	}
	return mask
}

type GrantCmd struct {
	databaseFlags
	Requester    string   `help:"Key id performing the grant (32 hex chars)" required:""`
	Post         string   `arg:"" help:"Post id (32 hex chars)"`
	TargetType   string   `help:"Grant target type" enum:"key,group" default:"key"`
	Target       string   `arg:"" help:"Target key or group id (32 hex chars)"`
	Capabilities []string `help:"Capabilities to grant" enum:"view,comment,manage_access" required:""`
}

func (c *GrantCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	requesterID, err := parseID("requester key id", c.Requester)
	if err != nil {
		return err
	}
	postID, err := parseID("post id", c.Post)
	if err != nil {
		return err
	}
	targetID, err := parseID("target id", c.Target)
	if err != nil {
		return err
	}

	now := time.Now()
	grant := &models.PostAccessGrant{
		PostID:     postID,
		TargetType: c.TargetType,
		TargetID:   targetID,
		Mask:       maskFromNames(c.Capabilities),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = newResolver(pool).Grant(ctx, requesterID, grant)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to grant access: %w", err)
	}

	fmt.Printf("Granted %s on post %s to %s %s\n",
		access.MaskNames(grant.Mask), c.Post, c.TargetType, c.Target)
	return nil
}

type RevokeGrantCmd struct {
	databaseFlags
	Requester  string `help:"Key id performing the revocation (32 hex chars)" required:""`
	Post       string `arg:"" help:"Post id (32 hex chars)"`
	TargetType string `help:"Grant target type" enum:"key,group" default:"key"`
	Target     string `arg:"" help:"Target key or group id (32 hex chars)"`
}

func (c *RevokeGrantCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	requesterID, err := parseID("requester key id", c.Requester)
	if err != nil {
		return err
	}
	postID, err := parseID("post id", c.Post)
	if err != nil {
		return err
	}
	targetID, err := parseID("target id", c.Target)
	if err != nil {
		return err
	}

	err = newResolver(pool).Revoke(ctx, requesterID, postID, c.TargetType, targetID)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("failed to revoke access: %w", err)
	}

	fmt.Printf("Revoked access on post %s for %s %s\n", c.Post, c.TargetType, c.Target)
	return nil
}

type ResolveCmd struct {
	databaseFlags
	Post string `arg:"" help:"Post id (32 hex chars)"`
	Key  string `arg:"" help:"Key id (32 hex chars)"`
}

func (c *ResolveCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	postID, err := parseID("post id", c.Post)
	if err != nil {
		return err
	}
	keyID, err := parseID("key id", c.Key)
	if err != nil {
		return err
	}

	mask, err := newResolver(pool).ResolveForKey(ctx, postID, keyID)
	if err != nil {
		return fmt.Errorf("failed to resolve access: %w", err)
	}

	fmt.Printf("Mask: %#x (%s)\n", mask, access.MaskNames(mask))
	return nil
}
