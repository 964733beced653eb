package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/keymint/internal/tokens"
)

type ExchangeCmd struct {
	databaseFlags
	signingFlags
	PublicID  string `arg:"" help:"Key public id (apub_ prefixed)"`
	Secret    string `arg:"" help:"Key secret (ak_ prefixed)"`
	IP        string `help:"Client IP for device fingerprinting" default:""`
	UserAgent string `help:"Client user agent for device fingerprinting" default:""`
}

func (c *ExchangeCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	engine, err := c.newEngine(pool)
	if err != nil {
		return err
	}

	pair, err := engine.Exchange(ctx, c.PublicID, c.Secret, tokens.ClientInfo{
		IP:        c.IP,
		UserAgent: c.UserAgent,
	})
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("exchange failed: %w", err)
	}

	printPair(pair)
	return nil
}

type RefreshCmd struct {
	databaseFlags
	signingFlags
	Token     string `arg:"" help:"Refresh token (art_ prefixed)"`
	IP        string `help:"Client IP for device fingerprinting" default:""`
	UserAgent string `help:"Client user agent for device fingerprinting" default:""`
}

func (c *RefreshCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	engine, err := c.newEngine(pool)
	if err != nil {
		return err
	}

	pair, err := engine.Rotate(ctx, c.Token, tokens.ClientInfo{
		IP:        c.IP,
		UserAgent: c.UserAgent,
	})
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	printPair(pair)
	return nil
}

type RevokeTokenCmd struct {
	databaseFlags
	signingFlags
	Token string `arg:"" help:"Refresh token (art_ prefixed)"`
}

func (c *RevokeTokenCmd) Run(ctx context.Context, globals *Globals) error {
	pool, err := c.connect(ctx, globals)
	if err != nil {
		return err
	}
	defer pool.Close()

	engine, err := c.newEngine(pool)
	if err != nil {
		return err
	}

	err = engine.Revoke(ctx, c.Token)
	if err = degradedAudit(err); err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}

	fmt.Println("Token revoked")
	return nil
}

func printPair(pair *tokens.TokenPair) {
	fmt.Printf("Access token:   %s\n", pair.AccessToken)
	fmt.Printf("  expires at:   %s\n", pair.AccessExpiresAt.Format(time.RFC3339))
	fmt.Printf("Refresh token:  %s\n", pair.RefreshToken)
	fmt.Printf("  expires at:   %s\n", pair.RefreshExpiresAt.Format(time.RFC3339))
}
