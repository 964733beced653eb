package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/keymint/cmd/keymintd/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Migrate     commands.MigrateCmd     `cmd:"" help:"Run database migrations"`
		MintPrimary commands.MintPrimaryCmd `cmd:"" name:"mint-primary" help:"Mint a primary key for an owner"`
		MintChild   commands.MintChildCmd   `cmd:"" name:"mint-child" help:"Mint a child key under a parent"`
		Rotate      commands.RotateCmd      `cmd:"" help:"Rotate a key, retiring the old record"`
		Activate    commands.ActivateCmd    `cmd:"" help:"Reactivate a key"`
		Deactivate  commands.DeactivateCmd  `cmd:"" help:"Deactivate a key, optionally with its descendants"`
		Grant       commands.GrantCmd       `cmd:"" help:"Grant post access to a key or group"`
		RevokeGrant commands.RevokeGrantCmd `cmd:"" name:"revoke-grant" help:"Revoke a post access grant"`
		Resolve     commands.ResolveCmd     `cmd:"" help:"Resolve a key's access mask for a post"`
		Exchange    commands.ExchangeCmd    `cmd:"" help:"Exchange key credentials for a token pair"`
		Refresh     commands.RefreshCmd     `cmd:"" help:"Rotate a refresh token"`
		RevokeToken commands.RevokeTokenCmd `cmd:"" name:"revoke-token" help:"Revoke a refresh token"`
		Debug       bool                    `help:"Enable debug mode."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
