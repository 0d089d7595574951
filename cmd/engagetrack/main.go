package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/wolfeidau/engagetrack/cmd/engagetrack/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Config  kong.ConfigFlag     `help:"Load configuration from a YAML file." type:"path"`
		Debug   bool                `help:"Enable debug mode."`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" help:"Run the coordinator"`
		Send    commands.SendCmd    `cmd:"" help:"Send one message to a running coordinator"`
		History commands.HistoryCmd `cmd:"" help:"List recent sessions from the postgres journal"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.Configuration(commands.YAMLLoader, "/etc/engagetrack/config.yaml", "~/.engagetrack/config.yaml"),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
