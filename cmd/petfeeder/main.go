// Gray Logic pet feeder bridge.
//
// This is the entry point for the pet feeder bridge. It keeps a cached,
// rate-limited session with the PetLibro cloud and exposes the account's
// feeders to Gray Logic over MQTT and a small HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	_ "github.com/nerrad567/gray-logic-petfeeder/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the command tree. Running without a subcommand runs the
// bridge.
func newApp() *cli.Command {
	var configPath string

	app := &cli.Command{
		Name:      "petfeeder",
		Usage:     "Bridge PetLibro feeders into Gray Logic",
		UsageText: "petfeeder [global options] [command [command options]]",
		Version:   fmt.Sprintf("%s (%s) %s", version, commit, date),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("PETFEEDER_CONFIG"),
				Value:       defaultConfigPath,
				Destination: &configPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() > 0 {
				return fmt.Errorf("unknown command %q. Run 'petfeeder --help' for usage", c.Args().First())
			}
			return run(ctx, configPath)
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "run",
			Usage: "Run the bridge until interrupted",
			Action: func(ctx context.Context, _ *cli.Command) error {
				return run(ctx, configPath)
			},
		},
		{
			Name:        "check",
			Usage:       "Log in and list the account's feeders",
			Description: "Verifies credentials and connectivity without starting the bridge.",
			Action: func(ctx context.Context, c *cli.Command) error {
				return check(ctx, configPath, c.Root().Writer)
			},
		},
		{
			Name:  "devices",
			Usage: "List the account's feeders",
			Action: func(ctx context.Context, c *cli.Command) error {
				return listDevices(ctx, configPath, c.Root().Writer)
			},
		},
		{
			Name:      "snapshot",
			Usage:     "Print the real-time state of a feeder",
			ArgsUsage: "[device-id]",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "force",
					Usage: "bypass the cache",
				},
			},
			Action: func(ctx context.Context, c *cli.Command) error {
				return snapshot(ctx, configPath, c.Args().First(), c.Bool("force"), c.Root().Writer)
			},
		},
	}

	return app
}
