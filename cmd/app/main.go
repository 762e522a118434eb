package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/quill/internal"
	pkgconfig "github.com/starford/quill/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if dir := cmd.String("notes"); dir != "" {
		cfg.Notes.Path = dir
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}
	if !cmd.Bool("no-reload") {
		opts = append(opts, internal.WithConfigFile(cmd.String("config")))
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func list(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunList(ctx, internal.WithConfig(cfg), internal.WithOutput(os.Stdout))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func main() {
	cmd := &cli.Command{
		Name:    "quill",
		Usage:   "Live index of a Markdown notes directory with search, backlinks and an MCP server",
		Version: version,
		Description: heredoc.Doc(`
			quill loads every note under the notes directory into memory, then
			watches the directory and reconciles changes after a short quiet
			period. The index is mirrored into SQLite for search and backlinks.

			Settings come from a YAML (or .toml) config file; values may reference
			environment variables as ${NAME}. A .env file in the working
			directory is loaded first.
		`),
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "notes",
				Aliases: []string{"n"},
				Usage:   "Notes directory (overrides notes.path)",
				Sources: cli.EnvVars("QUILL_NOTES_DIR"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and keep the index in sync with the notes directory",
				Action: serve,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-reload",
						Usage: "Do not watch the config file for changes",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "Load the notes directory once and print every indexed path",
				Action: list,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
