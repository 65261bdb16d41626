package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"messagebridge/internal/app"
	"messagebridge/internal/config"
	"messagebridge/internal/observability"
)

const observabilityShutdownTimeout = 3 * time.Second

// Execute runs the root command with the given context, arguments, and
// build metadata.
func Execute(ctx context.Context, args []string, version, commit string) error {
	cmd := &cli.Command{
		Name:    "messagebridge",
		Usage:   "Local reverse proxy between Claude Code and an Anthropic-compatible or OpenAI-compatible backend",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			startCommand(commit),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Starts the proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: "json",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a JSON configuration file",
				Value: "",
			},
			&cli.StringFlag{
				Name:  "bind",
				Usage: "override the configured bind address (host:port)",
				Value: "",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return startAction(ctx, cmd, commit)
		},
	}
}

func startAction(ctx context.Context, cmd *cli.Command, commit string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// Set up observability before creating app.
	if err := observability.Instrument(level, cmd.String("log-format")); err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), observabilityShutdownTimeout)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "failed to flush observability pipeline", "error", err)
		}
	}()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bind := cfg.Bind
	if override := cmd.String("bind"); override != "" {
		bind = override
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "commit", commit, "mode", cfg.Mode)

	if err := application.Start(ctx, bind); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
