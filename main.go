package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raainshe/qbitdash/cmd"
	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &cmd.App{}
	rootCmd := createRootCommand(ctx, app)

	err := rootCmd.Execute()
	cleanup(app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Command failed: %v\n", err)
		os.Exit(1)
	}
}

// createRootCommand creates the main Cobra root command
func createRootCommand(ctx context.Context, app *cmd.App) *cobra.Command {
	var rosterFile string
	var logLevel string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "qbitdash",
		Short: "📡 qbitdash - live dashboard for many qBittorrent instances",
		Long: `📡 qbitdash - live dashboard for many qBittorrent instances

qbitdash polls every qBittorrent WebUI in its roster, folds the incremental
sync responses into per-instance snapshots and streams them to browsers over
WebSocket, together with all-time traffic totals read from each instance's
config directory.

Examples:
  qbitdash serve              # Run the dashboard server
  qbitdash probe              # Check every instance once
  qbitdash stats ~/.config/qBittorrent
  qbitdash instances --json`,
		Version:       fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if c.Name() == "version" {
				return nil
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if rosterFile != "" {
				cfg.Roster.File = rosterFile
			}

			// serve keeps the configured level, one-shot commands stay quiet
			if verbose {
				cfg.Logging.Level = "debug"
			} else if logLevel == "" && c.Name() != "serve" {
				cfg.Logging.Level = "warn"
			}

			if _, err := logging.Initialize(&cfg.Logging); err != nil {
				return fmt.Errorf("failed to initialize logging: %w", err)
			}
			if !verbose && logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return err
				}
			}
			logging.LogCommand(c.CommandPath(), args)

			services, err := cmd.NewServices(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}

			app.Config = cfg
			app.Services = services
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&rosterFile, "roster", "r", "", "roster file path (default from ROSTER_FILE)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error) - default: warn, serve uses LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (shows all logs)")

	rootCmd.AddCommand(
		cmd.NewServeCommand(ctx, app),
		cmd.NewStatusCommand(app),
		cmd.NewStopCommand(app),
		cmd.NewProbeCommand(ctx, app),
		cmd.NewStatsCommand(app),
		cmd.NewInstancesCommand(app),
		cmd.NewVersionCommand(version, buildTime, gitCommit),
	)

	return rootCmd
}

// cleanup gracefully shuts down all services
func cleanup(app *cmd.App) {
	if app.Services == nil {
		return
	}

	logger := logging.GetLogger()
	logger.Debug("🧹 Cleaning up services...")

	app.Services.Close()
	logging.Shutdown()
}
