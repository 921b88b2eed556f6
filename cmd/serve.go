package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// NewServeCommand creates the serve command
func NewServeCommand(ctx context.Context, app *App) *cobra.Command {
	var pidFile string
	var noBanner bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "🚀 Start the dashboard server",
		Long: `Start the dashboard server in the foreground.

The server will:
- Poll every instance in the roster and push state to WebSocket viewers
- Periodically sum all-time traffic from instance config directories
- Reload the roster when the file changes
- Handle graceful shutdown on SIGINT/SIGTERM
- Create a PID file for process management`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pidFile == "" {
				pidFile = app.Config.Server.PIDFile
			}
			return runServe(ctx, app.Services, pidFile, noBanner)
		},
	}

	cmd.Flags().StringVarP(&pidFile, "pid-file", "p", "", "PID file location (default from PID_FILE)")
	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "do not print the startup banner")

	return cmd
}

// displayBanner prints the startup banner
func displayBanner(address, wsPath string) {
	fmt.Printf(`
    ╔══════════════════════════════════════════════════════╗
    ║                                                      ║
    ║     📡 qbitdash · qBittorrent multi-instance view    ║
    ║                                                      ║
    ║     Listening: %-38s║
    ║     WebSocket: %-38s║
    ║     PID:       %-38d║
    ║     Time:      %-38s║
    ║                                                      ║
    ╚══════════════════════════════════════════════════════╝
`, address, wsPath, os.Getpid(), time.Now().Format("2006-01-02 15:04:05"))
}

func runServe(ctx context.Context, services *Services, pidFile string, noBanner bool) error {
	if isDaemonRunning(pidFile) {
		return fmt.Errorf("server is already running (PID file exists: %s)", pidFile)
	}

	cfg := services.Config
	logger := logging.GetLogger()

	if err := createPIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	if !noBanner {
		displayBanner(cfg.ListenAddress(), cfg.Server.WebSocketPath)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := services.Scheduler.Start(serveCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// the scheduler picks up roster changes on its next sync cycle
	if cfg.Roster.Watch {
		services.Roster.Watch(func(instances []qbittorrent.Instance) {
			logger.WithField("instances", len(instances)).Info("🔄 Roster reloaded")
		})
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- services.Server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.WithFields(map[string]interface{}{
		"pid":       os.Getpid(),
		"address":   cfg.ListenAddress(),
		"instances": len(services.Roster.Instances()),
		"log_level": logging.GetLogLevel(),
	}).Info("✅ Server started")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	case <-serveCtx.Done():
		logger.Info("Received shutdown context")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
			logging.LogError(logging.ComponentServer, "listen", err, map[string]interface{}{
				"address": cfg.ListenAddress(),
			})
		}
	}

	logger.Info("🛑 Shutting down...")

	// stopping the scheduler closes the registry and with it every hijacked viewer connection
	services.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := services.Server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	logger.Info("✅ Server stopped")
	return runErr
}

// isDaemonRunning checks if a server is already running for pidFile
func isDaemonRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks that the process exists
	return process.Signal(syscall.Signal(0)) == nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// createPIDFile creates a PID file with the current process ID
func createPIDFile(pidFile string) error {
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// removePIDFile removes the PID file
func removePIDFile(pidFile string) {
	os.Remove(pidFile)
}
