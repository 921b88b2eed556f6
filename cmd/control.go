package cmd

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/raainshe/qbitdash/internal/cli"
	"github.com/raainshe/qbitdash/internal/config"
)

// NewStatusCommand creates the status command
func NewStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "📊 Check server status",
		Long:  "Check if the qbitdash server is running and query its health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(app.Config)
		},
	}
}

// NewStopCommand creates the stop command
func NewStopCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "🛑 Stop the server",
		Long:  "Stop the running qbitdash server gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(app.Config.Server.PIDFile)
		},
	}
}

type healthReport struct {
	Status    string            `json:"status"`
	Viewers   int               `json:"viewers"`
	Instances int               `json:"instances"`
	Breakers  map[string]string `json:"breakers"`
}

func runStatus(cfg *config.Config) error {
	pidFile := cfg.Server.PIDFile
	if !isDaemonRunning(pidFile) {
		fmt.Println("❌ Server is not running")
		return nil
	}

	pid, _ := readPID(pidFile)
	fmt.Printf("✅ Server is running (PID: %d)\n", pid)

	report, err := fetchHealth(cfg)
	if err != nil {
		fmt.Printf("⚠️  Health check failed: %v\n", err)
		return nil
	}

	fmt.Printf("   Status:    %s\n", cli.ColorSeeding.Sprint(report.Status))
	fmt.Printf("   Instances: %d\n", report.Instances)
	fmt.Printf("   Viewers:   %d\n", report.Viewers)
	printBreakers(report.Breakers)
	return nil
}

func printBreakers(breakers map[string]string) {
	ids := make([]string, 0, len(breakers))
	for id := range breakers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		state := breakers[id]
		switch state {
		case "open":
			fmt.Printf("   🔴 %s breaker %s\n", id, cli.ColorError.Sprint(state))
		case "half-open":
			fmt.Printf("   🟡 %s breaker %s\n", id, cli.ColorPaused.Sprint(state))
		default:
			fmt.Printf("   🟢 %s breaker %s\n", id, state)
		}
	}
}

func fetchHealth(cfg *config.Config) (*healthReport, error) {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s:%d/healthz", host, cfg.Server.Port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &report, nil
}

func runStop(pidFile string) error {
	if !isDaemonRunning(pidFile) {
		return fmt.Errorf("server is not running")
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	fmt.Printf("🔄 Sent SIGTERM to server (PID: %d)\n", pid)
	fmt.Println("Waiting for graceful shutdown...")

	for i := 0; i < 10; i++ {
		time.Sleep(1 * time.Second)
		if process.Signal(syscall.Signal(0)) != nil {
			removePIDFile(pidFile)
			fmt.Println("✅ Server stopped successfully")
			return nil
		}
	}

	fmt.Println("⚠️  Server not responding, sending SIGKILL...")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	removePIDFile(pidFile)
	fmt.Println("✅ Server force stopped")
	return nil
}
