package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/raainshe/qbitdash/internal/cli"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// NewProbeCommand creates the probe command
func NewProbeCommand(ctx context.Context, app *App) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "probe [instance-id...]",
		Short: "🧪 Probe instances",
		Long: `Log in to every instance in the roster and fetch a full snapshot once.

Reports reachability, latency and torrent counts per instance. Pass instance ids
to probe only those.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			instances, err := selectInstances(app.Services.Roster.Instances(), args)
			if err != nil {
				return err
			}

			probeCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			results := probeInstances(probeCtx, app.Services.Client, instances)
			if err := cli.PrintProbeReport(os.Stdout, results, jsonOutput); err != nil {
				return err
			}

			if failed := countFailed(results); failed > 0 {
				return fmt.Errorf("%d of %d instances unreachable", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")

	return cmd
}

func probeInstances(ctx context.Context, fetcher qbittorrent.Fetcher, instances []qbittorrent.Instance) []cli.ProbeResult {
	p := pool.NewWithResults[cli.ProbeResult]().WithContext(ctx)
	for _, inst := range instances {
		p.Go(func(ctx context.Context) (cli.ProbeResult, error) {
			start := time.Now()
			data, err := fetcher.FetchDelta(ctx, inst, 0)
			return cli.NewProbeResult(inst, data, err, time.Since(start)), nil
		})
	}
	// probe failures are reported per result, never through the pool
	unordered, _ := p.Wait()

	byID := make(map[int64]cli.ProbeResult, len(unordered))
	for _, r := range unordered {
		byID[r.ID] = r
	}

	results := make([]cli.ProbeResult, 0, len(instances))
	for _, inst := range instances {
		results = append(results, byID[inst.ID])
	}
	return results
}

func countFailed(results []cli.ProbeResult) int {
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	return failed
}

func selectInstances(all []qbittorrent.Instance, ids []string) ([]qbittorrent.Instance, error) {
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[int64]qbittorrent.Instance, len(all))
	for _, inst := range all {
		byID[inst.ID] = inst
	}

	selected := make([]qbittorrent.Instance, 0, len(ids))
	for _, arg := range ids {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid instance id %q", arg)
		}
		inst, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("instance %d not in roster", id)
		}
		selected = append(selected, inst)
	}
	return selected, nil
}

// NewStatsCommand creates the stats command
func NewStatsCommand(app *App) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats [config-dir...]",
		Short: "📈 Show all-time traffic",
		Long: `Decode qBittorrent-data.conf and print lifetime upload and download totals.

Without arguments the config directories of every roster instance are read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				for _, inst := range app.Services.Roster.Instances() {
					if inst.StatsPath != "" {
						sources = append(sources, inst.StatsPath)
					}
				}
			}

			rows := iter.Map(sources, func(dir *string) cli.StatsRow {
				totals, err := app.Services.Stats.Read(*dir)
				row := cli.StatsRow{Source: *dir, Uploaded: totals.Uploaded, Downloaded: totals.Downloaded}
				if err != nil {
					row.Error = err.Error()
				}
				return row
			})

			return cli.PrintStatsTable(os.Stdout, rows, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")

	return cmd
}

// NewInstancesCommand creates the instances command
func NewInstancesCommand(app *App) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "instances",
		Short: "🖥️  List roster instances",
		Long:  "List the instances read from the roster file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(os.Stderr, "Roster: %s\n", app.Services.Roster.Path())
			return cli.PrintInstances(os.Stdout, app.Services.Roster.Instances(), jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "output in JSON format")

	return cmd
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, buildTime, gitCommit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "ℹ️  Show version information",
		Long:  "Display version, build time, and git commit information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("qbitdash %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
		},
	}
}
