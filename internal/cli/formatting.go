package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"

	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// Colors for statuses and report sections
var (
	ColorDownloading = color.New(color.FgBlue, color.Bold)
	ColorSeeding     = color.New(color.FgGreen, color.Bold)
	ColorPaused      = color.New(color.FgYellow, color.Bold)
	ColorError       = color.New(color.FgRed, color.Bold)
	ColorCompleted   = color.New(color.FgCyan, color.Bold)
	ColorHeader      = color.New(color.FgWhite, color.Bold)
	ColorMuted       = color.New(color.FgHiBlack)
)

// FormatBytes converts bytes to a human readable IEC size
func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// FormatSpeed converts bytes per second to a human readable rate
func FormatSpeed(bytesPerSec uint64) string {
	if bytesPerSec == 0 {
		return "0 B/s"
	}
	return FormatBytes(bytesPerSec) + "/s"
}

// FormatCount renders an integer with thousands separators
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// GetStatusColor returns the color for a primary torrent status
func GetStatusColor(status string) *color.Color {
	switch status {
	case qbittorrent.StatusDownloading, qbittorrent.StatusStalledDownloading:
		return ColorDownloading
	case qbittorrent.StatusSeeding, qbittorrent.StatusStalledUploading:
		return ColorSeeding
	case qbittorrent.StatusStopped:
		return ColorPaused
	case qbittorrent.StatusErrored:
		return ColorError
	case qbittorrent.StatusCompleted, qbittorrent.StatusChecking, qbittorrent.StatusMoving:
		return ColorCompleted
	default:
		return color.New(color.Reset)
	}
}

// GetStatusIcon returns an emoji for a primary torrent status
func GetStatusIcon(status string) string {
	switch status {
	case qbittorrent.StatusDownloading:
		return "📥"
	case qbittorrent.StatusSeeding:
		return "🌱"
	case qbittorrent.StatusStopped:
		return "⏸️"
	case qbittorrent.StatusErrored:
		return "❌"
	case qbittorrent.StatusCompleted:
		return "✅"
	case qbittorrent.StatusChecking, qbittorrent.StatusMoving:
		return "⏳"
	case qbittorrent.StatusStalledDownloading, qbittorrent.StatusStalledUploading:
		return "💤"
	default:
		return "❓"
	}
}

// ProbeResult is the outcome of one instance probe
type ProbeResult struct {
	Instance   qbittorrent.Instance `json:"-"`
	Name       string               `json:"name"`
	ID         int64                `json:"id"`
	URL        string               `json:"url"`
	OK         bool                 `json:"ok"`
	Error      string               `json:"error,omitempty"`
	Kind       string               `json:"kind,omitempty"`
	RID        int64                `json:"rid"`
	Torrents   int                  `json:"torrents"`
	Categories int                  `json:"categories"`
	Tags       int                  `json:"tags"`
	Statuses   map[string]int       `json:"statuses,omitempty"`
	DLSpeed    uint64               `json:"dl_info_speed"`
	UPSpeed    uint64               `json:"up_info_speed"`
	Latency    time.Duration        `json:"latency_ns"`
}

// transferInfo is the part of server_state the probe report shows
type transferInfo struct {
	DLSpeed uint64 `json:"dl_info_speed"`
	UPSpeed uint64 `json:"up_info_speed"`
}

// NewProbeResult summarizes a full maindata fetch, or its failure
func NewProbeResult(inst qbittorrent.Instance, data *qbittorrent.MainData, err error, latency time.Duration) ProbeResult {
	result := ProbeResult{
		Instance: inst,
		Name:     inst.Name,
		ID:       inst.ID,
		URL:      inst.URL,
		Latency:  latency,
	}
	if err != nil {
		result.Error = err.Error()
		result.Kind = qbittorrent.Classify(err)
		return result
	}

	result.OK = true
	result.RID = data.RID
	result.Torrents = len(data.Torrents)
	result.Categories = len(data.Categories)
	result.Tags = len(data.Tags)
	if len(data.ServerState) > 0 {
		var info transferInfo
		// server_state is opaque; speeds are best effort
		if json.Unmarshal(data.ServerState, &info) == nil {
			result.DLSpeed = info.DLSpeed
			result.UPSpeed = info.UPSpeed
		}
	}

	result.Statuses = make(map[string]int)
	for _, torrent := range data.Torrents {
		if torrent == nil {
			continue
		}
		result.Statuses[qbittorrent.MapStatus(torrent).Primary]++
	}
	return result
}

// PrintProbeReport prints one block per probed instance followed by a summary
func PrintProbeReport(w io.Writer, results []ProbeResult, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(w, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "📭 No instances configured")
		return nil
	}

	fmt.Fprintf(w, "🧪 %s\n\n", ColorHeader.Sprint("Instance probe"))

	healthy := 0
	for _, r := range results {
		if !r.OK {
			fmt.Fprintf(w, "❌ %s %s\n", ColorError.Sprint(r.Name), ColorMuted.Sprintf("(%s)", r.URL))
			fmt.Fprintf(w, "   %s: %s\n\n", r.Kind, r.Error)
			continue
		}

		healthy++
		fmt.Fprintf(w, "✅ %s %s %s\n", ColorSeeding.Sprint(r.Name), ColorMuted.Sprintf("(%s)", r.URL), ColorMuted.Sprintf("%dms", r.Latency.Milliseconds()))
		fmt.Fprintf(w, "   Torrents: %s  Categories: %d  Tags: %d  rid: %d\n",
			FormatCount(int64(r.Torrents)), r.Categories, r.Tags, r.RID)
		fmt.Fprintf(w, "   Speed: ↓ %s  ↑ %s\n", FormatSpeed(r.DLSpeed), FormatSpeed(r.UPSpeed))
		if line := statusLine(r.Statuses); line != "" {
			fmt.Fprintf(w, "   %s\n", line)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "📊 %s: %d/%d instances reachable\n", ColorHeader.Sprint("Summary"), healthy, len(results))
	return nil
}

func statusLine(statuses map[string]int) string {
	if len(statuses) == 0 {
		return ""
	}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %s: %d", GetStatusIcon(name), GetStatusColor(name).Sprint(name), statuses[name]))
	}
	return strings.Join(parts, "  ")
}

// StatsRow is the decoded traffic of one config directory
type StatsRow struct {
	Source     string `json:"source"`
	Uploaded   uint64 `json:"uploaded"`
	Downloaded uint64 `json:"downloaded"`
	Error      string `json:"error,omitempty"`
}

// PrintStatsTable prints lifetime traffic per source and the sum of the readable ones
func PrintStatsTable(w io.Writer, rows []StatsRow, jsonOutput bool) error {
	var totalUL, totalDL uint64
	for _, row := range rows {
		if row.Error == "" {
			totalUL += row.Uploaded
			totalDL += row.Downloaded
		}
	}

	if jsonOutput {
		return printJSON(w, map[string]interface{}{
			"sources":    rows,
			"uploaded":   totalUL,
			"downloaded": totalDL,
		})
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "📭 No stats sources")
		return nil
	}

	fmt.Fprintf(w, "📈 %s\n\n", ColorHeader.Sprint("All-time traffic"))
	fmt.Fprintf(w, "%-40s %14s %14s\n", "Source", "Uploaded", "Downloaded")
	fmt.Fprintln(w, strings.Repeat("─", 70))

	for _, row := range rows {
		source := truncate(row.Source, 40)
		if row.Error != "" {
			fmt.Fprintf(w, "%-40s %s\n", source, ColorError.Sprint(row.Error))
			continue
		}
		fmt.Fprintf(w, "%-40s %14s %14s\n", source, FormatBytes(row.Uploaded), FormatBytes(row.Downloaded))
	}

	fmt.Fprintln(w, strings.Repeat("─", 70))
	// pad before coloring so escape codes do not count towards the width
	fmt.Fprintf(w, "%s %14s %14s\n", ColorHeader.Sprint(fmt.Sprintf("%-40s", "Total")), FormatBytes(totalUL), FormatBytes(totalDL))
	return nil
}

type instanceRow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	User      string `json:"user"`
	StatsPath string `json:"configPath,omitempty"`
}

// PrintInstances lists the roster without credentials
func PrintInstances(w io.Writer, instances []qbittorrent.Instance, jsonOutput bool) error {
	rows := make([]instanceRow, len(instances))
	for i, inst := range instances {
		rows[i] = instanceRow{ID: inst.ID, Name: inst.Name, URL: inst.URL, User: inst.User, StatsPath: inst.StatsPath}
	}

	if jsonOutput {
		return printJSON(w, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "📭 No instances configured")
		return nil
	}

	fmt.Fprintf(w, "🖥️  %s\n\n", ColorHeader.Sprint("Instances"))
	for _, row := range rows {
		fmt.Fprintf(w, "%s %s\n", ColorHeader.Sprint(row.Name), ColorMuted.Sprintf("#%d", row.ID))
		fmt.Fprintf(w, "   URL:   %s\n", row.URL)
		fmt.Fprintf(w, "   User:  %s\n", row.User)
		if row.StatsPath != "" {
			fmt.Fprintf(w, "   Stats: %s\n", row.StatsPath)
		}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-(max-3):]
}
