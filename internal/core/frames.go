package core

import (
	"strconv"
	"time"

	"github.com/raainshe/qbitdash/internal/stats"
)

// InstancesFrame is broadcast after every sync cycle, keyed by instance id
type InstancesFrame struct {
	Instances map[string]*Snapshot `json:"instances"`
	Timestamp int64                `json:"timestamp"`
}

// GlobalStats carries all-time totals as decimal strings so 64-bit values survive JSON readers
type GlobalStats struct {
	AlltimeUL string `json:"alltimeUL"`
	AlltimeDL string `json:"alltimeDL"`
}

// TotalsFrame is broadcast after every stats cycle
type TotalsFrame struct {
	GlobalStats GlobalStats `json:"globalStats"`
	Timestamp   int64       `json:"timestamp"`
}

// NewTotalsFrame builds the totals frame for the summed traffic
func NewTotalsFrame(totals stats.Totals, now time.Time) TotalsFrame {
	return TotalsFrame{
		GlobalStats: GlobalStats{
			AlltimeUL: strconv.FormatUint(totals.Uploaded, 10),
			AlltimeDL: strconv.FormatUint(totals.Downloaded, 10),
		},
		Timestamp: now.UnixMilli(),
	}
}
