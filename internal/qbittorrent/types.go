package qbittorrent

import (
	"strconv"

	"github.com/goccy/go-json"
)

// Instance is one remote qBittorrent WebUI in the roster
type Instance struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	User      string `json:"user"`
	Pass      string `json:"pass"`
	StatsPath string `json:"configPath,omitempty"` // directory holding qBittorrent-data.conf
}

// Key returns the instance id as used in broadcast frames and metric labels
func (i Instance) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

// SameEndpoint reports whether two roster entries talk to the same WebUI with the same credentials
func (i Instance) SameEndpoint(other Instance) bool {
	return i.URL == other.URL && i.User == other.User && i.Pass == other.Pass
}

// Attributes is an untyped torrent or category object as sent by /sync/maindata.
// Numbers are kept as json.Number so values pass through without precision loss.
type Attributes map[string]any

// Clone returns a shallow copy
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String returns the attribute as a string, or "" when absent or not a string
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Float returns a numeric attribute, or 0 when absent or not numeric
func (a Attributes) Float(key string) float64 {
	switch v := a[key].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// TorrentState represents the state of a torrent
type TorrentState string

const (
	StateError              TorrentState = "error"              // Some error occurred, applies to paused torrents
	StateErrored            TorrentState = "errored"            // Legacy spelling of error
	StateMissingFiles       TorrentState = "missingFiles"       // Torrent data files is missing
	StateUploading          TorrentState = "uploading"          // Torrent is being seeded and data is being transferred
	StatePausedUP           TorrentState = "pausedUP"           // Torrent is paused and has finished downloading
	StateStoppedUP          TorrentState = "stoppedUP"          // qBittorrent 5 name for pausedUP
	StateQueuedUP           TorrentState = "queuedUP"           // Queuing is enabled and torrent is queued for upload
	StateStalledUP          TorrentState = "stalledUP"          // Torrent is being seeded, but no connection were made
	StateCheckingUP         TorrentState = "checkingUP"         // Torrent has finished downloading and is being checked
	StateForcedUP           TorrentState = "forcedUP"           // Torrent is forced to uploading and ignore queue limit
	StateAllocating         TorrentState = "allocating"         // Torrent is allocating disk space for download
	StateDownloading        TorrentState = "downloading"        // Torrent is being downloaded and data is being transferred
	StateMetaDL             TorrentState = "metaDL"             // Torrent has just started downloading and is fetching metadata
	StatePausedDL           TorrentState = "pausedDL"           // Torrent is paused and has NOT finished downloading
	StateStoppedDL          TorrentState = "stoppedDL"          // qBittorrent 5 name for pausedDL
	StateQueuedDL           TorrentState = "queuedDL"           // Queuing is enabled and torrent is queued for download
	StateStalledDL          TorrentState = "stalledDL"          // Torrent is being downloaded, but no connection were made
	StateCheckingDL         TorrentState = "checkingDL"         // Same as checkingUP, but torrent has NOT finished downloading
	StateForcedDL           TorrentState = "forcedDL"           // Torrent is forced to downloading to ignore queue limit
	StateCheckingResumeData TorrentState = "checkingResumeData" // Checking resume data on qBt startup
	StateMoving             TorrentState = "moving"             // Torrent is moving to another location
	StateUnknown            TorrentState = "unknown"            // Unknown status
)

// IsPaused reports whether the state is a paused/stopped state
func (s TorrentState) IsPaused() bool {
	return s == StatePausedDL || s == StatePausedUP || s == StateStoppedDL || s == StateStoppedUP
}

// IsChecking reports whether the state is a hash check
func (s TorrentState) IsChecking() bool {
	return s == StateCheckingDL || s == StateCheckingUP
}

// TorrentTracker represents a tracker for a torrent
type TorrentTracker struct {
	URL           string `json:"url"`            // Tracker url
	Status        int    `json:"status"`         // 0 disabled, 1 not contacted, 2 working, 3 updating, 4 not working
	Tier          int    `json:"tier"`           // Tracker tier
	NumPeers      int    `json:"num_peers"`      // Number of peers for current torrent, as reported by the tracker
	NumSeeds      int    `json:"num_seeds"`      // Number of seeds for current torrent, as reported by the tracker
	NumLeeches    int    `json:"num_leeches"`    // Number of leeches for current torrent, as reported by the tracker
	NumDownloaded int    `json:"num_downloaded"` // Number of completed downloads for current torrent, as reported by the tracker
	Msg           string `json:"msg"`            // Tracker message
}
