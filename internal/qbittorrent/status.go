package qbittorrent

// Display statuses derived from a torrent's raw state
const (
	StatusErrored            = "Errored"
	StatusMoving             = "Moving"
	StatusChecking           = "Checking"
	StatusStopped            = "Stopped"
	StatusSeeding            = "Seeding"
	StatusCompleted          = "Completed"
	StatusDownloading        = "Downloading"
	StatusStalled            = "Stalled"
	StatusStalledUploading   = "Stalled uploading"
	StatusStalledDownloading = "Stalled downloading"
	StatusActive             = "Active"
	StatusInactive           = "Inactive"
	StatusRunning            = "Running"
	StatusUnknown            = "Unknown"
)

// Status is the dashboard classification of a torrent
type Status struct {
	Primary   string   `json:"primary"`
	Secondary []string `json:"secondary"`
}

// MapStatus classifies a torrent from its state, progress and transfer speeds
func MapStatus(torrent Attributes) Status {
	state := TorrentState(torrent.String("state"))
	progress := torrent.Float("progress")
	transferring := torrent.Float("dlspeed") > 0 || torrent.Float("upspeed") > 0

	var secondary []string

	if progress == 1 {
		secondary = append(secondary, StatusCompleted)
	}
	if !state.IsPaused() {
		secondary = append(secondary, StatusRunning)
	}
	if transferring && state != "" && !state.IsChecking() {
		secondary = append(secondary, StatusActive)
	}
	if !transferring && state != "" && !state.IsPaused() {
		secondary = append(secondary, StatusInactive)
	}
	switch state {
	case StateStalledUP:
		secondary = append(secondary, StatusStalled, StatusStalledUploading)
	case StateStalledDL:
		secondary = append(secondary, StatusStalled, StatusStalledDownloading)
	}

	return Status{
		Primary:   primaryStatus(state, progress, transferring),
		Secondary: secondary,
	}
}

func primaryStatus(state TorrentState, progress float64, transferring bool) string {
	switch {
	case state == StateError || state == StateErrored:
		return StatusErrored
	case state == StateMoving:
		return StatusMoving
	case state.IsChecking():
		return StatusChecking
	case state.IsPaused():
		return StatusStopped
	case progress == 1:
		switch state {
		case StateUploading:
			return StatusSeeding
		case StateStalledUP:
			return StatusStalledUploading
		default:
			return StatusCompleted
		}
	case state == StateDownloading:
		return StatusDownloading
	case state == StateStalledDL:
		return StatusStalledDownloading
	case state == "":
		return StatusUnknown
	case transferring:
		return StatusActive
	default:
		return StatusInactive
	}
}
