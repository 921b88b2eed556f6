package qbittorrent

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		name      string
		torrent   Attributes
		primary   string
		secondary []string
	}{
		{
			name:      "seeding",
			torrent:   Attributes{"state": "uploading", "progress": json.Number("1"), "upspeed": json.Number("1024")},
			primary:   StatusSeeding,
			secondary: []string{StatusCompleted, StatusRunning, StatusActive},
		},
		{
			name:      "stalled seed",
			torrent:   Attributes{"state": "stalledUP", "progress": json.Number("1")},
			primary:   StatusStalledUploading,
			secondary: []string{StatusCompleted, StatusRunning, StatusInactive, StatusStalled, StatusStalledUploading},
		},
		{
			name:      "downloading",
			torrent:   Attributes{"state": "downloading", "progress": json.Number("0.5"), "dlspeed": json.Number("10")},
			primary:   StatusDownloading,
			secondary: []string{StatusRunning, StatusActive},
		},
		{
			name:      "stalled download",
			torrent:   Attributes{"state": "stalledDL", "progress": json.Number("0.1")},
			primary:   StatusStalledDownloading,
			secondary: []string{StatusRunning, StatusInactive, StatusStalled, StatusStalledDownloading},
		},
		{
			name:      "paused",
			torrent:   Attributes{"state": "pausedDL", "progress": json.Number("0.3")},
			primary:   StatusStopped,
			secondary: nil,
		},
		{
			name:      "stopped in qBittorrent 5",
			torrent:   Attributes{"state": "stoppedUP", "progress": json.Number("1")},
			primary:   StatusStopped,
			secondary: []string{StatusCompleted},
		},
		{
			name:      "checking with traffic is not active",
			torrent:   Attributes{"state": "checkingDL", "dlspeed": json.Number("5")},
			primary:   StatusChecking,
			secondary: []string{StatusRunning},
		},
		{
			name:      "errored",
			torrent:   Attributes{"state": "error"},
			primary:   StatusErrored,
			secondary: []string{StatusRunning, StatusInactive},
		},
		{
			name:      "moving",
			torrent:   Attributes{"state": "moving"},
			primary:   StatusMoving,
			secondary: []string{StatusRunning, StatusInactive},
		},
		{
			name:      "queued with traffic",
			torrent:   Attributes{"state": "queuedDL", "upspeed": float64(3)},
			primary:   StatusActive,
			secondary: []string{StatusRunning, StatusActive},
		},
		{
			name:      "queued idle",
			torrent:   Attributes{"state": "queuedDL"},
			primary:   StatusInactive,
			secondary: []string{StatusRunning, StatusInactive},
		},
		{
			name:      "no state",
			torrent:   Attributes{},
			primary:   StatusUnknown,
			secondary: []string{StatusRunning},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := MapStatus(tt.torrent)
			assert.Equal(t, tt.primary, status.Primary)
			assert.Equal(t, tt.secondary, status.Secondary)
		})
	}
}

func TestAttributesFloat(t *testing.T) {
	attrs := Attributes{
		"number": json.Number("12.5"),
		"float":  float64(3),
		"bad":    json.Number("x"),
		"text":   "7",
	}

	assert.Equal(t, 12.5, attrs.Float("number"))
	assert.Equal(t, 3.0, attrs.Float("float"))
	assert.Equal(t, 0.0, attrs.Float("bad"))
	assert.Equal(t, 0.0, attrs.Float("text"))
	assert.Equal(t, 0.0, attrs.Float("missing"))
}
