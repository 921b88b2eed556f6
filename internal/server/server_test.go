package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

type fakeHub struct {
	upgrades int
	viewers  int
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.upgrades++
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (h *fakeHub) Count() int { return h.viewers }

type fakeRoster []qbittorrent.Instance

func (f fakeRoster) Find(id int64) (qbittorrent.Instance, bool) {
	for _, inst := range f {
		if inst.ID == id {
			return inst, true
		}
	}
	return qbittorrent.Instance{}, false
}

func (f fakeRoster) Instances() []qbittorrent.Instance { return f }

type fakeTrackers struct {
	trackers []qbittorrent.TorrentTracker
	err      error
	hash     string
}

func (f *fakeTrackers) Trackers(ctx context.Context, inst qbittorrent.Instance, hash string) ([]qbittorrent.TorrentTracker, error) {
	f.hash = hash
	return f.trackers, f.err
}

func newTestServer(trackers *fakeTrackers) (*Server, *fakeHub) {
	cfg := config.FromEnv()
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Server.DetailsRate = 0
	hub := &fakeHub{viewers: 3}
	roster := fakeRoster{{ID: 1718000000000, Name: "seedbox", URL: "http://seedbox"}}
	return New(cfg, hub, roster, trackers), hub
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestWebSocketPathIsRouted(t *testing.T) {
	s, hub := newTestServer(&fakeTrackers{})
	rec := get(t, s, "/qbit-ws")
	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	assert.Equal(t, 1, hub.upgrades)
}

func TestWebSocketInfo(t *testing.T) {
	s, _ := newTestServer(&fakeTrackers{})
	rec := get(t, s, "/api/websocket")

	require.Equal(t, http.StatusOK, rec.Code)
	var info webSocketInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "/qbit-ws", info.WebSocketPath)
	assert.NotEmpty(t, info.Message)
}

func TestTorrentDetails(t *testing.T) {
	trackers := &fakeTrackers{trackers: []qbittorrent.TorrentTracker{{URL: "udp://tracker:80", Status: 2}}}
	s, _ := newTestServer(trackers)

	rec := get(t, s, "/api/torrent-details?instanceId=1718000000000&hash=abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", trackers.hash)

	var body torrentDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trackers, 1)
	assert.Equal(t, "udp://tracker:80", body.Trackers[0].URL)
}

func TestTorrentDetailsErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
	}{
		{name: "missing hash", target: "/api/torrent-details?instanceId=1718000000000", status: http.StatusBadRequest},
		{name: "missing instance", target: "/api/torrent-details?hash=abc", status: http.StatusBadRequest},
		{name: "malformed instance", target: "/api/torrent-details?instanceId=x&hash=abc", status: http.StatusBadRequest},
		{name: "unknown instance", target: "/api/torrent-details?instanceId=2&hash=abc", status: http.StatusNotFound},
		{
			name:   "auth failure",
			target: "/api/torrent-details?instanceId=1718000000000&hash=abc",
			err:    &qbittorrent.AuthError{Instance: "seedbox", Reason: "rejected credentials"},
			status: http.StatusUnauthorized,
		},
		{
			name:   "session keeps expiring",
			target: "/api/torrent-details?instanceId=1718000000000&hash=abc",
			err:    &qbittorrent.SyncError{Instance: "seedbox", Op: "trackers", Status: 403, Retried: true, Err: qbittorrent.ErrSessionExpired},
			status: http.StatusUnauthorized,
		},
		{
			name:   "remote failure",
			target: "/api/torrent-details?instanceId=1718000000000&hash=abc",
			err:    &qbittorrent.TransportError{Instance: "seedbox", Op: "trackers", Err: errors.New("refused")},
			status: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeTrackers{err: tt.err})
			rec := get(t, s, tt.target)

			assert.Equal(t, tt.status, rec.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestTorrentDetailsEmptyTrackers(t *testing.T) {
	s, _ := newTestServer(&fakeTrackers{})
	rec := get(t, s, "/api/torrent-details?instanceId=1718000000000&hash=abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trackers": []}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(&fakeTrackers{})
	rec := get(t, s, "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "viewers": 3, "instances": 1}`, rec.Body.String())
}

type fakeBreakers map[int64]string

func (f fakeBreakers) State(instanceID int64) string { return f[instanceID] }

func TestHealthReportsBreakerStates(t *testing.T) {
	cfg := config.FromEnv()
	roster := fakeRoster{
		{ID: 1, Name: "a", URL: "http://a"},
		{ID: 2, Name: "b", URL: "http://b"},
	}
	s := New(cfg, &fakeHub{}, roster, &fakeTrackers{}, WithBreakerStates(fakeBreakers{1: "open", 2: "closed"}))

	rec := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok", "viewers": 0, "instances": 2, "breakers": {"1": "open", "2": "closed"}}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(&fakeTrackers{})
	rec := get(t, s, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "qbitdash_viewers_connected")
}

func TestCORSHeaders(t *testing.T) {
	s, _ := newTestServer(&fakeTrackers{})
	req := httptest.NewRequest(http.MethodGet, "/api/websocket", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDetailsRateLimit(t *testing.T) {
	trackers := &fakeTrackers{}
	s, _ := newTestServer(trackers)
	s.config.DetailsRate = 1
	router := s.Router()

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/torrent-details?instanceId=1718000000000&hash=a", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/torrent-details?instanceId=1718000000000&hash=a", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
