package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

type errorResponse struct {
	Error string `json:"error"`
}

type webSocketInfo struct {
	WebSocketPath string `json:"websocketPath"`
	Message       string `json:"message"`
}

type torrentDetails struct {
	Trackers []qbittorrent.TorrentTracker `json:"trackers"`
}

type health struct {
	Status    string            `json:"status"`
	Viewers   int               `json:"viewers"`
	Instances int               `json:"instances"`
	Breakers  map[string]string `json:"breakers,omitempty"` // instance id to breaker state
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) handleWebSocketInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, webSocketInfo{
		WebSocketPath: s.config.WebSocketPath,
		Message:       "Connect to this path for live instance updates",
	})
}

func (s *Server) handleTorrentDetails(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	hash := query.Get("hash")
	id, err := strconv.ParseInt(query.Get("instanceId"), 10, 64)
	if err != nil || id == 0 || hash == "" {
		writeError(w, http.StatusBadRequest, "instanceId and hash are required")
		return
	}

	inst, ok := s.roster.Find(id)
	if !ok {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	trackers, err := s.trackers.Trackers(r.Context(), inst, hash)
	if err != nil {
		status, message := detailsFailure(err)
		s.logger.WithInstance(inst.ID, inst.Name).
			WithError(err).
			WithField("hash", hash).
			Warn("Torrent details request failed")
		writeError(w, status, message)
		return
	}

	if trackers == nil {
		trackers = []qbittorrent.TorrentTracker{}
	}
	writeJSON(w, http.StatusOK, torrentDetails{Trackers: trackers})
}

func detailsFailure(err error) (int, string) {
	var authErr *qbittorrent.AuthError
	switch {
	case errors.As(err, &authErr), errors.Is(err, qbittorrent.ErrSessionExpired):
		return http.StatusUnauthorized, "authentication with the instance failed"
	default:
		return http.StatusBadGateway, "failed to fetch torrent details"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	instances := s.roster.Instances()
	report := health{
		Status:    "ok",
		Viewers:   s.hub.Count(),
		Instances: len(instances),
	}

	if s.breakers != nil && len(instances) > 0 {
		report.Breakers = make(map[string]string, len(instances))
		for _, inst := range instances {
			report.Breakers[inst.Key()] = s.breakers.State(inst.ID)
		}
	}

	writeJSON(w, http.StatusOK, report)
}
