package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/metrics"
)

// ErrRegistryClosed is returned when a viewer arrives after Close
var ErrRegistryClosed = errors.New("websocket: registry closed")

// Registry is the set of connected viewers. All set operations hold the mutex,
// so viewers may leave while a broadcast is in progress.
type Registry struct {
	upgrader websocket.Upgrader
	buffer   int
	logger   *logging.Logger

	mutex   sync.RWMutex
	viewers map[uint64]*Viewer
	closed  bool
}

// NewRegistry creates a registry whose viewers queue at most buffer frames
func NewRegistry(buffer int) *Registry {
	return &Registry{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			// the dashboard frontend is served from its own origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		buffer:  buffer,
		logger:  logging.GetWebSocketLogger(),
		viewers: make(map[uint64]*Viewer),
	}
}

// Accept upgrades the request synchronously. The viewer receives nothing until Register.
func (r *Registry) Accept(w http.ResponseWriter, req *http.Request) (*Viewer, error) {
	r.mutex.RLock()
	closed := r.closed
	r.mutex.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return nil, err
	}
	return newViewer(conn, r.buffer), nil
}

// Register adds the viewer to the broadcast set and starts its pumps
func (r *Registry) Register(v *Viewer) error {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		v.close()
		return ErrRegistryClosed
	}
	v.registry = r
	r.viewers[v.id] = v
	v.ready.Store(true)
	count := len(r.viewers)
	r.mutex.Unlock()

	metrics.ViewersConnected.Set(float64(count))
	r.logger.WithFields(map[string]interface{}{
		"viewer_id":     v.id,
		"total_viewers": count,
	}).Info("Viewer connected")

	if v.conn != nil {
		v.start()
	}
	return nil
}

// Remove drops the viewer and closes its connection; removing twice is a no-op
func (r *Registry) Remove(v *Viewer) {
	r.mutex.Lock()
	_, ok := r.viewers[v.id]
	delete(r.viewers, v.id)
	count := len(r.viewers)
	r.mutex.Unlock()

	v.close()
	if !ok {
		return
	}

	metrics.ViewersConnected.Set(float64(count))
	r.logger.WithFields(map[string]interface{}{
		"viewer_id":     v.id,
		"total_viewers": count,
	}).Info("Viewer disconnected")
}

// Broadcast serializes frame once and queues it for every ready viewer.
// Viewers that are not ready or whose queue is full miss this frame.
// It returns the number of viewers the frame was queued for.
func (r *Registry) Broadcast(frame any) int {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.logger.WithError(err).Error("Failed to encode frame")
		return 0
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sent, skipped := 0, 0
	for _, v := range r.viewers {
		if v.enqueue(payload) {
			sent++
		} else {
			skipped++
		}
	}

	if skipped > 0 {
		metrics.FramesSkipped.Add(float64(skipped))
	}
	return sent
}

// Count returns the number of registered viewers
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.viewers)
}

// Close rejects new viewers and disconnects every registered one
func (r *Registry) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	viewers := r.viewers
	r.viewers = make(map[uint64]*Viewer)
	r.mutex.Unlock()

	for _, v := range viewers {
		v.close()
	}
	metrics.ViewersConnected.Set(0)
	r.logger.WithField("viewers", len(viewers)).Info("Viewer registry closed")
}

// ServeHTTP accepts and registers a viewer, for mounting on a router
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	v, err := r.Accept(w, req)
	if errors.Is(err, ErrRegistryClosed) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		// the upgrader has already replied
		r.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	if err := r.Register(v); err != nil {
		r.logger.WithError(err).Debug("Viewer arrived during shutdown")
	}
}
