package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
)

// Hub accepts viewer upgrades and reports how many are connected
type Hub interface {
	http.Handler
	Count() int
}

// InstanceFinder looks up a roster entry by id
type InstanceFinder interface {
	Find(id int64) (qbittorrent.Instance, bool)
	Instances() []qbittorrent.Instance
}

// TrackerSource lists the trackers of a torrent on an instance
type TrackerSource interface {
	Trackers(ctx context.Context, inst qbittorrent.Instance, hash string) ([]qbittorrent.TorrentTracker, error)
}

// BreakerStates reports the circuit breaker state of an instance
type BreakerStates interface {
	State(instanceID int64) string
}

// Option configures a Server
type Option func(*Server)

// WithBreakerStates adds per-instance breaker states to the health report
func WithBreakerStates(b BreakerStates) Option {
	return func(s *Server) { s.breakers = b }
}

// Server is the HTTP front: the WebSocket upgrade path plus a few JSON endpoints
type Server struct {
	config     *config.ServerConfig
	hub        Hub
	roster     InstanceFinder
	trackers   TrackerSource
	breakers   BreakerStates
	logger     *logging.Logger
	httpServer *http.Server
}

// New creates a server listening on cfg's address
func New(cfg *config.Config, hub Hub, roster InstanceFinder, trackers TrackerSource, opts ...Option) *Server {
	s := &Server{
		config:   &cfg.Server,
		hub:      hub,
		roster:   roster,
		trackers: trackers,
		logger:   logging.GetServerLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// upgrades bypass the JSON middleware stack
	r.Handle(s.config.WebSocketPath, s.hub)

	r.Group(func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))

		r.Get("/api/websocket", s.handleWebSocketInfo)

		if s.config.DetailsRate > 0 {
			r.With(httprate.LimitByIP(s.config.DetailsRate, time.Minute)).
				Get("/api/torrent-details", s.handleTorrentDetails)
		} else {
			r.Get("/api/torrent-details", s.handleTorrentDetails)
		}

		r.Get("/healthz", s.handleHealth)
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}

// Start serves until Shutdown; it returns nil after a graceful shutdown
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"address":        s.httpServer.Addr,
		"websocket_path": s.config.WebSocketPath,
	}).Info("HTTP server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"remote":      r.RemoteAddr,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}
