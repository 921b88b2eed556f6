package cmd

import (
	"fmt"

	"github.com/raainshe/qbitdash/internal/cache"
	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/core"
	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
	"github.com/raainshe/qbitdash/internal/roster"
	"github.com/raainshe/qbitdash/internal/server"
	"github.com/raainshe/qbitdash/internal/stats"
	"github.com/raainshe/qbitdash/internal/websocket"
)

// Services holds every initialized component of the dashboard
type Services struct {
	Config    *config.Config
	Roster    *roster.Roster
	Sessions  *cache.SessionCache
	Client    *qbittorrent.Client
	Breaker   *qbittorrent.BreakerClient
	Stats     *stats.Reader
	Registry  *websocket.Registry
	Scheduler *core.Scheduler
	Server    *server.Server
}

// NewServices wires the components for cfg. Nothing is started.
func NewServices(cfg *config.Config) (*Services, error) {
	r, err := roster.Load(cfg.Roster.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}

	sessions := cache.NewSessionCache(&cfg.Cache)
	client := qbittorrent.NewClient(sessions,
		qbittorrent.WithTimeout(cfg.QBittorrent.RequestTimeout),
		qbittorrent.WithSessionTTL(cfg.Cache.AuthSessionTTL),
	)
	breaker := qbittorrent.NewBreakerClient(client, cfg.QBittorrent.BreakerFailures, cfg.QBittorrent.BreakerCooldown)

	reader := stats.NewReader()
	registry := websocket.NewRegistry(cfg.Polling.ViewerBuffer)
	scheduler := core.NewScheduler(&cfg.Polling, breaker, r, reader, registry,
		core.WithSessions(sessions),
		core.WithForgetter(breaker),
	)

	srv := server.New(cfg, registry, r, client, server.WithBreakerStates(breaker))

	logging.GetLogger().WithFields(map[string]interface{}{
		"roster":    r.Path(),
		"instances": len(r.Instances()),
	}).Debug("Services initialized")

	return &Services{
		Config:    cfg,
		Roster:    r,
		Sessions:  sessions,
		Client:    client,
		Breaker:   breaker,
		Stats:     reader,
		Registry:  registry,
		Scheduler: scheduler,
		Server:    srv,
	}, nil
}

// Close releases background resources. Safe on a nil receiver.
func (s *Services) Close() {
	if s == nil {
		return
	}

	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Sessions != nil {
		s.Sessions.LogStats()
		s.Sessions.Shutdown()
	}
}

// App is filled in by the root command once flags are parsed
type App struct {
	Config   *config.Config
	Services *Services
}
