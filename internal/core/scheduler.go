package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/metrics"
	"github.com/raainshe/qbitdash/internal/qbittorrent"
	"github.com/raainshe/qbitdash/internal/stats"
)

const (
	cycleSync  = "sync"
	cycleStats = "stats"
)

// Broadcaster delivers frames to connected viewers
type Broadcaster interface {
	Broadcast(frame any) int
	Close()
}

// RosterSource returns the current instance roster
type RosterSource interface {
	Instances() []qbittorrent.Instance
}

// StatsReader reads all-time totals from an instance's config directory
type StatsReader interface {
	Read(dir string) (stats.Totals, error)
}

// SessionInvalidator drops the cached session of an instance
type SessionInvalidator interface {
	Invalidate(instanceID int64)
}

// Forgetter drops per-instance fetch state such as circuit breakers
type Forgetter interface {
	Forget(instanceID int64)
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithSessions invalidates sessions of instances whose endpoint or credentials change
func WithSessions(sessions SessionInvalidator) Option {
	return func(s *Scheduler) { s.sessions = sessions }
}

// WithForgetter resets per-instance fetch state on roster changes
func WithForgetter(f Forgetter) Option {
	return func(s *Scheduler) { s.forgetter = f }
}

// WithClock replaces the clock used for frame timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler drives the fast sync cycle and the slow stats cycle
type Scheduler struct {
	config  *config.PollingConfig
	fetcher qbittorrent.Fetcher
	roster  RosterSource
	stats   StatsReader
	hub     Broadcaster
	store   *StateStore
	policy  TagPolicy
	logger  *logging.Logger
	now     func() time.Time

	sessions  SessionInvalidator
	forgetter Forgetter

	rosterMutex sync.Mutex
	known       map[int64]qbittorrent.Instance

	runningMutex sync.RWMutex
	isRunning    bool
	stopChan     chan struct{}
	loops        sync.WaitGroup
}

// NewScheduler creates a scheduler; nothing runs until Start
func NewScheduler(cfg *config.PollingConfig, fetcher qbittorrent.Fetcher, roster RosterSource, reader StatsReader, hub Broadcaster, opts ...Option) *Scheduler {
	policy := TagPolicy(cfg.TagPolicy)
	if policy != TagPolicyMerge {
		policy = TagPolicyReplace
	}

	s := &Scheduler{
		config:  cfg,
		fetcher: fetcher,
		roster:  roster,
		stats:   reader,
		hub:     hub,
		store:   NewStateStore(),
		policy:  policy,
		logger:  logging.GetSchedulerLogger(),
		now:     time.Now,
		known:   make(map[int64]qbittorrent.Instance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs both cycles once immediately, then on their own tickers
func (s *Scheduler) Start(ctx context.Context) error {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.stopChan = make(chan struct{})
	s.isRunning = true

	s.loops.Add(2)
	go s.loop(ctx, cycleSync, s.config.SyncInterval, func(ctx context.Context) { s.RunSyncCycle(ctx) })
	go s.loop(ctx, cycleStats, s.config.StatsInterval, func(ctx context.Context) { s.RunStatsCycle(ctx) })

	s.logger.WithFields(map[string]interface{}{
		"sync_interval":  s.config.SyncInterval,
		"stats_interval": s.config.StatsInterval,
		"tag_policy":     s.policy,
	}).Info("Scheduler started")

	return nil
}

// Stop ends both loops, closes the broadcaster and waits for running cycles.
// In-flight fetches are not cancelled; they finish under their own timeout.
func (s *Scheduler) Stop() {
	s.runningMutex.Lock()
	if !s.isRunning {
		s.runningMutex.Unlock()
		return
	}
	close(s.stopChan)
	s.isRunning = false
	s.runningMutex.Unlock()

	s.hub.Close()
	s.loops.Wait()

	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the loops are active
func (s *Scheduler) IsRunning() bool {
	s.runningMutex.RLock()
	defer s.runningMutex.RUnlock()
	return s.isRunning
}

// InstanceCount returns the number of instances holding sync state
func (s *Scheduler) InstanceCount() int {
	return s.store.Len()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	defer s.loops.Done()
	defer s.logger.WithField("cycle", name).Debug("Cycle loop stopped")

	// cycles outlive the caller's cancellation so a shutdown never aborts a fetch midway
	cycleCtx := context.WithoutCancel(ctx)
	stop := s.stopChan

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run(cycleCtx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(cycleCtx)
		}
	}
}

// RunSyncCycle fetches every instance concurrently, folds the results and broadcasts
// one frame holding every instance that has a snapshot. It returns the failure count.
func (s *Scheduler) RunSyncCycle(ctx context.Context) int {
	start := time.Now()
	instances := s.roster.Instances()
	s.ApplyRoster(instances)

	var failures atomic.Int32
	var wg conc.WaitGroup
	for _, inst := range instances {
		wg.Go(func() {
			if err := s.syncInstance(ctx, inst); err != nil {
				failures.Add(1)
			}
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		s.logger.WithField("panic", recovered.Value).Error("Instance sync panicked")
	}

	frame := InstancesFrame{
		Instances: make(map[string]*Snapshot, len(instances)),
		Timestamp: s.now().UnixMilli(),
	}
	for _, inst := range instances {
		if snap, ok := s.store.Snapshot(inst.ID); ok {
			frame.Instances[inst.Key()] = snap
		}
	}

	viewers := s.hub.Broadcast(frame)
	metrics.FramesBroadcast.WithLabelValues("instances").Inc()

	elapsed := time.Since(start)
	metrics.RecordCycle(cycleSync, elapsed)
	logging.LogCycle(cycleSync, len(instances), int(failures.Load()), viewers, elapsed)

	return int(failures.Load())
}

func (s *Scheduler) syncInstance(ctx context.Context, inst qbittorrent.Instance) error {
	start := time.Now()
	data, err := s.fetcher.FetchDelta(ctx, inst, s.store.Cursor(inst.ID))
	metrics.RecordSync(inst.Key(), qbittorrent.Classify(err), time.Since(start))
	if err != nil {
		s.logger.WithInstance(inst.ID, inst.Name).
			WithError(err).
			WithField("kind", qbittorrent.Classify(err)).
			Warn("Instance sync failed, keeping previous snapshot")
		return err
	}

	snap := s.store.Apply(inst.ID, data, s.policy)
	metrics.SetTorrentCounts(inst.Key(), countStatuses(snap))
	return nil
}

// RunStatsCycle sums all-time traffic of every instance with a stats path and
// broadcasts the totals. It reports whether a frame was sent.
func (s *Scheduler) RunStatsCycle(ctx context.Context) bool {
	start := time.Now()

	var withStats []qbittorrent.Instance
	for _, inst := range s.roster.Instances() {
		if inst.StatsPath != "" {
			withStats = append(withStats, inst)
		}
	}
	if len(withStats) == 0 {
		return false
	}

	p := pool.NewWithResults[stats.Totals]().WithErrors().WithContext(ctx)
	for _, inst := range withStats {
		p.Go(func(context.Context) (stats.Totals, error) {
			return s.stats.Read(inst.StatsPath)
		})
	}
	// failed reads are logged by the reader and dropped from the sum
	results, err := p.Wait()

	var total stats.Totals
	for _, t := range results {
		total = total.Add(t)
	}

	metrics.TrafficTotal.WithLabelValues("upload").Set(float64(total.Uploaded))
	metrics.TrafficTotal.WithLabelValues("download").Set(float64(total.Downloaded))

	viewers := s.hub.Broadcast(NewTotalsFrame(total, s.now()))
	metrics.FramesBroadcast.WithLabelValues("totals").Inc()

	failures := len(withStats) - len(results)
	if err != nil {
		s.logger.WithError(err).WithField("failures", failures).Debug("Some stats files could not be read")
	}

	elapsed := time.Since(start)
	metrics.RecordCycle(cycleStats, elapsed)
	logging.LogCycle(cycleStats, len(withStats), failures, viewers, elapsed)

	return true
}

// ApplyRoster reconciles sync state with a roster. Removed instances lose their state;
// instances whose URL or credentials changed are reset and their session invalidated.
func (s *Scheduler) ApplyRoster(instances []qbittorrent.Instance) {
	s.rosterMutex.Lock()
	defer s.rosterMutex.Unlock()

	current := make(map[int64]qbittorrent.Instance, len(instances))
	keep := make(map[int64]struct{}, len(instances))
	for _, inst := range instances {
		current[inst.ID] = inst
		keep[inst.ID] = struct{}{}

		prev, ok := s.known[inst.ID]
		if ok && !prev.SameEndpoint(inst) {
			s.resetInstance(prev, "endpoint changed")
		}
	}

	for id, prev := range s.known {
		if _, ok := current[id]; !ok {
			s.resetInstance(prev, "removed from roster")
			metrics.ForgetInstance(prev.Key())
		}
	}
	s.store.Retain(keep)

	s.known = current
}

func (s *Scheduler) resetInstance(inst qbittorrent.Instance, reason string) {
	s.store.Reset(inst.ID)
	if s.sessions != nil {
		s.sessions.Invalidate(inst.ID)
	}
	if s.forgetter != nil {
		s.forgetter.Forget(inst.ID)
	}
	s.logger.WithInstance(inst.ID, inst.Name).WithField("reason", reason).Info("Instance state reset")
}

func countStatuses(snap *Snapshot) map[string]int {
	counts := make(map[string]int)
	for _, torrent := range snap.Torrents {
		counts[qbittorrent.MapStatus(torrent).Primary]++
	}
	return counts
}
