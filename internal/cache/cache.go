package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/raainshe/qbitdash/internal/config"
	"github.com/raainshe/qbitdash/internal/logging"
)

// KeyAuthSessionPrefix is followed by the instance id
const KeyAuthSessionPrefix = "auth:session:"

// SessionCache keeps one qBittorrent session cookie per instance.
// Expiry is absolute: a session is valid until ExpiresAt, regardless of how often it is used.
type SessionCache struct {
	cache  *cache.Cache
	config *config.CacheConfig
	logger *logging.Logger
	now    func() time.Time

	mutex sync.Mutex
	stats CacheStats
}

// CacheStats tracks cache activity
type CacheStats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Stores        int64     `json:"stores"`
	Invalidations int64     `json:"invalidations"`
	Evictions     int64     `json:"evictions"`
	ItemCount     int       `json:"item_count"`
	LastReset     time.Time `json:"last_reset"`
}

// Session represents a cached authentication cookie
type Session struct {
	Cookie    string    `json:"cookie"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Option configures a SessionCache
type Option func(*SessionCache)

// WithClock overrides the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(sc *SessionCache) {
		sc.now = now
	}
}

// NewSessionCache creates a session cache backed by go-cache
func NewSessionCache(cfg *config.CacheConfig, opts ...Option) *SessionCache {
	sc := &SessionCache{
		config: cfg,
		logger: logging.GetCacheLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(sc)
	}
	sc.stats.LastReset = sc.now()

	sc.cache = cache.New(cfg.AuthSessionTTL, cfg.CleanupInterval)
	sc.cache.OnEvicted(func(key string, value interface{}) {
		sc.mutex.Lock()
		sc.stats.Evictions++
		sc.mutex.Unlock()
	})

	sc.logger.WithFields(map[string]interface{}{
		"auth_session_ttl": cfg.AuthSessionTTL,
		"cleanup_interval": cfg.CleanupInterval,
	}).Debug("Session cache initialized")

	return sc
}

func sessionKey(instanceID int64) string {
	return KeyAuthSessionPrefix + strconv.FormatInt(instanceID, 10)
}

// Store records a fresh session for the instance, replacing any previous one
func (sc *SessionCache) Store(instanceID int64, cookie string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = sc.config.AuthSessionTTL
	}

	session := NewSession(cookie, sc.now(), ttl)
	sc.cache.Set(sessionKey(instanceID), session, ttl)

	sc.mutex.Lock()
	sc.stats.Stores++
	sc.mutex.Unlock()

	sc.logger.WithFields(map[string]interface{}{
		"key":        sessionKey(instanceID),
		"ttl":        ttl,
		"expires_at": session.ExpiresAt,
	}).Debug("Authentication session cached")
}

// Session returns the stored session for the instance, expired or not
func (sc *SessionCache) Session(instanceID int64) (*Session, bool) {
	value, found := sc.cache.Get(sessionKey(instanceID))
	if !found {
		return nil, false
	}

	session, ok := value.(*Session)
	return session, ok
}

// Get returns the cookie for the instance if its session is still valid
func (sc *SessionCache) Get(instanceID int64) (string, bool) {
	session, found := sc.Session(instanceID)
	valid := found && !session.ExpiredAt(sc.now())

	sc.mutex.Lock()
	if valid {
		sc.stats.Hits++
	} else {
		sc.stats.Misses++
	}
	sc.mutex.Unlock()

	if !valid {
		if found {
			sc.logger.WithField("key", sessionKey(instanceID)).Debug("Authentication session expired")
		}
		return "", false
	}
	return session.Cookie, true
}

// IsValid reports whether the instance has a session that has not yet expired
func (sc *SessionCache) IsValid(instanceID int64) bool {
	session, found := sc.Session(instanceID)
	return found && !session.ExpiredAt(sc.now())
}

// Invalidate drops the session for the instance
func (sc *SessionCache) Invalidate(instanceID int64) {
	sc.cache.Delete(sessionKey(instanceID))

	sc.mutex.Lock()
	sc.stats.Invalidations++
	sc.mutex.Unlock()

	sc.logger.WithField("key", sessionKey(instanceID)).Debug("Authentication session invalidated")
}

// GetStats returns a copy of the current statistics
func (sc *SessionCache) GetStats() CacheStats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	stats := sc.stats
	stats.ItemCount = sc.cache.ItemCount()
	return stats
}

// GetHitRatio returns the cache hit ratio as a percentage
func (sc *SessionCache) GetHitRatio() float64 {
	stats := sc.GetStats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total) * 100
}

// LogStats logs current cache statistics
func (sc *SessionCache) LogStats() {
	stats := sc.GetStats()
	sc.logger.WithFields(map[string]interface{}{
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"stores":        stats.Stores,
		"invalidations": stats.Invalidations,
		"evictions":     stats.Evictions,
		"item_count":    stats.ItemCount,
		"hit_ratio":     sc.GetHitRatio(),
	}).Info("Session cache statistics")
}

// Shutdown logs final statistics and drops every session
func (sc *SessionCache) Shutdown() {
	sc.LogStats()
	sc.cache.Flush()
}

// NewSession creates a session that expires ttl after createdAt
func NewSession(cookie string, createdAt time.Time, ttl time.Duration) *Session {
	return &Session{
		Cookie:    cookie,
		ExpiresAt: createdAt.Add(ttl),
		CreatedAt: createdAt,
	}
}

// ExpiredAt reports whether the session has expired at the given time
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
