package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/raainshe/qbitdash/internal/logging"
	"github.com/raainshe/qbitdash/internal/metrics"
)

// Fetcher returns the next maindata delta of an instance
type Fetcher interface {
	FetchDelta(ctx context.Context, inst Instance, rid int64) (*MainData, error)
}

// BreakerClient keeps one circuit breaker per instance in front of a Fetcher,
// so an instance that keeps failing stops costing a full timeout every cycle
type BreakerClient struct {
	fetcher     Fetcher
	maxFailures uint32
	cooldown    time.Duration
	logger      *logging.Logger

	mutex    sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker[*MainData]
}

// NewBreakerClient wraps fetcher. The circuit of an instance opens after
// maxFailures consecutive failures and half-opens after cooldown.
func NewBreakerClient(fetcher Fetcher, maxFailures int, cooldown time.Duration) *BreakerClient {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &BreakerClient{
		fetcher:     fetcher,
		maxFailures: uint32(maxFailures),
		cooldown:    cooldown,
		logger:      logging.GetSyncLogger(),
		breakers:    make(map[int64]*gobreaker.CircuitBreaker[*MainData]),
	}
}

// FetchDelta runs the wrapped fetch through the instance's breaker
func (b *BreakerClient) FetchDelta(ctx context.Context, inst Instance, rid int64) (*MainData, error) {
	cb := b.breaker(inst)

	data, err := cb.Execute(func() (*MainData, error) {
		return b.fetcher.FetchDelta(ctx, inst, rid)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &SyncError{Instance: inst.Name, Op: "sync", Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
	}
	return data, err
}

// State returns the breaker state of an instance as "closed", "half-open" or "open"
func (b *BreakerClient) State(instanceID int64) string {
	b.mutex.Lock()
	cb, ok := b.breakers[instanceID]
	b.mutex.Unlock()

	if !ok {
		return stateToString(gobreaker.StateClosed)
	}
	return stateToString(cb.State())
}

// Forget drops the breaker of an instance, used when it leaves the roster or changes endpoint
func (b *BreakerClient) Forget(instanceID int64) {
	b.mutex.Lock()
	delete(b.breakers, instanceID)
	b.mutex.Unlock()
}

func (b *BreakerClient) breaker(inst Instance) *gobreaker.CircuitBreaker[*MainData] {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if cb, ok := b.breakers[inst.ID]; ok {
		return cb
	}

	label := inst.Key()
	metrics.BreakerState.WithLabelValues(label).Set(stateToFloat(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[*MainData](gobreaker.Settings{
		Name:        label,
		MaxRequests: 1,
		Timeout:     b.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
			b.logger.WithFields(map[string]interface{}{
				"instance_id":   inst.ID,
				"instance_name": inst.Name,
				"from":          stateToString(from),
				"to":            stateToString(to),
			}).Warn("Circuit breaker state changed")
		},
	})
	b.breakers[inst.ID] = cb
	return cb
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
