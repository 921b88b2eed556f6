package qbittorrent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls atomic.Int32
	err   error
}

func (s *stubFetcher) FetchDelta(ctx context.Context, inst Instance, rid int64) (*MainData, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &MainData{RID: rid + 1}, nil
}

func TestBreakerPassesThrough(t *testing.T) {
	stub := &stubFetcher{}
	b := NewBreakerClient(stub, 3, time.Minute)

	data, err := b.FetchDelta(context.Background(), Instance{ID: 1}, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), data.RID)
	assert.Equal(t, "closed", b.State(1))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failure := &TransportError{Instance: "a", Op: "sync", Err: errors.New("connection refused")}
	stub := &stubFetcher{err: failure}
	b := NewBreakerClient(stub, 3, time.Minute)
	inst := Instance{ID: 1, Name: "a"}

	for i := 0; i < 3; i++ {
		_, err := b.FetchDelta(context.Background(), inst, 0)
		require.ErrorIs(t, err, failure)
	}
	assert.Equal(t, "open", b.State(1))

	_, err := b.FetchDelta(context.Background(), inst, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, "rejected", Classify(err))
	assert.Equal(t, int32(3), stub.calls.Load(), "open circuit must not call through")
}

func TestBreakerIsPerInstance(t *testing.T) {
	stub := &stubFetcher{err: errors.New("down")}
	b := NewBreakerClient(stub, 1, time.Minute)

	_, _ = b.FetchDelta(context.Background(), Instance{ID: 1}, 0)
	assert.Equal(t, "open", b.State(1))
	assert.Equal(t, "closed", b.State(2))

	stub.err = nil
	_, err := b.FetchDelta(context.Background(), Instance{ID: 2}, 0)
	require.NoError(t, err)
}

func TestBreakerForget(t *testing.T) {
	stub := &stubFetcher{err: errors.New("down")}
	b := NewBreakerClient(stub, 1, time.Minute)

	_, _ = b.FetchDelta(context.Background(), Instance{ID: 1}, 0)
	require.Equal(t, "open", b.State(1))

	b.Forget(1)
	assert.Equal(t, "closed", b.State(1))
}
