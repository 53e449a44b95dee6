package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastSyncConfig(maxAttempts int) *SyncConfig {
	return &SyncConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JitterFraction: 0,
	}
}

type proberFunc func(context.Context) error

func (f proberFunc) Probe(ctx context.Context) error { return f(ctx) }

func TestSyncManager_FiresOnce(t *testing.T) {
	var fired atomic.Int32
	m := NewSyncManager(context.Background(), nil, func(_ context.Context, tag string) error {
		assert.Equal(t, "replay", tag)
		fired.Add(1)
		return nil
	}, fastSyncConfig(3), nil)

	require.NoError(t, m.Register("replay"))
	m.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.Empty(t, m.Pending())
}

func TestSyncManager_RetriesUntilSuccess(t *testing.T) {
	var fired atomic.Int32
	m := NewSyncManager(context.Background(), nil, func(context.Context, string) error {
		if fired.Add(1) < 3 {
			return errors.New("still failing")
		}
		return nil
	}, fastSyncConfig(5), nil)

	require.NoError(t, m.Register("replay"))
	m.Wait()
	assert.Equal(t, int32(3), fired.Load())
}

func TestSyncManager_GivesUp(t *testing.T) {
	var fired atomic.Int32
	m := NewSyncManager(context.Background(), nil, func(context.Context, string) error {
		fired.Add(1)
		return errors.New("server down")
	}, fastSyncConfig(4), nil)

	require.NoError(t, m.Register("replay"))
	m.Wait()
	assert.Equal(t, int32(4), fired.Load())
	assert.Empty(t, m.Pending())
}

func TestSyncManager_WaitsForReachability(t *testing.T) {
	var probes, fired atomic.Int32
	prober := proberFunc(func(context.Context) error {
		if probes.Add(1) < 3 {
			return errors.New("unreachable")
		}
		return nil
	})
	m := NewSyncManager(context.Background(), prober, func(context.Context, string) error {
		fired.Add(1)
		return nil
	}, fastSyncConfig(5), nil)

	require.NoError(t, m.Register("replay"))
	m.Wait()
	assert.Equal(t, int32(3), probes.Load())
	assert.Equal(t, int32(1), fired.Load())
}

func TestSyncManager_CoalescesAndReruns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var fired atomic.Int32
	var once sync.Once

	m := NewSyncManager(context.Background(), nil, func(context.Context, string) error {
		fired.Add(1)
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}, fastSyncConfig(3), nil)

	require.NoError(t, m.Register("replay"))
	<-started
	assert.Equal(t, []string{"replay"}, m.Pending())

	// Two registrations while firing collapse into a single rerun.
	require.NoError(t, m.Register("replay"))
	require.NoError(t, m.Register("replay"))
	close(release)
	m.Wait()

	assert.Equal(t, int32(2), fired.Load())
}

func TestSyncManager_NudgeCutsBackoff(t *testing.T) {
	var reachable atomic.Bool
	var fired atomic.Int32
	prober := proberFunc(func(context.Context) error {
		if !reachable.Load() {
			return errors.New("unreachable")
		}
		return nil
	})
	cfg := &SyncConfig{MaxAttempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	m := NewSyncManager(context.Background(), prober, func(context.Context, string) error {
		fired.Add(1)
		return nil
	}, cfg, nil)

	require.NoError(t, m.Register("replay"))
	reachable.Store(true)

	assert.Eventually(t, func() bool {
		m.Nudge()
		return fired.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	m.Wait()
}

func TestSyncManager_ClosedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewSyncManager(ctx, nil, func(context.Context, string) error { return nil }, nil, nil)

	assert.ErrorIs(t, m.Register("replay"), ErrSyncClosed)
}

func TestSyncManager_Backoff(t *testing.T) {
	m := NewSyncManager(context.Background(), nil, nil, &SyncConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
	}, nil)

	assert.Equal(t, 100*time.Millisecond, m.retryDelay(0))
	assert.Equal(t, 200*time.Millisecond, m.retryDelay(1))
	assert.Equal(t, time.Second, m.retryDelay(10))
	assert.Equal(t, time.Second, m.retryDelay(200))
}

func TestSyncManager_BackoffJitterBounds(t *testing.T) {
	m := NewSyncManager(context.Background(), nil, nil, &SyncConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		JitterFraction: 0.5,
	}, nil)

	for i := 0; i < 50; i++ {
		d := m.retryDelay(1)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}
