package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

// ErrSyncClosed is returned by Register after the manager has shut down.
var ErrSyncClosed = errors.New("sync manager closed")

// SyncConfig configures how pending registrations are retried.
type SyncConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultSyncConfig returns the default retry schedule.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
		JitterFraction: 0.25,
	}
}

// Prober checks whether the upstream can be reached.
type Prober interface {
	Probe(ctx context.Context) error
}

// SyncFunc handles a fired registration. A non-nil error schedules another
// attempt.
type SyncFunc func(ctx context.Context, tag string) error

type registration struct {
	rerun bool
}

// SyncManager keeps one-shot deferred-retry registrations keyed by tag. A
// registration fires once the prober reports the upstream reachable; if the
// handler fails it is tried again with exponential backoff until MaxAttempts
// is reached, then dropped.
type SyncManager struct {
	ctx    context.Context
	config *SyncConfig
	prober Prober
	fire   SyncFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*registration
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewSyncManager creates a manager whose registrations live until ctx is
// cancelled. A nil prober treats the upstream as always reachable.
func NewSyncManager(ctx context.Context, prober Prober, fire SyncFunc, cfg *SyncConfig, logger *slog.Logger) *SyncManager {
	if cfg == nil {
		cfg = DefaultSyncConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncManager{
		ctx:     ctx,
		config:  cfg,
		prober:  prober,
		fire:    fire,
		logger:  logger.With("component", "sync"),
		pending: make(map[string]*registration),
		wake:    make(chan struct{}),
	}
}

// Register schedules tag. Registering a tag that is already pending does not
// add a second registration; if the pending one is firing right now it runs
// once more afterwards.
func (m *SyncManager) Register(tag string) error {
	if m.ctx.Err() != nil {
		return ErrSyncClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if reg, ok := m.pending[tag]; ok {
		reg.rerun = true
		return nil
	}
	reg := &registration{}
	m.pending[tag] = reg
	m.wg.Add(1)
	go m.run(tag, reg)
	m.logger.Debug("sync registered", "tag", tag)
	return nil
}

// Pending returns the tags waiting to fire, sorted.
func (m *SyncManager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tags := make([]string, 0, len(m.pending))
	for tag := range m.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Nudge cuts short every pending backoff so registrations probe again now.
// Called when connectivity is known to have returned.
func (m *SyncManager) Nudge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.wake)
	m.wake = make(chan struct{})
}

// Wait blocks until every registration has fired, given up or been cancelled.
func (m *SyncManager) Wait() {
	m.wg.Wait()
}

func (m *SyncManager) run(tag string, reg *registration) {
	defer m.wg.Done()

	for attempt := 0; attempt < m.config.MaxAttempts; attempt++ {
		err := m.attempt(tag)
		if err == nil {
			m.mu.Lock()
			if reg.rerun {
				reg.rerun = false
				m.mu.Unlock()
				attempt = -1
				continue
			}
			delete(m.pending, tag)
			m.mu.Unlock()
			m.logger.Debug("sync completed", "tag", tag)
			return
		}
		if m.ctx.Err() != nil {
			break
		}
		m.logger.Warn("sync attempt failed", "tag", tag, "attempt", attempt+1, "error", err)

		if attempt < m.config.MaxAttempts-1 {
			if err := m.waitRetry(attempt); err != nil {
				break
			}
		}
	}

	m.mu.Lock()
	delete(m.pending, tag)
	m.mu.Unlock()
	if m.ctx.Err() == nil {
		m.logger.Warn("sync abandoned", "tag", tag, "attempts", m.config.MaxAttempts)
	}
}

func (m *SyncManager) attempt(tag string) error {
	if m.prober != nil {
		if err := m.prober.Probe(m.ctx); err != nil {
			return err
		}
	}
	return m.fire(m.ctx, tag)
}

// retryDelay doubles InitialBackoff per failed attempt up to MaxBackoff and
// spreads the result by up to JitterFraction in either direction.
func (m *SyncManager) retryDelay(attempt int) time.Duration {
	d := m.config.InitialBackoff
	for i := 0; i < attempt && d < m.config.MaxBackoff; i++ {
		d *= 2
	}
	if d > m.config.MaxBackoff {
		d = m.config.MaxBackoff
	}

	spread := time.Duration(float64(d) * m.config.JitterFraction)
	if spread <= 0 {
		return d
	}
	return d - spread + rand.N(2*spread+1)
}

// waitRetry blocks before the next attempt. A Nudge ends the wait early.
func (m *SyncManager) waitRetry(attempt int) error {
	m.mu.Lock()
	nudged := m.wake
	m.mu.Unlock()

	t := time.NewTimer(m.retryDelay(attempt))
	defer t.Stop()
	select {
	case <-t.C:
	case <-nudged:
		m.logger.Debug("retry wait cut short by reconnect")
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
	return nil
}
