// Package sweeper removes expired sessions from the backing store on a
// fixed interval. Validation already rejects expired sessions on read,
// so the sweep is purely hygiene: it keeps the session collection from
// accumulating dead entries between restarts.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/security"
	"github.com/hmxlabs/hmx-gateway/storage"
)

// DefaultInterval is how often the sweep runs unless configured
// otherwise.
const DefaultInterval = time.Hour

// Sweeper periodically lists sessions and deletes the expired ones.
// Start it once; every error during a sweep is logged and swallowed so
// a flaky store never stops future sweeps.
type Sweeper struct {
	store    storage.SessionStore
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditor sets the audit logger for swept sessions.
func WithAuditor(a *security.Auditor) Option {
	return func(s *Sweeper) { s.auditor = a }
}

// WithInstrumentation attaches OpenTelemetry metrics for sweep passes.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(s *Sweeper) { s.inst = inst }
}

// New creates a Sweeper over the given session store.
func New(store storage.SessionStore, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sweep loop. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)
	s.logger.Info("session sweeper started", "interval", s.interval)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
// Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info("session sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass: list all sessions, delete the expired ones.
// Returns the number of sessions deleted. List and delete failures are
// logged, never propagated.
func (s *Sweeper) Sweep(ctx context.Context) int {
	start := time.Now()

	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		s.logger.Warn("session sweep: list failed", "error", err)
		return 0
	}

	now := s.now()
	swept := 0
	for _, sess := range sessions {
		if !sess.Expired(now) {
			continue
		}
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
			s.logger.Warn("session sweep: delete failed", "session_id", sess.ID, "error", err)
			continue
		}
		swept++
		s.auditor.LogSessionSwept(sess.ID, sess.ExpiresAt)
	}

	if swept > 0 {
		s.logger.Info("session sweep complete", "deleted", swept, "scanned", len(sessions))
	}
	if s.inst != nil {
		s.inst.Metrics().RecordSweep(ctx, swept, float64(time.Since(start).Nanoseconds())/1e6)
	}
	return swept
}
