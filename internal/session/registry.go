package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jennylee1996/speech-to-text-service/internal/metrics"
)

// Config contains configuration for the session registry
type Config struct {
	SampleRate      int
	PendingEvents   int
	CloseGrace      time.Duration
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	LazyStart       bool
}

// Registry is a concurrent mapping from session id to Session. Creation is
// atomic per id: concurrent callers for the same new id open exactly one
// link and observe the same Session instance.
type Registry struct {
	logger  *slog.Logger
	dialer  Dialer
	metrics *metrics.Metrics
	cfg     Config

	mu      sync.Mutex
	entries map[string]*entry

	sessionsCreated uint64
	sessionsClosed  uint64

	ctx         context.Context
	cancel      context.CancelFunc
	cleanupDone chan struct{}
}

// entry is a registry slot. The ready channel closes once the dial attempt
// finishes, so concurrent creators of the same id share one outcome.
type entry struct {
	ready chan struct{}
	sess  *Session
	err   error
}

// Stats represents registry counters for monitoring
type Stats struct {
	ActiveSessions  int    `json:"active_sessions"`
	SessionsCreated uint64 `json:"sessions_created"`
	SessionsClosed  uint64 `json:"sessions_closed"`
}

// NewRegistry creates a session registry and starts its idle-session
// cleanup routine
func NewRegistry(logger *slog.Logger, dialer Dialer, m *metrics.Metrics, cfg Config) (*Registry, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer cannot be nil")
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	if cfg.PendingEvents <= 0 {
		cfg.PendingEvents = 32
	}

	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		logger:      logger,
		dialer:      dialer,
		metrics:     m,
		cfg:         cfg,
		entries:     make(map[string]*entry),
		ctx:         ctx,
		cancel:      cancel,
		cleanupDone: make(chan struct{}),
	}

	go r.cleanupRoutine()

	return r, nil
}

// Start creates a session explicitly, warming up the link before any audio
// is sent. An empty id requests a generated one.
func (r *Registry) Start(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	return r.GetOrCreate(ctx, id)
}

// GetOrCreate returns the session for id, dialing a new link if the id is
// unknown. Exactly one link is opened per id regardless of concurrency.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		r.mu.Unlock()
		<-e.ready
		if e.err != nil {
			return nil, e.err
		}
		return e.sess, nil
	}

	e := &entry{ready: make(chan struct{})}
	r.entries[id] = e
	r.mu.Unlock()

	sess, err := r.connect(ctx, id)
	e.sess, e.err = sess, err
	close(e.ready)

	if err != nil {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()

		r.metrics.RecordLinkConnectFailure()
		r.logger.Error("Failed to create session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	r.mu.Lock()
	r.sessionsCreated++
	active := len(r.entries)
	r.mu.Unlock()

	r.metrics.RecordLinkConnect()
	r.metrics.RecordSessionCreated()
	r.metrics.SetActiveSessions(active)

	r.logger.Info("Session created",
		slog.String("session_id", id),
		slog.Int("active_sessions", active),
	)

	return sess, nil
}

// Get returns an existing session or ErrNotFound
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}

	<-e.ready
	if e.err != nil {
		return nil, ErrNotFound
	}
	return e.sess, nil
}

// ForAudio resolves the session an audio chunk is addressed to. With lazy
// start enabled, the first chunk for an unknown id transparently provisions
// a session and its link.
func (r *Registry) ForAudio(ctx context.Context, id string) (*Session, error) {
	if r.cfg.LazyStart {
		return r.GetOrCreate(ctx, id)
	}
	return r.Get(id)
}

// Lazy reports whether unknown session ids are provisioned on first audio
func (r *Registry) Lazy() bool {
	return r.cfg.LazyStart
}

// Remove tears down the session for id and blocks until it has left the
// registry, bounded by the close grace period. Idempotent: removing an
// unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		return
	}

	<-e.ready
	if e.sess != nil {
		e.sess.End()
	}
}

// ActiveSessionCount returns the number of registered sessions
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// AllSessions returns a snapshot of all established sessions (for monitoring)
func (r *Registry) AllSessions() []*Session {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	sessions := make([]*Session, 0, len(entries))
	for _, e := range entries {
		select {
		case <-e.ready:
			if e.err == nil {
				sessions = append(sessions, e.sess)
			}
		default:
			// Dial still in flight; skip
		}
	}

	return sessions
}

// Stats returns registry counters
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		ActiveSessions:  len(r.entries),
		SessionsCreated: r.sessionsCreated,
		SessionsClosed:  r.sessionsClosed,
	}
}

// ShutdownAll closes every session and clears the registry. Each close is
// best-effort within the close grace period; the whole shutdown is bounded
// by ctx.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.cancel()
	<-r.cleanupDone

	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if len(ids) == 0 {
		r.logger.Info("Session registry shut down, no active sessions")
		return
	}

	r.logger.Info("Shutting down all sessions", slog.Int("count", len(ids)))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Remove(id)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("All sessions shut down")
	case <-ctx.Done():
		r.logger.Warn("Shutdown deadline reached with sessions remaining",
			slog.Int("remaining", r.ActiveSessionCount()),
		)
	}
}

// connect dials a link for a new session and opens it
func (r *Registry) connect(ctx context.Context, id string) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:           id,
		registry:     r,
		logger:       r.logger,
		metrics:      r.metrics,
		closeGrace:   r.cfg.CloseGrace,
		maxPending:   r.cfg.PendingEvents,
		createdAt:    now,
		lastActivity: now,
		state:        StateConnecting,
		done:         make(chan struct{}),
	}

	l, err := r.dialer.DialSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	if err := s.open(l, r.cfg.SampleRate); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	return s, nil
}

// release removes a closed session's registry entry. Called by the session
// pump synchronously with the transition to Closed.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	if e, ok := r.entries[s.ID]; ok && e.sess == s {
		delete(r.entries, s.ID)
	}
	r.sessionsClosed++
	active := len(r.entries)
	r.mu.Unlock()

	duration := time.Since(s.createdAt)
	r.metrics.RecordSessionClosed(duration.Seconds())
	r.metrics.SetActiveSessions(active)

	r.logger.Info("Session closed",
		slog.String("session_id", s.ID),
		slog.Duration("duration", duration),
		slog.Int("active_sessions", active),
	)
}

// cleanupRoutine periodically evicts sessions idle past the configured
// timeout, following the registry lifecycle context
func (r *Registry) cleanupRoutine() {
	defer close(r.cleanupDone)

	if r.cfg.IdleTimeout <= 0 || r.cfg.CleanupInterval <= 0 {
		<-r.ctx.Done()
		return
	}

	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	r.logger.Info("Session cleanup routine started",
		slog.Duration("idle_timeout", r.cfg.IdleTimeout),
		slog.Duration("check_interval", r.cfg.CleanupInterval),
	)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			r.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions removes sessions with no recent audio or events
func (r *Registry) cleanupIdleSessions() {
	now := time.Now()
	expired := make([]string, 0)

	for _, s := range r.AllSessions() {
		if now.Sub(s.lastActivityTime()) > r.cfg.IdleTimeout {
			expired = append(expired, s.ID)
		}
	}

	if len(expired) == 0 {
		return
	}

	r.logger.Info("Cleaning up idle sessions", slog.Int("expired_count", len(expired)))

	for _, id := range expired {
		r.Remove(id)
	}
}
