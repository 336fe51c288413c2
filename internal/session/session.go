package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jennylee1996/speech-to-text-service/internal/codec"
	"github.com/jennylee1996/speech-to-text-service/internal/link"
	"github.com/jennylee1996/speech-to-text-service/internal/metrics"
)

// State represents the lifecycle state of a session
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// RemoteLink is the session's view of its outbound connection. Each open
// session owns exactly one link; no other component calls into it.
type RemoteLink interface {
	SendAudio([]byte) error
	SendControl([]byte) error
	Frames() <-chan link.Frame
	Err() error
	Close() error
}

// Dialer opens a remote link for a new session
type Dialer interface {
	DialSession(ctx context.Context, sessionID string) (RemoteLink, error)
}

// DialFunc adapts a function to the Dialer interface
type DialFunc func(ctx context.Context, sessionID string) (RemoteLink, error)

// DialSession implements Dialer
func (f DialFunc) DialSession(ctx context.Context, sessionID string) (RemoteLink, error) {
	return f(ctx, sessionID)
}

// Sink receives decoded transcript events for one session. A Send failure
// marks the sink broken: it is evicted and delivery falls back to the
// session's pending buffer.
type Sink interface {
	Send(codec.TranscriptEvent) error
}

// Session represents one active transcription stream. It owns the remote
// link, forwards audio, and fans decoded events out to at most one
// subscriber, buffering into a bounded pending queue when none is attached.
type Session struct {
	ID string

	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics

	closeGrace time.Duration
	maxPending int

	createdAt time.Time
	done      chan struct{}

	mu           sync.Mutex
	state        State
	lnk          RemoteLink
	sink         Sink
	pending      []codec.TranscriptEvent
	lastActivity time.Time

	audioChunks     uint64
	audioBytes      uint64
	eventsDelivered uint64
	eventsDropped   uint64
}

// Info represents session information for monitoring and APIs
type Info struct {
	ID              string        `json:"session_id"`
	State           string        `json:"state"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActivity    time.Time     `json:"last_activity"`
	Duration        time.Duration `json:"duration"`
	AudioChunks     uint64        `json:"audio_chunks"`
	AudioBytes      uint64        `json:"audio_bytes"`
	EventsDelivered uint64        `json:"events_delivered"`
	EventsPending   int           `json:"events_pending"`
	EventsDropped   uint64        `json:"events_dropped"`
}

// open confirms the link, sends the initial session config control frame,
// and starts the inbound event pump. Called exactly once by the registry.
func (s *Session) open(l RemoteLink, sampleRate int) error {
	configFrame, err := codec.EncodeSessionConfig(sampleRate, s.ID)
	if err != nil {
		l.Close()
		return fmt.Errorf("failed to encode session config: %w", err)
	}

	if err := l.SendControl(configFrame); err != nil {
		l.Close()
		return fmt.Errorf("failed to send session config: %w", err)
	}

	s.mu.Lock()
	s.lnk = l
	s.state = StateOpen
	s.mu.Unlock()

	go s.pump()

	return nil
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed once the session reaches the Closed state
// and has been removed from the registry
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendAudio forwards a chunk of audio to the remote endpoint. It returns
// ErrSessionNotReady unless the session is Open. Transport failures are not
// reported here: they tear the session down and surface asynchronously as an
// Error event on the subscriber stream.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrSessionNotReady
	}
	l := s.lnk
	s.lastActivity = time.Now()
	s.audioChunks++
	s.audioBytes += uint64(len(chunk))
	s.mu.Unlock()

	s.metrics.RecordAudioChunk(len(chunk))

	if err := l.SendAudio(codec.EncodeAudio(chunk)); err != nil {
		go s.fail(fmt.Errorf("audio send failed: %w", err))
	}

	return nil
}

// Attach replaces the session's subscriber sink, delivering any buffered
// pending events first, then live events as they arrive, in arrival order.
func (s *Session) Attach(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) > 0 {
		if err := sink.Send(s.pending[0]); err != nil {
			// Sink broke before going live; keep the remaining
			// pending events for the next subscriber.
			return
		}
		s.pending = s.pending[1:]
		s.eventsDelivered++
		s.metrics.RecordEventDelivered()
	}

	s.sink = sink
}

// Detach removes the current sink without closing the session; audio may
// continue to flow and events buffer until the next Attach.
func (s *Session) Detach() {
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
}

// End requests session teardown: further audio is rejected, a terminate
// control frame is sent, and the link is force-closed if the remote does
// not complete the closure within the grace period. Idempotent.
func (s *Session) End() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	l := s.lnk
	s.mu.Unlock()

	if err := l.SendControl(codec.EncodeTerminate()); err != nil {
		s.logger.Debug("Failed to send terminate frame",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}

	select {
	case <-s.done:
	case <-time.After(s.closeGrace):
		s.logger.Warn("Remote endpoint did not close within grace period, forcing close",
			slog.String("session_id", s.ID),
			slog.Duration("grace", s.closeGrace),
		)
		s.metrics.RecordLinkHardClose()
		l.Close()
		<-s.done
	}
}

// Info returns a snapshot of the session for monitoring
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:              s.ID,
		State:           s.state.String(),
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
		Duration:        time.Since(s.createdAt),
		AudioChunks:     s.audioChunks,
		AudioBytes:      s.audioBytes,
		EventsDelivered: s.eventsDelivered,
		EventsPending:   len(s.pending),
		EventsDropped:   s.eventsDropped,
	}
}

// lastActivityTime returns the time of the most recent audio or event
func (s *Session) lastActivityTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// pump is the single inbound consumer for this session's link. Running
// alone it guarantees events reach the subscriber in arrival order.
func (s *Session) pump() {
	for frame := range s.lnk.Frames() {
		ev := codec.Decode(frame.Data)
		ev.SessionID = s.ID

		s.metrics.RecordEventDecoded(ev.Kind.String())

		if ev.Kind == codec.KindUnknown {
			s.logger.Debug("Unrecognized frame from remote endpoint",
				slog.String("session_id", s.ID),
				slog.Int("raw_size", len(ev.Raw)),
			)
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.deliverLocked(ev)
		s.mu.Unlock()

		// A remote error event ends the session
		if ev.Kind == codec.KindError {
			s.beginClose()
		}
	}

	s.finish()
}

// beginClose moves the session to Closing and releases the link, which in
// turn terminates the pump
func (s *Session) beginClose() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	l := s.lnk
	s.mu.Unlock()

	l.Close()
}

// fail tears the session down after an outbound transport failure,
// delivering one final Error event so subscribers are not left waiting
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	l := s.lnk
	s.deliverLocked(codec.TranscriptEvent{
		SessionID: s.ID,
		Kind:      codec.KindError,
		Error:     err.Error(),
	})
	s.mu.Unlock()

	s.logger.Error("Session transport failure",
		slog.String("session_id", s.ID),
		slog.String("error", err.Error()),
	)

	l.Close()
}

// finish runs once the link's frame stream terminates: it transitions the
// session to Closed and removes it from the registry synchronously, so no
// session remains registered with a released link.
func (s *Session) finish() {
	terr := s.lnk.Err()

	s.mu.Lock()
	expected := s.state == StateClosing
	s.state = StateClosed
	if terr != nil && !expected {
		// Unexpected transport failure: subscribers get a final Error
		// event before the session disappears.
		s.deliverLocked(codec.TranscriptEvent{
			SessionID: s.ID,
			Kind:      codec.KindError,
			Error:     fmt.Sprintf("transport failure: %v", terr),
		})
	}
	s.mu.Unlock()

	s.registry.release(s)
	close(s.done)
}

// deliverLocked hands an event to the current sink, or buffers it into the
// bounded pending queue when no sink is attached. A failing sink is evicted
// silently. Caller holds s.mu.
func (s *Session) deliverLocked(ev codec.TranscriptEvent) {
	if s.sink != nil {
		if err := s.sink.Send(ev); err == nil {
			s.eventsDelivered++
			s.metrics.RecordEventDelivered()
			return
		}
		s.sink = nil
	}

	if len(s.pending) >= s.maxPending {
		s.pending = s.pending[1:]
		s.eventsDropped++
		s.metrics.RecordEventDropped()
	}
	s.pending = append(s.pending, ev)
}
