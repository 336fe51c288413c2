package link

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// frameBuffer bounds the inbound frame channel so a stalled consumer
	// applies backpressure to the read loop instead of growing memory
	frameBuffer = 64

	defaultWriteTimeout = 10 * time.Second
)

// Frame is a single raw inbound frame from the remote endpoint
type Frame struct {
	Binary bool
	Data   []byte
}

// ConnectError indicates the link could not be established
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Link is a single duplex connection to the remote transcription socket.
// It is exclusively owned by one session; the owning session is the only
// caller of its methods.
type Link struct {
	conn   *websocket.Conn
	logger *slog.Logger

	frames chan Frame

	// gorilla connections do not support concurrent writers
	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Options controls how a link is dialed
type Options struct {
	// Authorization is attached once at open time; it is never re-sent per frame.
	Authorization    string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial opens a websocket connection to the remote endpoint and starts the
// inbound read loop. Connection failures are returned as a *ConnectError.
func Dial(ctx context.Context, endpoint string, opts Options, logger *slog.Logger) (*Link, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	var header http.Header
	if opts.Authorization != "" {
		header = http.Header{}
		header.Set("Authorization", opts.Authorization)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &ConnectError{URL: endpoint, Err: err}
	}

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	l := &Link{
		conn:         conn,
		logger:       logger,
		frames:       make(chan Frame, frameBuffer),
		writeTimeout: writeTimeout,
	}

	go l.readLoop()

	return l, nil
}

// SendAudio sends a binary audio frame to the remote endpoint
func (l *Link) SendAudio(frame []byte) error {
	return l.write(websocket.BinaryMessage, frame)
}

// SendControl sends a text control frame to the remote endpoint
func (l *Link) SendControl(frame []byte) error {
	return l.write(websocket.TextMessage, frame)
}

func (l *Link) write(messageType int, data []byte) error {
	if l.closed.Load() {
		return fmt.Errorf("link is closed")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := l.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// Frames returns the stream of raw inbound frames. The channel is closed
// when the link terminates; Err reports the terminal transport error, if any.
func (l *Link) Frames() <-chan Frame {
	return l.frames
}

// Err returns the terminal transport error, or nil if the link closed cleanly
// or was closed locally.
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Close tears down the connection. It is idempotent and safe to call from
// any goroutine; a close control message is sent best-effort before the
// underlying connection is released.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)

		l.writeMu.Lock()
		deadline := time.Now().Add(l.writeTimeout)
		l.conn.SetWriteDeadline(deadline)
		l.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()

		if err := l.conn.Close(); err != nil && l.logger != nil {
			l.logger.Debug("Error closing websocket connection", slog.String("error", err.Error()))
		}
	})

	return nil
}

// readLoop forwards inbound frames until the connection terminates
func (l *Link) readLoop() {
	defer close(l.frames)

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			// A read failure after a local close is expected teardown,
			// not a transport error.
			if !l.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				l.errMu.Lock()
				l.err = err
				l.errMu.Unlock()
			}
			return
		}

		l.frames <- Frame{
			Binary: messageType == websocket.BinaryMessage,
			Data:   data,
		}
	}
}

// BuildURL appends the sample rate and optional temporary token to the
// remote endpoint URL as query parameters
func BuildURL(endpoint string, sampleRate int, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL %s: %w", endpoint, err)
	}

	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
