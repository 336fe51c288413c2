package link

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer is a test websocket endpoint that records received frames and
// can push frames back to the client
type echoServer struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received [][]byte
	authHdr  string
	ready    chan struct{}
}

func newEchoServer() *echoServer {
	return &echoServer{ready: make(chan struct{})}
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.authHdr = r.Header.Get("Authorization")
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.ready)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, data)
		s.mu.Unlock()
	}
}

func (s *echoServer) push(messageType int, data []byte) error {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *echoServer) receivedFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestDialSendsAuthorizationOnce(t *testing.T) {
	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	l, err := Dial(context.Background(), wsURL(ts), Options{Authorization: "test-key"}, nil)
	if err != nil {
		t.Fatalf("Expected dial to succeed, got: %v", err)
	}
	defer l.Close()

	<-srv.ready

	srv.mu.Lock()
	auth := srv.authHdr
	srv.mu.Unlock()

	if auth != "test-key" {
		t.Errorf("Expected Authorization header 'test-key', got %q", auth)
	}
}

func TestDialConnectError(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/nothing", Options{
		HandshakeTimeout: 500 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Fatal("Expected connect error for unreachable endpoint")
	}

	connErr, ok := err.(*ConnectError)
	if !ok {
		t.Fatalf("Expected *ConnectError, got %T", err)
	}

	if connErr.Unwrap() == nil {
		t.Error("Expected wrapped underlying error")
	}
}

func TestSendAudioAndControl(t *testing.T) {
	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	l, err := Dial(context.Background(), wsURL(ts), Options{}, nil)
	if err != nil {
		t.Fatalf("Expected dial to succeed, got: %v", err)
	}
	defer l.Close()

	if err := l.SendControl([]byte(`{"sample_rate":16000}`)); err != nil {
		t.Fatalf("Expected control send to succeed, got: %v", err)
	}

	if err := l.SendAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Expected audio send to succeed, got: %v", err)
	}

	// Wait for the server to observe both frames
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(srv.receivedFrames()) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames := srv.receivedFrames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames received by server, got %d", len(frames))
	}

	if string(frames[0]) != `{"sample_rate":16000}` {
		t.Errorf("Unexpected control frame: %q", frames[0])
	}
}

func TestInboundFrames(t *testing.T) {
	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	l, err := Dial(context.Background(), wsURL(ts), Options{}, nil)
	if err != nil {
		t.Fatalf("Expected dial to succeed, got: %v", err)
	}
	defer l.Close()

	if err := srv.push(websocket.TextMessage, []byte(`{"message_type":"PartialTranscript"}`)); err != nil {
		t.Fatalf("Failed to push frame: %v", err)
	}

	select {
	case frame := <-l.Frames():
		if frame.Binary {
			t.Error("Expected text frame, got binary")
		}
		if string(frame.Data) != `{"message_type":"PartialTranscript"}` {
			t.Errorf("Unexpected frame data: %q", frame.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for inbound frame")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	l, err := Dial(context.Background(), wsURL(ts), Options{}, nil)
	if err != nil {
		t.Fatalf("Expected dial to succeed, got: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Errorf("Expected first close to succeed, got: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got: %v", err)
	}

	// Frames channel must be closed after teardown
	select {
	case _, ok := <-l.Frames():
		if ok {
			t.Error("Expected frames channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frames channel to close")
	}

	if err := l.Err(); err != nil {
		t.Errorf("Expected no terminal error after local close, got: %v", err)
	}

	if err := l.SendAudio([]byte{0x01}); err == nil {
		t.Error("Expected send on closed link to fail")
	}
}

func TestFramesCloseOnRemoteTermination(t *testing.T) {
	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	l, err := Dial(context.Background(), wsURL(ts), Options{}, nil)
	if err != nil {
		t.Fatalf("Expected dial to succeed, got: %v", err)
	}
	defer l.Close()

	<-srv.ready
	srv.mu.Lock()
	srv.conn.Close()
	srv.mu.Unlock()

	select {
	case _, ok := <-l.Frames():
		if ok {
			t.Error("Expected frames channel to be closed after remote termination")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frames channel to close")
	}

	if err := l.Err(); err == nil {
		t.Error("Expected terminal transport error after abnormal remote close")
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name        string
		endpoint    string
		sampleRate  int
		token       string
		expected    string
		expectError bool
	}{
		{
			name:       "sample rate only",
			endpoint:   "wss://api.example.com/v2/realtime/ws",
			sampleRate: 16000,
			expected:   "wss://api.example.com/v2/realtime/ws?sample_rate=16000",
		},
		{
			name:       "with token",
			endpoint:   "wss://api.example.com/v2/realtime/ws",
			sampleRate: 8000,
			token:      "tok123",
			expected:   "wss://api.example.com/v2/realtime/ws?sample_rate=8000&token=tok123",
		},
		{
			name:        "invalid endpoint",
			endpoint:    "://bad",
			sampleRate:  16000,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := BuildURL(tt.endpoint, tt.sampleRate, tt.token)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}

			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}
