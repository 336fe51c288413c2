package batch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	c, err := NewClient(Config{
		Endpoint:      endpoint,
		APIKey:        "test-key",
		Timeout:       5 * time.Second,
		PollInterval:  5 * time.Millisecond,
		MaxRetries:    2,
		MaxConcurrent: 4,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

// fakeProvider implements the three-endpoint batch API surface
type fakeProvider struct {
	uploads     int64
	creates     int64
	polls       int64
	pollsNeeded int64
	finalStatus string
	finalText   string
	finalError  string
}

func (p *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.uploads, 1)
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("upload: expected api key, got %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("upload: expected audio payload")
		}
		json.NewEncoder(w).Encode(uploadResponse{UploadURL: "https://cdn.example/audio-1"})
	})

	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&p.creates, 1)
		var req transcriptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("create: failed to decode body: %v", err)
		}
		if req.AudioURL != "https://cdn.example/audio-1" {
			t.Errorf("create: expected uploaded audio url, got %q", req.AudioURL)
		}
		if !req.LanguageDetection {
			t.Error("create: expected language detection enabled")
		}
		json.NewEncoder(w).Encode(transcriptResponse{ID: "job-1", Status: "queued"})
	})

	mux.HandleFunc("/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&p.polls, 1)
		if n < p.pollsNeeded {
			json.NewEncoder(w).Encode(transcriptResponse{ID: "job-1", Status: "processing"})
			return
		}
		json.NewEncoder(w).Encode(transcriptResponse{
			ID:     "job-1",
			Status: p.finalStatus,
			Text:   p.finalText,
			Error:  p.finalError,
		})
	})

	return mux
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		errorMsg string
	}{
		{
			name:     "empty endpoint",
			config:   Config{APIKey: "key"},
			errorMsg: "endpoint cannot be empty",
		},
		{
			name:     "empty api key",
			config:   Config{Endpoint: "http://localhost"},
			errorMsg: "API key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, testLogger())
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "http://localhost", APIKey: "key"}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if c.config.Timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", c.config.Timeout)
	}
	if c.config.MaxConcurrent != 10 {
		t.Errorf("expected default max concurrent 10, got %d", c.config.MaxConcurrent)
	}
	if c.config.PollInterval != 3*time.Second {
		t.Errorf("expected default poll interval 3s, got %v", c.config.PollInterval)
	}
}

func TestTranscribePipeline(t *testing.T) {
	provider := &fakeProvider{
		pollsNeeded: 3,
		finalStatus: "completed",
		finalText:   "hello world",
	}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	result, err := c.Transcribe(context.Background(), []byte("fake-wav-bytes"))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if result.Text != "hello world" {
		t.Errorf("expected transcript text %q, got %q", "hello world", result.Text)
	}
	if result.Status != "completed" {
		t.Errorf("expected completed status, got %q", result.Status)
	}
	if got := atomic.LoadInt64(&provider.uploads); got != 1 {
		t.Errorf("expected 1 upload, got %d", got)
	}
	if got := atomic.LoadInt64(&provider.polls); got != 3 {
		t.Errorf("expected 3 polls before completion, got %d", got)
	}

	stats := c.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("expected 1 total and 1 success, got %d/%d",
			stats.TotalRequests, stats.SuccessRequests)
	}
	if stats.SuccessRate != 100 {
		t.Errorf("expected 100%% success rate, got %.1f", stats.SuccessRate)
	}
}

func TestTranscribeJobError(t *testing.T) {
	provider := &fakeProvider{
		pollsNeeded: 1,
		finalStatus: "error",
		finalError:  "audio too short",
	}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.Transcribe(context.Background(), []byte("tiny"))
	if err == nil {
		t.Fatal("expected error for failed transcript job")
	}
	if !strings.Contains(err.Error(), "audio too short") {
		t.Errorf("expected provider error detail, got %q", err.Error())
	}

	stats := c.GetStats()
	if stats.FailedRequests != 1 {
		t.Errorf("expected 1 failed request, got %d", stats.FailedRequests)
	}
}

func TestTranscribeUploadRejected(t *testing.T) {
	var uploads int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&uploads, 1)
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	if _, err := c.Transcribe(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error for rejected upload")
	}
	// 4xx responses are not retried
	if got := atomic.LoadInt64(&uploads); got != 1 {
		t.Errorf("expected 1 upload attempt, got %d", got)
	}
}

func TestTranscribeContextCancelledDuringPoll(t *testing.T) {
	provider := &fakeProvider{
		pollsNeeded: 1 << 30, // never completes
		finalStatus: "completed",
	}
	srv := httptest.NewServer(provider.handler(t))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Transcribe(ctx, []byte("x")); err == nil {
		t.Fatal("expected error when context expires during polling")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		errText   string
		retryable bool
	}{
		{"server error", "HTTP error 503: unavailable", true},
		{"rate limited", "HTTP error 429: slow down", true},
		{"connection refused", "dial tcp: connection refused", true},
		{"client error", "HTTP error 400: bad request", false},
		{"auth error", "HTTP error 401: unauthorized", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &testError{tt.errText}
			if got := isRetryableError(err); got != tt.retryable {
				t.Errorf("isRetryableError(%q) = %v, want %v", tt.errText, got, tt.retryable)
			}
		})
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
