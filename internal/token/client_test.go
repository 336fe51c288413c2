package token

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

	c, err := NewClient(endpoint, "test-key", 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.retryDelay = time.Millisecond
	return c
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		apiKey   string
		errorMsg string
	}{
		{
			name:     "empty endpoint",
			endpoint: "",
			apiKey:   "key",
			errorMsg: "endpoint cannot be empty",
		},
		{
			name:     "empty api key",
			endpoint: "http://localhost/token",
			apiKey:   "",
			errorMsg: "api key cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.endpoint, tt.apiKey, time.Second, testLogger())
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestIssueTemporaryToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("expected api key in Authorization header, got %q", got)
		}

		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if req.ExpiresIn != 3600 {
			t.Errorf("expected expires_in 3600, got %d", req.ExpiresIn)
		}

		json.NewEncoder(w).Encode(tokenResponse{Token: "temp-token-abc"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	tok, err := c.IssueTemporaryToken(context.Background())
	if err != nil {
		t.Fatalf("IssueTemporaryToken failed: %v", err)
	}
	if tok != "temp-token-abc" {
		t.Errorf("expected token %q, got %q", "temp-token-abc", tok)
	}
}

func TestIssueTemporaryTokenRetriesServerErrors(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(tokenResponse{Token: "recovered"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	tok, err := c.IssueTemporaryToken(context.Background())
	if err != nil {
		t.Fatalf("IssueTemporaryToken failed: %v", err)
	}
	if tok != "recovered" {
		t.Errorf("expected token %q, got %q", "recovered", tok)
	}
	if got := atomic.LoadInt64(&calls); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestIssueTemporaryTokenNoRetryOnAuthFailure(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	if _, err := c.IssueTemporaryToken(context.Background()); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("auth failure should not be retried, got %d requests", got)
	}
}

func TestIssueTemporaryTokenEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenResponse{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.IssueTemporaryToken(context.Background())
	if err == nil {
		t.Fatal("expected error for empty token")
	}
	if !strings.Contains(err.Error(), "empty token") {
		t.Errorf("expected empty token error, got %q", err.Error())
	}
}

func TestIssueTemporaryTokenContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.retryDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.IssueTemporaryToken(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
