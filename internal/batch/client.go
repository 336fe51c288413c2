package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Client provides HTTP client functionality for batch (non-realtime)
// transcription requests: upload the audio, create a transcript job, then
// poll it to completion.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// Config contains batch client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	PollInterval  time.Duration
	MaxRetries    int
	MaxConcurrent int
}

// Result represents a completed batch transcription
type Result struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Status      string    `json:"status"`
	Duration    float64   `json:"audio_duration,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// NewClient creates a new batch transcription client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL          string `json:"audio_url"`
	LanguageDetection bool   `json:"language_detection"`
}

type transcriptResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	AudioDuration float64 `json:"audio_duration"`
}

// Transcribe runs the full batch pipeline for one audio file and blocks
// until the transcript completes, fails, or ctx expires
func (c *Client) Transcribe(ctx context.Context, audio []byte) (*Result, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	uploadURL, err := c.withRetries(ctx, "upload", func() (string, error) {
		return c.upload(ctx, audio)
	})
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	jobID, err := c.withRetries(ctx, "create transcript", func() (string, error) {
		return c.createTranscript(ctx, uploadURL)
	})
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	result, err := c.poll(ctx, jobID)
	if err != nil {
		c.incrementFailedRequests()
		return nil, err
	}

	c.incrementSuccessRequests()
	c.updateAvgResponseTime(time.Since(startTime))

	return result, nil
}

// withRetries runs one pipeline step with exponential backoff
func (c *Client) withRetries(ctx context.Context, step string, fn func() (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			c.logger.Warn("Retrying batch step",
				slog.String("step", step),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
			)

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return "", fmt.Errorf("%s failed after %d attempts: %w", step, c.config.MaxRetries+1, lastErr)
}

// upload sends raw audio bytes and returns the provider's audio URL
func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/upload", bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if ur.UploadURL == "" {
		return "", fmt.Errorf("upload response missing upload_url")
	}

	return ur.UploadURL, nil
}

// createTranscript submits a transcript job for an uploaded audio URL
func (c *Client) createTranscript(ctx context.Context, audioURL string) (string, error) {
	payload, err := json.Marshal(transcriptRequest{
		AudioURL:          audioURL,
		LanguageDetection: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create transcript request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var tr transcriptResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse transcript response: %w", err)
	}
	if tr.ID == "" {
		return "", fmt.Errorf("transcript response missing id")
	}

	return tr.ID, nil
}

// poll checks the transcript job until it reaches a terminal status
func (c *Client) poll(ctx context.Context, jobID string) (*Result, error) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		tr, err := c.getTranscript(ctx, jobID)
		if err != nil {
			if isRetryableError(err) {
				c.logger.Warn("Transient error while polling transcript",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			} else {
				return nil, err
			}
		} else {
			switch tr.Status {
			case "completed":
				return &Result{
					ID:          tr.ID,
					Text:        tr.Text,
					Status:      tr.Status,
					Duration:    tr.AudioDuration,
					ProcessedAt: time.Now(),
				}, nil
			case "error":
				return nil, fmt.Errorf("transcript %s failed: %s", jobID, tr.Error)
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) getTranscript(ctx context.Context, jobID string) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", c.config.APIKey)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var tr transcriptResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	return &tr, nil
}

// do performs one HTTP exchange and returns the response body
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// isRetryableError determines if an error is worth retrying
func isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") || strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (c *Client) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *Client) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *Client) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for all in-flight requests to complete
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
