package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultExpiresIn = 3600

// Client issues short-lived temporary tokens from the remote provider's
// token endpoint. Temporary tokens let the realtime link authenticate
// without embedding the long-lived API key in the connection URL.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a token client for the given endpoint
func NewClient(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("token endpoint cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}, nil
}

type tokenRequest struct {
	ExpiresIn int `json:"expires_in"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// IssueTemporaryToken requests a fresh temporary token, retrying transient
// failures with exponential backoff
func (c *Client) IssueTemporaryToken(ctx context.Context) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Warn("Retrying token request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("last_error", lastErr.Error()),
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		token, err := c.requestToken(ctx)
		if err == nil {
			return token, nil
		}
		lastErr = err

		if !isRetryable(err) {
			break
		}
	}

	return "", fmt.Errorf("token request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{ExpiresIn: defaultExpiresIn})
	if err != nil {
		return "", fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transientError{fmt.Errorf("token request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{fmt.Errorf("failed to read token response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(data))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", &transientError{err}
		}
		return "", err
	}

	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}

	return tr.Token, nil
}

// transientError marks failures worth retrying
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(*transientError)
	return ok
}
