// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the remote model service.
//
// The service exposes three endpoints: session creation, session deletion,
// and querying. All requests use HTTP basic auth. Session operations are
// retried with exponential backoff; queries are not retried automatically
// because a slow model is not a transient failure.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Configuration constants for the model service API.
const (
	// DefaultBaseURL is the default model service address.
	DefaultBaseURL = "http://localhost:8020"

	// DefaultTimeout is the default timeout for session requests.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 1 * 1024 * 1024 // 1MB limit
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client for all model service requests. Timeouts are
// controlled per-request via context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Sentinel errors for model service failures.
var (
	// ErrNotConfigured indicates the client has no base URL configured.
	ErrNotConfigured = errors.New("model service not configured")

	// ErrAuthFailed indicates invalid basic-auth credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the service is rate limiting requests.
	ErrRateLimited = errors.New("rate limited")

	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrServerBusy indicates the service rejected the request under load.
	ErrServerBusy = errors.New("server busy")
)

// APIError represents an error response from the model service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("model service error (status %d)", e.Status)
	}
	return fmt.Sprintf("model service error (status %d): %s", e.Status, e.Message)
}

// Client is an HTTP client for the model service.
type Client struct {
	baseURL    string
	username   string
	password   string
	maxRetries int
	httpClient *http.Client
}

// NewClient creates a new model service client.
func NewClient(baseURL, username, password string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		maxRetries: DefaultMaxRetries,
		httpClient: sharedHTTPClient,
	}
}

// WithMaxRetries sets the retry count for session operations.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	if maxRetries > 0 {
		c.maxRetries = maxRetries
	}
	return c
}

// WithHTTPClient sets a custom HTTP client (used in tests).
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsConfigured returns true if the client has a base URL set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// =============================================================================
// OPERATIONS
// =============================================================================

// CreateSession creates a new conversation session on the model service and
// returns its id. Retried with exponential backoff on transient errors.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	var resp createSessionResponse
	err := c.doWithRetry(ctx, http.MethodPost, "/create-session", nil, &resp)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create session: empty session id in response")
	}
	return resp.SessionID, nil
}

// DeleteSession deletes a conversation session on the model service.
// Deleting a session that no longer exists returns ErrSessionNotFound;
// callers treat that as success when tearing state down.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	if sessionID == "" {
		return errors.New("delete session: empty session id")
	}

	req := deleteSessionRequest{SessionID: sessionID}
	if err := c.doWithRetry(ctx, http.MethodPost, "/delete-session", req, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Query sends a question to the model service. When sessionID is non-empty
// the service answers with conversation memory; otherwise the question stands
// alone. Queries are not retried: the caller's context bounds the wait.
func (c *Client) Query(ctx context.Context, question, sessionID string) (*QueryResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if question == "" {
		return nil, errors.New("query: empty question")
	}

	req := queryRequest{Query: question}
	if sessionID != "" {
		req.SessionID = &sessionID
	}

	start := time.Now()
	var resp QueryResponse
	if err := c.do(ctx, http.MethodPost, "/query", req, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if resp.Duration == 0 {
		resp.Duration = time.Since(start)
	}
	return &resp, nil
}

// QueryWithSessionRetry sends a question with a session. If the query fails
// with a session-level error, a fresh session is created once and the query
// retried against it. The (possibly new) session id is returned alongside the
// response so the caller can update its records.
func (c *Client) QueryWithSessionRetry(ctx context.Context, question, sessionID string) (*QueryResponse, string, error) {
	resp, err := c.Query(ctx, question, sessionID)
	if err == nil {
		return resp, sessionID, nil
	}
	if sessionID == "" || !isSessionError(err) {
		return nil, sessionID, err
	}

	log.Printf("[api] session %s rejected, creating replacement", sessionID)

	newID, createErr := c.CreateSession(ctx)
	if createErr != nil {
		return nil, sessionID, fmt.Errorf("query retry: %w", createErr)
	}
	resp, err = c.Query(ctx, question, newID)
	if err != nil {
		return nil, newID, err
	}
	return resp, newID, nil
}

// isSessionError reports whether an error indicates a stale or missing session.
func isSessionError(err error) bool {
	if errors.Is(err, ErrSessionNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone
	}
	return false
}

// =============================================================================
// TRANSPORT
// =============================================================================

// doWithRetry performs a request with retry logic and exponential backoff.
// Retries on 5xx errors and rate limiting, never on auth failures or
// context cancellation.
func (c *Client) doWithRetry(ctx context.Context, method, path string, reqBody, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// Apply backoff delay after first attempt
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.do(ctx, method, path, reqBody, out)
		if err == nil {
			return nil
		}
		if !c.isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs a single HTTP request against the model service.
//
// SECURITY: Credentials travel only in the Authorization header and are
// never logged; logging covers method, path, status, and duration.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		bodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		log.Printf("[api] %s %s failed after %s: connection error", method, path, duration.Round(time.Millisecond))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[api] %s %s -> %d (%s)", method, path, resp.StatusCode, duration.Round(time.Millisecond))

	respBody, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// readResponse reads the response body with size limits.
//
// SECURITY: Response size limit prevents memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to Go errors.
// Bodies may be JSON {"detail": ...} or arbitrary text; both are tolerated.
func (c *Client) handleErrorResponse(statusCode int, body []byte) error {
	message := ""
	var detail errorResponse
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		message = detail.Detail
	} else if len(body) > 0 && len(body) < 512 {
		message = string(body)
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, message)
		}
		return ErrAuthFailed
	case http.StatusNotFound, http.StatusGone:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, message)
		}
		return ErrSessionNotFound
	case http.StatusTooManyRequests:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrRateLimited, message)
		}
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrServerBusy, message)
		}
		return ErrServerBusy
	default:
		return &APIError{Status: statusCode, Message: message}
	}
}

// isRetryable determines if an error should trigger a retry.
func (c *Client) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerBusy) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	// Connection-level failures are retryable for idempotent session operations
	var urlErr *url.Error
	return errors.As(err, &urlErr) || errors.Is(err, io.EOF)
}

// calculateBackoff returns the delay to wait before the next retry.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
