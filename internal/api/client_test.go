// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "admin", "admin")
}

func TestCreateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create-session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "admin" {
			t.Error("basic auth not set")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id": "sess-123"}`))
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "sess-123" {
		t.Errorf("session id = %q, want sess-123", id)
	}
}

func TestCreateSession_EmptyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).CreateSession(context.Background()); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestCreateSession_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"session_id": "sess-after-retry"}`))
	}))
	defer server.Close()

	id, err := newTestClient(server.URL).CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id != "sess-after-retry" {
		t.Errorf("session id = %q", id)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestCreateSession_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail": "bad credentials"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).CreateSession(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("error = %v, want ErrAuthFailed", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1 (auth failures must not retry)", got)
	}
}

func TestDeleteSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/delete-session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["session_id"] != "sess-123" {
			t.Errorf("session_id = %q", body["session_id"])
		}
		w.Write([]byte(`{"status": "deleted"}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).DeleteSession(context.Background(), "sess-123"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "no such session"}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).DeleteSession(context.Background(), "gone")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["query"] != "hello" {
			t.Errorf("query = %v", body["query"])
		}
		if body["session_id"] != "sess-1" {
			t.Errorf("session_id = %v", body["session_id"])
		}
		w.Write([]byte(`{"response": "hi there", "processing_time_seconds": 1.5}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Query(context.Background(), "hello", "sess-1")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Response != "hi there" {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v, want 1.5s", resp.Duration)
	}
}

func TestQuery_SessionlessOmitsID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if _, present := body["session_id"]; present {
			t.Error("session_id should be omitted for sessionless queries")
		}
		w.Write([]byte(`{"response": "standalone answer"}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Query(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if resp.Response != "standalone answer" {
		t.Errorf("response = %q", resp.Response)
	}
	// Duration falls back to observed round trip when the service omits it
	if resp.Duration <= 0 {
		t.Error("duration should be filled from the round trip")
	}
}

func TestQuery_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"response": "too late"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := newTestClient(server.URL).Query(ctx, "hello", ""); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestQueryWithSessionRetry_FreshSessionOnStale(t *testing.T) {
	var createCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/create-session":
			createCalls.Add(1)
			w.Write([]byte(`{"session_id": "sess-new"}`))
		case "/query":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["session_id"] == "sess-stale" {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"detail": "session expired"}`))
				return
			}
			w.Write([]byte(`{"response": "fresh answer"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	resp, newID, err := newTestClient(server.URL).QueryWithSessionRetry(context.Background(), "hello", "sess-stale")
	if err != nil {
		t.Fatalf("QueryWithSessionRetry failed: %v", err)
	}
	if resp.Response != "fresh answer" {
		t.Errorf("response = %q", resp.Response)
	}
	if newID != "sess-new" {
		t.Errorf("new session id = %q, want sess-new", newID)
	}
	if got := createCalls.Load(); got != 1 {
		t.Errorf("create-session called %d times, want 1", got)
	}
}

func TestQueryWithSessionRetry_NoRetryWithoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, id, err := newTestClient(server.URL).QueryWithSessionRetry(context.Background(), "hello", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if id != "" {
		t.Errorf("session id = %q, want empty", id)
	}
}

func TestHandleErrorResponse(t *testing.T) {
	client := NewClient("http://localhost", "u", "p")

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail": "nope"}`, ErrAuthFailed},
		{"forbidden", http.StatusForbidden, ``, ErrAuthFailed},
		{"not found", http.StatusNotFound, `{"detail": "missing"}`, ErrSessionNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, ErrRateLimited},
		{"busy", http.StatusServiceUnavailable, `overloaded`, ErrServerBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.handleErrorResponse(tt.status, []byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandleErrorResponse_GenericAPIError(t *testing.T) {
	client := NewClient("http://localhost", "u", "p")

	err := client.handleErrorResponse(http.StatusBadRequest, []byte(`{"detail": "malformed"}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d", apiErr.Status)
	}
	if apiErr.Message != "malformed" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	client := NewClient("http://localhost", "u", "p")

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", ErrRateLimited, true},
		{"server busy", ErrServerBusy, true},
		{"5xx api error", &APIError{Status: 502}, true},
		{"4xx api error", &APIError{Status: 400}, false},
		{"auth failed", ErrAuthFailed, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	client := NewClient("http://localhost", "u", "p")

	if d := client.calculateBackoff(1); d != 1*time.Second {
		t.Errorf("backoff(1) = %v, want 1s", d)
	}
	if d := client.calculateBackoff(2); d != 2*time.Second {
		t.Errorf("backoff(2) = %v, want 2s", d)
	}
	if d := client.calculateBackoff(20); d != retryMaxDelay {
		t.Errorf("backoff(20) = %v, want cap %v", d, retryMaxDelay)
	}
}

func TestClientMethodChaining(t *testing.T) {
	client := NewClient("http://example.com", "u", "p").
		WithMaxRetries(5)

	if client.maxRetries != 5 {
		t.Errorf("maxRetries = %d, want 5", client.maxRetries)
	}
	if client.BaseURL() != "http://example.com" {
		t.Errorf("baseURL = %q", client.BaseURL())
	}
}

func TestNotConfigured(t *testing.T) {
	client := &Client{}

	if _, err := client.CreateSession(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CreateSession error = %v, want ErrNotConfigured", err)
	}
	if err := client.DeleteSession(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("DeleteSession error = %v, want ErrNotConfigured", err)
	}
	if _, err := client.Query(context.Background(), "q", ""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Query error = %v, want ErrNotConfigured", err)
	}
}
