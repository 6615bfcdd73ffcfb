// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"time"
)

// createSessionResponse is the body returned by POST /create-session.
type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// deleteSessionRequest is the body sent to POST /delete-session.
type deleteSessionRequest struct {
	SessionID string `json:"session_id"`
}

// queryRequest is the body sent to POST /query. SessionID is omitted
// entirely for sessionless queries.
type queryRequest struct {
	Query     string  `json:"query"`
	SessionID *string `json:"session_id,omitempty"`
}

// QueryResponse is the answer to a model query.
type QueryResponse struct {
	// Response is the raw model output. It is untrusted text and must go
	// through the sanitizer before being shown to anyone.
	Response string `json:"response"`

	// Duration is how long the service reported spending on the query.
	// Zero if the service omitted it; the client then fills in the
	// observed round-trip time.
	Duration time.Duration `json:"-"`
}

// UnmarshalJSON tolerates both a bare answer and the metadata-carrying form.
// The service reports processing time in fractional seconds.
func (r *QueryResponse) UnmarshalJSON(data []byte) error {
	var aux struct {
		Response       string  `json:"response"`
		ProcessingSecs float64 `json:"processing_time_seconds"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Response = aux.Response
	if aux.ProcessingSecs > 0 {
		r.Duration = time.Duration(aux.ProcessingSecs * float64(time.Second))
	}
	return nil
}

// errorResponse is the JSON error shape the service uses for failures.
type errorResponse struct {
	Detail string `json:"detail"`
}
