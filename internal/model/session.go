package model

import (
	"time"

	"github.com/goccy/go-json"
)

// SessionStatus is the lifecycle state of a relay session.
type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusClosed SessionStatus = "closed"
)

// Session represents one realtime connection held by the relay service.
type Session struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Model     string            `json:"model"`
	URL       string            `json:"url"`
	Status    SessionStatus     `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	ClosedAt  *time.Time        `json:"closed_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	EventsIn  int    `json:"events_in"`
	EventsOut int    `json:"events_out"`
	LastError string `json:"last_error,omitempty"`
}

// CreateSessionRequest is the request to open a new realtime session.
type CreateSessionRequest struct {
	Model    string            `json:"model,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CloseSessionRequest carries an optional close code and reason.
type CloseSessionRequest struct {
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ListSessionsResponse is the response for listing sessions.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// EnvelopeKind distinguishes relayed server events from relay errors.
type EnvelopeKind string

const (
	EnvelopeKindEvent EnvelopeKind = "event"
	EnvelopeKindError EnvelopeKind = "error"
)

// Envelope is what the relay persists and streams for every inbound event
// or synthesized error.
type Envelope struct {
	Kind      EnvelopeKind    `json:"kind"`
	TenantID  string          `json:"tenant_id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Sequence  uint64          `json:"sequence,omitempty"`
}

// RelayError is the payload of an error envelope.
type RelayError struct {
	Message string       `json:"message"`
	EventID string       `json:"event_id,omitempty"`
	Detail  *ErrorDetail `json:"error,omitempty"`
	Cause   string       `json:"cause,omitempty"`
}

// ListEventsResponse is a page of stored envelopes.
type ListEventsResponse struct {
	Events       []Envelope `json:"events"`
	HasMore      bool       `json:"has_more"`
	LastSequence uint64     `json:"last_sequence"`
}

// ReplayCompleteEvent marks the end of replay on a stream.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
