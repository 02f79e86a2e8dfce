// Package model defines data structures for the realtime relay.
package model

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Server event types the relay knows by name. Any other type string is
// passed through untouched.
const (
	EventTypeError                        = "error"
	EventTypeSessionCreated               = "session.created"
	EventTypeSessionUpdated               = "session.updated"
	EventTypeConversationCreated          = "conversation.created"
	EventTypeConversationItemCreated      = "conversation.item.created"
	EventTypeInputAudioBufferCommitted    = "input_audio_buffer.committed"
	EventTypeInputAudioBufferCleared      = "input_audio_buffer.cleared"
	EventTypeInputAudioBufferSpeechStart  = "input_audio_buffer.speech_started"
	EventTypeInputAudioBufferSpeechStop   = "input_audio_buffer.speech_stopped"
	EventTypeResponseCreated              = "response.created"
	EventTypeResponseDone                 = "response.done"
	EventTypeResponseTextDelta            = "response.text.delta"
	EventTypeResponseAudioDelta           = "response.audio.delta"
	EventTypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	EventTypeRateLimitsUpdated            = "rate_limits.updated"
)

// Client event types.
const (
	EventTypeSessionUpdate          = "session.update"
	EventTypeInputAudioBufferAppend = "input_audio_buffer.append"
	EventTypeInputAudioBufferCommit = "input_audio_buffer.commit"
	EventTypeInputAudioBufferClear  = "input_audio_buffer.clear"
	EventTypeConversationItemCreate = "conversation.item.create"
	EventTypeResponseCreate         = "response.create"
	EventTypeResponseCancel         = "response.cancel"
)

// ErrInvalidEvent is returned when a frame is not a JSON object with a type.
var ErrInvalidEvent = errors.New("event must be a JSON object with a non-empty type")

// ServerEvent is an inbound frame decoded far enough to route it. Raw holds
// the frame exactly as received.
type ServerEvent struct {
	Type    string
	EventID string
	Raw     json.RawMessage
}

// ParseServerEvent decodes a frame. A literal null yields (nil, nil); any
// other value that is not a JSON object is an error. Type and EventID are
// read only when they are strings.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	if head == nil {
		return nil, nil
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	return &ServerEvent{
		Type:    stringField(head, "type"),
		EventID: stringField(head, "event_id"),
		Raw:     raw,
	}, nil
}

func stringField(head map[string]json.RawMessage, key string) string {
	var s string
	if v, ok := head[key]; ok && json.Unmarshal(v, &s) == nil {
		return s
	}
	return ""
}

// Decode unmarshals the raw frame into v.
func (e *ServerEvent) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// MarshalJSON returns the frame unchanged.
func (e *ServerEvent) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return []byte("null"), nil
	}
	return e.Raw, nil
}

// ErrorDetail is the error descriptor nested in an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ErrorEvent is sent by the server when something went wrong with a client
// event or the session.
type ErrorEvent struct {
	Type    string       `json:"type"`
	EventID string       `json:"event_id,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// SessionUpdatedEvent is returned after session.update.
type SessionUpdatedEvent struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

// ResponseTextDeltaEvent carries a streamed text fragment.
type ResponseTextDeltaEvent struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id,omitempty"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// ClientEvent is any event that can be sent to the server.
type ClientEvent interface {
	EventType() string
}

// SessionConfig is the mutable part of a realtime session.
type SessionConfig struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     map[string]any `json:"turn_detection,omitempty"`
	Tools             []any          `json:"tools,omitempty"`
	ToolChoice        string         `json:"tool_choice,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
}

// SessionUpdateEvent updates the session configuration.
type SessionUpdateEvent struct {
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

func (SessionUpdateEvent) EventType() string { return EventTypeSessionUpdate }

func (e SessionUpdateEvent) MarshalJSON() ([]byte, error) {
	type alias SessionUpdateEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// InputAudioBufferAppendEvent appends base64 audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	EventID string `json:"event_id,omitempty"`
	Audio   string `json:"audio"`
}

func (InputAudioBufferAppendEvent) EventType() string { return EventTypeInputAudioBufferAppend }

func (e InputAudioBufferAppendEvent) MarshalJSON() ([]byte, error) {
	type alias InputAudioBufferAppendEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// InputAudioBufferCommitEvent commits the input buffer as a user message.
type InputAudioBufferCommitEvent struct {
	EventID string `json:"event_id,omitempty"`
}

func (InputAudioBufferCommitEvent) EventType() string { return EventTypeInputAudioBufferCommit }

func (e InputAudioBufferCommitEvent) MarshalJSON() ([]byte, error) {
	type alias InputAudioBufferCommitEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// InputAudioBufferClearEvent discards the input buffer.
type InputAudioBufferClearEvent struct {
	EventID string `json:"event_id,omitempty"`
}

func (InputAudioBufferClearEvent) EventType() string { return EventTypeInputAudioBufferClear }

func (e InputAudioBufferClearEvent) MarshalJSON() ([]byte, error) {
	type alias InputAudioBufferClearEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// ConversationItem is a message, function call or function call output.
type ConversationItem struct {
	ID      string           `json:"id,omitempty"`
	Type    string           `json:"type"`
	Role    string           `json:"role,omitempty"`
	Content []map[string]any `json:"content,omitempty"`
	CallID  string           `json:"call_id,omitempty"`
	Name    string           `json:"name,omitempty"`
	Output  string           `json:"output,omitempty"`
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	EventID        string           `json:"event_id,omitempty"`
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

func (ConversationItemCreateEvent) EventType() string { return EventTypeConversationItemCreate }

func (e ConversationItemCreateEvent) MarshalJSON() ([]byte, error) {
	type alias ConversationItemCreateEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// ResponseCreateEvent asks the server to generate a response.
type ResponseCreateEvent struct {
	EventID  string         `json:"event_id,omitempty"`
	Response *SessionConfig `json:"response,omitempty"`
}

func (ResponseCreateEvent) EventType() string { return EventTypeResponseCreate }

func (e ResponseCreateEvent) MarshalJSON() ([]byte, error) {
	type alias ResponseCreateEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// ResponseCancelEvent cancels an in-progress response.
type ResponseCancelEvent struct {
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
}

func (ResponseCancelEvent) EventType() string { return EventTypeResponseCancel }

func (e ResponseCancelEvent) MarshalJSON() ([]byte, error) {
	type alias ResponseCancelEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.EventType(), alias(e)})
}

// RawEvent is a client event received pre-encoded, e.g. from HTTP or NATS.
type RawEvent struct {
	typ  string
	body json.RawMessage
}

// NewRawEvent validates data as a JSON object carrying a string type.
func NewRawEvent(data []byte) (*RawEvent, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil || head == nil {
		return nil, ErrInvalidEvent
	}
	var typ string
	if err := json.Unmarshal(head["type"], &typ); err != nil || typ == "" {
		return nil, ErrInvalidEvent
	}

	body := make(json.RawMessage, len(data))
	copy(body, data)
	return &RawEvent{typ: typ, body: body}, nil
}

func (e *RawEvent) EventType() string { return e.typ }

func (e *RawEvent) MarshalJSON() ([]byte, error) {
	if len(e.body) == 0 {
		return nil, fmt.Errorf("raw event %q has no body", e.typ)
	}
	return e.body, nil
}
