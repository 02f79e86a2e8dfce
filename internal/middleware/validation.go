package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxEventBytes    = 15 * 1024 * 1024
	maxModelLength   = 128
	maxMetadataPairs = 16
	maxMetadataValue = 512
)

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateModel validates an optional model or deployment name.
func ValidateModel(model string) error {
	if len(model) > maxModelLength {
		return errors.New("model exceeds maximum length")
	}
	if strings.ContainsAny(model, " /?#&") {
		return errors.New("model contains invalid characters")
	}
	return nil
}

// ValidateMetadata bounds session metadata.
func ValidateMetadata(metadata map[string]string) error {
	if len(metadata) > maxMetadataPairs {
		return errors.New("too many metadata entries")
	}
	for k, v := range metadata {
		if k == "" {
			return errors.New("metadata keys cannot be empty")
		}
		if len(v) > maxMetadataValue {
			return errors.New("metadata value exceeds maximum length")
		}
	}
	return nil
}

// ValidateCloseCode accepts 0 (use the default), 1000, and the
// application range 3000-4999.
func ValidateCloseCode(code int) error {
	if code == 0 || code == 1000 || (code >= 3000 && code <= 4999) {
		return nil
	}
	return errors.New("close code must be 1000 or between 3000 and 4999")
}

// ValidateCloseReason keeps the reason within a websocket control frame.
func ValidateCloseReason(reason string) error {
	if len(reason) > 123 {
		return errors.New("close reason exceeds 123 bytes")
	}
	if !utf8.ValidString(reason) {
		return errors.New("close reason must be valid UTF-8")
	}
	return nil
}

// ValidateEventPayload bounds a client event body.
func ValidateEventPayload(body []byte) error {
	if len(body) == 0 {
		return errors.New("event cannot be empty")
	}
	if len(body) > maxEventBytes {
		return errors.New("event exceeds maximum size")
	}
	if !utf8.Valid(body) {
		return errors.New("event must be valid UTF-8")
	}
	return nil
}

// MaxEventBytes is the largest accepted client event body.
func MaxEventBytes() int64 {
	return maxEventBytes
}
