package realtime

import (
	"errors"
	"fmt"

	"github.com/capitalize-ai/realtime-relay/internal/model"
)

var (
	// ErrBrowserEnvironment is returned when a relay would expose a long-lived
	// secret in a browser-like runtime.
	ErrBrowserEnvironment = errors.New("realtime: it looks like you're running in a browser-like environment. " +
		"This is disabled by default, as it risks exposing your secret API credentials to attackers. " +
		"You can avoid this error by creating an ephemeral session token: " +
		"https://platform.openai.com/docs/api-reference/realtime-sessions")

	// ErrMissingDeployment is returned by NewAzure without a deployment name.
	ErrMissingDeployment = errors.New("realtime: no deployment name provided")

	// ErrMissingCredentials is returned by NewAzure when neither an API key
	// nor a token is available.
	ErrMissingCredentials = errors.New("realtime: client not instantiated correctly: no API key or token provided")
)

const (
	msgUnknown    = "unknown error"
	msgParse      = "could not parse websocket event"
	msgSend       = "could not send data"
	msgClose      = "could not close the connection"
	unhandledHint = "To resolve these unhandled errors you should register an error listener, " +
		"e.g. relay.OnError(func(err *realtime.Error) { ... })"
)

// Error is the single representation of everything delivered on the error
// channel: remote error events and local parse, transport, send and close
// failures.
type Error struct {
	Message string
	// Detail is the remote error descriptor, if the server sent one.
	Detail *model.ErrorDetail
	// EventID is the id of the remote error event.
	EventID string
	// Cause is the local failure, reachable via errors.Unwrap.
	Cause error
}

func newError(event *model.ErrorEvent, message string, cause error) *Error {
	e := &Error{Cause: cause}

	switch {
	case event != nil && event.Error != nil:
		d := event.Error
		e.Message = fmt.Sprintf("%s code=%s param=%s type=%s event_id=%s",
			d.Message, d.Code, d.Param, d.Type, d.EventID)
	case message != "":
		e.Message = message
	default:
		e.Message = msgUnknown
	}

	if event != nil {
		e.Detail = event.Error
		e.EventID = event.EventID
	}
	return e
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// UnhandledError is what escalates when an error is emitted and nobody is
// listening on the error channel.
type UnhandledError struct {
	Err *Error
}

func (e *UnhandledError) Error() string {
	return e.Err.Message + "\n\n" + unhandledHint
}

func (e *UnhandledError) Unwrap() error { return e.Err }
