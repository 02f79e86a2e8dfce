// Package realtime relays JSON events over a realtime websocket connection
// and republishes inbound events on named listener channels.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/internal/emitter"
	"github.com/capitalize-ai/realtime-relay/internal/model"
	"github.com/capitalize-ai/realtime-relay/internal/transport"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
	"github.com/capitalize-ai/realtime-relay/pkg/metrics"
)

const (
	// ChannelEvent receives every inbound event.
	ChannelEvent = "event"
	// ChannelError receives *Error values; subscribe with OnError.
	ChannelError = "error"

	// CloseNormal is the websocket normal-closure status code.
	CloseNormal        = 1000
	defaultCloseReason = "OK"
)

// ErrErrorChannel is returned by On for the error channel, whose payload
// type differs from the event channels.
var ErrErrorChannel = errors.New("realtime: use OnError to listen on the error channel")

// EventHandler receives inbound events.
type EventHandler func(*model.ServerEvent)

// ErrorHandler receives errors emitted on the error channel.
type ErrorHandler func(*Error)

// Params configures New.
type Params struct {
	Model string
	// DangerouslyAllowBrowser overrides the browser gate. When nil, the
	// client's setting applies, and ephemeral keys are always allowed.
	DangerouslyAllowBrowser *bool
}

// CloseParams carries the websocket close status.
type CloseParams struct {
	Code   int
	Reason string
}

// Relay owns one realtime connection. Inbound frames are dispatched in
// arrival order from a single goroutine; for each frame the catch-all
// channel is notified before the type channel.
type Relay struct {
	id     string
	model  string
	kind   ClientKind
	url    *url.URL
	conn   transport.Conn
	events *emitter.Emitter[*model.ServerEvent]
	errs   *emitter.Emitter[*Error]
	logger *logger.Logger
	tracer trace.Tracer

	onUnhandled func(*UnhandledError)

	writeMu sync.Mutex
	done    chan struct{}
}

// New connects to the standard realtime endpoint for params.Model.
func New(ctx context.Context, client *Client, params Params, opts ...Option) (*Relay, error) {
	if client == nil {
		return nil, errors.New("realtime: client is required")
	}
	if params.Model == "" {
		return nil, errors.New("realtime: model is required")
	}

	allow := resolveBrowserAllowed(params.DangerouslyAllowBrowser, client.allowBrowser, client.apiKey)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+client.apiKey)
	if client.organization != "" {
		header.Set("OpenAI-Organization", client.organization)
	}
	if client.project != "" {
		header.Set("OpenAI-Project", client.project)
	}

	return open(ctx, client, params.Model, allow, header, nil, opts)
}

func resolveBrowserAllowed(explicit *bool, clientDefault bool, apiKey string) bool {
	if explicit != nil {
		return *explicit
	}
	return clientDefault || isEphemeralKey(apiKey)
}

// open is shared by New and NewAzure. onURL may add credentials to the
// handshake URL; the relay keeps only a redacted copy.
func open(
	ctx context.Context,
	endpoint Endpoint,
	target string,
	allowBrowser bool,
	header http.Header,
	onURL func(*url.URL) error,
	opts []Option,
) (*Relay, error) {
	if !allowBrowser && isBrowserLike() {
		return nil, ErrBrowserEnvironment
	}

	cfg := newConfig(opts)

	dialURL, err := BuildURL(endpoint, target)
	if err != nil {
		return nil, err
	}
	if onURL != nil {
		if err := onURL(dialURL); err != nil {
			return nil, err
		}
	}

	for key, values := range cfg.header {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	id := uuid.Must(uuid.NewV7()).String()
	log := cfg.logger.WithRelay(id, target)

	r := &Relay{
		id:          id,
		model:       target,
		kind:        endpoint.Kind(),
		url:         redactURL(dialURL),
		events:      emitter.New[*model.ServerEvent](emitter.WithPanicHandler(panicReporter(log))),
		errs:        emitter.New[*Error](emitter.WithPanicHandler(panicReporter(log))),
		logger:      log,
		tracer:      cfg.tracer,
		onUnhandled: cfg.onUnhandled,
		done:        make(chan struct{}),
	}

	for _, l := range cfg.listeners {
		if _, err := r.On(l.name, l.handler); err != nil {
			return nil, fmt.Errorf("failed to register listener %q: %w", l.name, err)
		}
	}
	for _, h := range cfg.errorListeners {
		if _, err := r.OnError(h); err != nil {
			return nil, fmt.Errorf("failed to register error listener: %w", err)
		}
	}

	conn, err := r.dial(ctx, cfg.dialer, dialURL.String(), header)
	if err != nil {
		return nil, err
	}
	r.conn = conn

	metrics.ConnectionsActive.Inc()
	go r.readLoop()

	log.Info("realtime connection opened",
		zap.String("url", r.url.String()),
		zap.Stringer("kind", r.kind),
	)

	return r, nil
}

func (r *Relay) dial(ctx context.Context, d transport.Dialer, rawURL string, header http.Header) (transport.Conn, error) {
	ctx, span := r.tracer.Start(ctx, "realtime.dial", trace.WithAttributes(
		attribute.String("realtime.model", r.model),
		attribute.String("realtime.kind", r.kind.String()),
	))
	defer span.End()

	start := time.Now()
	conn, err := d.Dial(ctx, rawURL, header)
	if err != nil {
		metrics.RecordDial(r.kind.String(), "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return nil, fmt.Errorf("failed to connect to realtime endpoint: %w", err)
	}
	metrics.RecordDial(r.kind.String(), "ok", time.Since(start).Seconds())
	return conn, nil
}

// ID returns the relay's unique id.
func (r *Relay) ID() string { return r.id }

// Model returns the model or deployment the relay is connected to.
func (r *Relay) Model() string { return r.model }

// URL returns a copy of the connection URL with credentials redacted.
func (r *Relay) URL() *url.URL { return cloneURL(r.url) }

// Done is closed when the inbound loop stops.
func (r *Relay) Done() <-chan struct{} { return r.done }

// On registers handler on a channel: ChannelEvent or an event type.
func (r *Relay) On(name string, handler EventHandler) (emitter.ListenerID, error) {
	if name == ChannelError {
		return 0, ErrErrorChannel
	}
	if handler == nil {
		return 0, emitter.ErrNilHandler
	}
	return r.events.On(name, emitter.Handler[*model.ServerEvent](handler))
}

// Once registers handler for the next event on name only.
func (r *Relay) Once(name string, handler EventHandler) (emitter.ListenerID, error) {
	if name == ChannelError {
		return 0, ErrErrorChannel
	}
	if handler == nil {
		return 0, emitter.ErrNilHandler
	}
	return r.events.Once(name, emitter.Handler[*model.ServerEvent](handler))
}

// OnError registers handler on the error channel.
func (r *Relay) OnError(handler ErrorHandler) (emitter.ListenerID, error) {
	if handler == nil {
		return 0, emitter.ErrNilHandler
	}
	return r.errs.On(ChannelError, emitter.Handler[*Error](handler))
}

// Off removes a listener registered with On, Once or OnError.
func (r *Relay) Off(name string, id emitter.ListenerID) {
	if name == ChannelError {
		r.errs.Off(ChannelError, id)
		return
	}
	r.events.Off(name, id)
}

// Send writes event as a JSON text frame. Failures are reported on the error
// channel; Send itself never fails.
func (r *Relay) Send(event model.ClientEvent) {
	var eventType string
	if event != nil {
		eventType = event.EventType()
	}

	_, span := r.tracer.Start(context.Background(), "realtime.send", trace.WithAttributes(
		attribute.String("realtime.event_type", eventType),
	))
	defer span.End()

	if err := r.write(event); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, msgSend)
		metrics.RecordError("send")
		r.onError(nil, msgSend, err)
		return
	}
	metrics.RecordFrame("out", eventType)
}

func (r *Relay) write(event model.ClientEvent) (err error) {
	if event == nil {
		return errors.New("event is nil")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panicked: %v", p)
		}
	}()
	return r.conn.WriteMessage(data)
}

// Close asks the transport to shut down, with code 1000 and reason "OK"
// unless params say otherwise. Failures are reported on the error channel.
// Frames already delivered by the transport are still dispatched.
func (r *Relay) Close(params *CloseParams) {
	code, reason := CloseNormal, defaultCloseReason
	if params != nil {
		if params.Code != 0 {
			code = params.Code
		}
		if params.Reason != "" {
			reason = params.Reason
		}
	}

	if err := r.closeConn(code, reason); err != nil {
		metrics.RecordError("close")
		r.onError(nil, msgClose, err)
		return
	}
	r.logger.Info("realtime connection closing", zap.Int("code", code), zap.String("reason", reason))
}

func (r *Relay) closeConn(code int, reason string) (err error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panicked: %v", p)
		}
	}()
	return r.conn.Close(code, reason)
}

func (r *Relay) readLoop() {
	defer close(r.done)
	defer metrics.ConnectionsActive.Dec()

	for {
		data, err := r.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				r.logger.Info("realtime connection closed", zap.Error(err))
				return
			}
			metrics.RecordError("transport")
			r.onError(nil, err.Error(), err)
			return
		}
		r.dispatch(data)
	}
}

func (r *Relay) dispatch(data []byte) {
	event, err := model.ParseServerEvent(data)
	if err != nil {
		metrics.RecordError("parse")
		r.onError(nil, msgParse, err)
		return
	}
	if event == nil {
		return
	}

	metrics.RecordFrame("in", event.Type)
	r.events.Emit(ChannelEvent, event)

	if event.Type == model.EventTypeError {
		var errEvent model.ErrorEvent
		if err := event.Decode(&errEvent); err != nil {
			metrics.RecordError("parse")
			r.onError(nil, msgParse, err)
			return
		}
		metrics.RecordError("remote")
		r.onError(&errEvent, "", nil)
		return
	}

	if event.Type != "" && event.Type != ChannelEvent {
		r.events.Emit(event.Type, event)
	}
}

func (r *Relay) onError(event *model.ErrorEvent, message string, cause error) {
	e := newError(event, message, cause)
	if r.errs.Emit(ChannelError, e) > 0 {
		return
	}
	metrics.UnhandledErrorsTotal.Inc()
	r.onUnhandled(&UnhandledError{Err: e})
}
