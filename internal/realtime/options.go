package realtime

import (
	"net/http"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/internal/transport"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
	"github.com/capitalize-ai/realtime-relay/pkg/metrics"
)

const tracerName = "github.com/capitalize-ai/realtime-relay/internal/realtime"

// isBrowserLike reports whether secrets handed to this process could end up
// in front of an end user. Go compiled to WebAssembly for the browser runs
// with GOOS=js.
var isBrowserLike = func() bool {
	return runtime.GOOS == "js"
}

// Option configures a Relay.
type Option func(*config)

type pendingListener struct {
	name    string
	handler EventHandler
}

type config struct {
	dialer         transport.Dialer
	logger         *logger.Logger
	header         http.Header
	listeners      []pendingListener
	errorListeners []ErrorHandler
	onUnhandled    func(*UnhandledError)
	tracer         trace.Tracer
}

func newConfig(opts []Option) *config {
	cfg := &config{
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.dialer == nil {
		cfg.dialer = transport.NewWebSocketDialer()
	}
	if cfg.logger == nil {
		cfg.logger = logger.Global()
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	if cfg.onUnhandled == nil {
		log := cfg.logger
		cfg.onUnhandled = func(err *UnhandledError) {
			log.Error("unhandled realtime error",
				zap.String("message", err.Err.Message),
				zap.String("event_id", err.Err.EventID),
				zap.NamedError("cause", err.Err.Cause),
				zap.String("hint", unhandledHint),
			)
		}
	}
	return cfg
}

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// WithLogger sets the logger; the relay adds its id and model as fields.
func WithLogger(l *logger.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithHeader adds a handshake header.
func WithHeader(key, value string) Option {
	return func(c *config) {
		c.header.Add(key, value)
	}
}

// WithListener registers an event listener before the connection opens, so
// no early frame is missed.
func WithListener(name string, handler EventHandler) Option {
	return func(c *config) {
		c.listeners = append(c.listeners, pendingListener{name: name, handler: handler})
	}
}

// WithErrorListener registers an error listener before the connection opens.
func WithErrorListener(handler ErrorHandler) Option {
	return func(c *config) {
		c.errorListeners = append(c.errorListeners, handler)
	}
}

// WithUnhandledErrorHandler receives errors emitted while no error listener
// is registered. The default logs them at error level.
func WithUnhandledErrorHandler(h func(*UnhandledError)) Option {
	return func(c *config) {
		c.onUnhandled = h
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *config) {
		c.tracer = t
	}
}

func panicReporter(log *logger.Logger) func(channel string, recovered any) {
	return func(channel string, recovered any) {
		metrics.ListenerPanicsTotal.WithLabelValues(channel).Inc()
		log.Error("realtime listener panicked",
			zap.String("channel", channel),
			zap.Any("panic", recovered),
		)
	}
}
