// Package main is the entry point for the realtime relay server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-relay/internal/config"
	"github.com/capitalize-ai/realtime-relay/internal/handler"
	"github.com/capitalize-ai/realtime-relay/internal/llm"
	natsclient "github.com/capitalize-ai/realtime-relay/internal/nats"
	"github.com/capitalize-ai/realtime-relay/internal/realtime"
	"github.com/capitalize-ai/realtime-relay/internal/service"
	"github.com/capitalize-ai/realtime-relay/internal/transport"
	"github.com/capitalize-ai/realtime-relay/pkg/logger"
	"github.com/capitalize-ai/realtime-relay/pkg/tracing"
)

const serviceName = "realtime-relay"

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting relay server", zap.Bool("azure", cfg.UseAzure()))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer natsClient.Close()

	eventStream := natsclient.NewEventStream(natsClient)
	if err := eventStream.EnsureStream(ctx); err != nil {
		log.Fatal("failed to ensure stream", zap.Error(err))
	}

	connect, defaultTarget := newConnector(cfg)

	catalog, err := newCatalog(cfg)
	if err != nil {
		log.Warn("model catalog disabled", zap.Error(err))
	}

	sessionSvc := service.NewSessionService(connect, eventStream, eventStream, defaultTarget, log,
		service.WithClosedRetention(cfg.SessionRetention),
	)

	routerCfg := handler.RouterConfig{
		Sessions:          sessionSvc,
		NATS:              natsClient,
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		AllowedOrigins:    cfg.AllowedOrigins,
	}
	if catalog != nil {
		routerCfg.Models = catalog
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Closing sessions ends their SSE streams, which lets Shutdown drain.
	if err := sessionSvc.Shutdown(shutdownCtx); err != nil {
		log.Error("sessions did not close cleanly", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newConnector picks the realtime backend and returns the target used when
// a session does not name one.
func newConnector(cfg *config.Config) (service.Connector, string) {
	dialer := transport.NewWebSocketDialer(
		transport.WithHandshakeTimeout(cfg.HandshakeTimeout),
		transport.WithReadBufferSize(cfg.ReadBufferSize),
	)

	var base service.Connector
	target := cfg.DefaultModel
	if cfg.UseAzure() {
		opts := []realtime.AzureOption{
			realtime.WithAPIVersion(cfg.AzureAPIVersion),
			realtime.WithDeployment(cfg.AzureDeployment),
			realtime.WithAzureBrowserAllowed(cfg.DangerouslyAllowBrowser),
		}
		if cfg.AzureAPIKey != "" {
			opts = append(opts, realtime.WithAzureAPIKey(cfg.AzureAPIKey))
		} else {
			opts = append(opts, realtime.WithTokenProvider(realtime.StaticToken(cfg.AzureADToken)))
		}
		base = service.AzureConnector(realtime.NewAzureClient(cfg.AzureEndpoint, opts...))
		target = cfg.AzureDeployment
	} else {
		base = service.OpenAIConnector(realtime.NewClient(cfg.OpenAIAPIKey,
			realtime.WithBaseURL(cfg.OpenAIBaseURL),
			realtime.WithOrganization(cfg.OpenAIOrgID),
			realtime.WithProject(cfg.OpenAIProjectID),
			realtime.WithBrowserAllowed(cfg.DangerouslyAllowBrowser),
		))
	}

	connect := func(ctx context.Context, target string, opts ...realtime.Option) (*realtime.Relay, error) {
		return base(ctx, target, append([]realtime.Option{realtime.WithDialer(dialer)}, opts...)...)
	}
	return connect, target
}

func newCatalog(cfg *config.Config) (*llm.Catalog, error) {
	if cfg.UseAzure() {
		return llm.NewAzureCatalog(cfg.AzureEndpoint, cfg.AzureAPIKey, cfg.AzureADToken, cfg.AzureAPIVersion)
	}
	return llm.NewOpenAICatalog(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIOrgID)
}
