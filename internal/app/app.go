// Package app wires the service together: configuration, sink, recognition
// adapter factory, event publisher, session registry, and the HTTP servers.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"meeting-transcription-service/internal/config"
	"meeting-transcription-service/internal/events"
	"meeting-transcription-service/internal/httpapi"
	"meeting-transcription-service/internal/observability"
	"meeting-transcription-service/internal/observability/logging"
	"meeting-transcription-service/internal/service/session"
	"meeting-transcription-service/internal/service/stt"
	"meeting-transcription-service/internal/service/stt/google"
	"meeting-transcription-service/internal/service/stt/mock"
	"meeting-transcription-service/internal/sink"
	"meeting-transcription-service/internal/sink/memory"
	"meeting-transcription-service/internal/sink/sheets"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Registry  *session.Registry
	Publisher *events.Publisher

	httpServer    *http.Server
	metricsServer *observability.Server
	draining      atomic.Bool
}

// New constructs a new Application from the provided configuration.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	a.Publisher = events.New(&events.Config{
		Enabled:       cfg.Kafka.Enabled,
		Brokers:       cfg.Kafka.Brokers,
		TopicEntries:  cfg.Kafka.TopicEntries,
		TopicSessions: cfg.Kafka.TopicSessions,
		Principal:     cfg.Service.Principal,
	})

	snk, err := a.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	factory, err := a.buildAdapterFactory()
	if err != nil {
		return nil, err
	}

	a.Registry = session.NewRegistry(cfg, snk, a.Publisher, factory)
	a.httpServer = &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     httpapi.NewRouter(a.Registry),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	a.metricsServer = observability.NewServer(":"+cfg.Service.MetricsPort,
		observability.WithReadiness(func() error {
			if a.draining.Load() {
				return fmt.Errorf("draining")
			}
			return nil
		}))

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("sinkProvider", cfg.Sink.Provider).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Msg("Meeting transcription service application created")
	return a, nil
}

// buildSink selects the transcript sink from configuration.
func (a *Application) buildSink(ctx context.Context) (sink.Sink, error) {
	switch a.Cfg.Sink.Provider {
	case "sheets":
		if a.Cfg.Sink.SpreadsheetID == "" {
			return nil, fmt.Errorf("sheets sink requires SINK_SPREADSHEET_ID")
		}
		s, err := sheets.New(ctx, a.Cfg.Sink.SpreadsheetID, a.Cfg.Sink.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("sheets sink: %w", err)
		}
		return s, nil
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown sink provider %q", a.Cfg.Sink.Provider)
	}
}

// buildAdapterFactory selects the recognition backend from configuration.
// Each session gets its own adapter.
func (a *Application) buildAdapterFactory() (session.AdapterFactory, error) {
	switch a.Cfg.STT.Provider {
	case "google":
		creds := a.Cfg.STT.CredentialsFile
		maxReconnects := a.Cfg.STT.MaxReconnects
		return func(ctx context.Context, sessionID string) (stt.Adapter, error) {
			return google.New(ctx, sessionID,
				google.WithCredentialsFile(creds),
				google.WithMaxReconnects(maxReconnects),
			)
		}, nil
	case "mock", "":
		return func(ctx context.Context, sessionID string) (stt.Adapter, error) {
			return mock.New(nil), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
	}
}

// Start begins serving traffic. The HTTP server error is reported on the
// returned channel so the caller can react to a failed bind.
func (a *Application) Start() <-chan error {
	a.StartupTime = time.Now().UTC()
	a.metricsServer.Start()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.httpServer.Addr).
			Time("startupTime", a.StartupTime).
			Msg("Meeting transcription service started")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains live sessions and stops the servers, bounded by ctx.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Meeting transcription service shutting down")
	a.draining.Store(true)

	// Stop accepting new connections first, then drain sessions.
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	a.Registry.CloseAll(ctx)

	if err := a.metricsServer.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Metrics server shutdown error")
	}
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Kafka publisher close error")
	}
}
