// Package pushdispatchservice assembles the push dispatch service: HTTP
// surface, ingestion pipeline and the dispatch engine behind them.
package pushdispatchservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch-service/internal/api"
	"github.com/tinywideclouds/go-push-dispatch-service/internal/audit"
	"github.com/tinywideclouds/go-push-dispatch-service/internal/engine"
	"github.com/tinywideclouds/go-push-dispatch-service/internal/ingest"
	"github.com/tinywideclouds/go-push-dispatch-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-dispatch-service/pushdispatchservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[engine.CreateInput]
	auditLog        *audit.Logger
	logger          *slog.Logger
}

// New assembles the service.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	sender dispatch.MulticastSender,
	queueStore dispatch.QueueStore,
	tokenStore dispatch.TokenStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Engine
	auditLog := audit.New(cfg.Notify.AuditLogDir)
	eng := engine.New(queueStore, tokenStore, sender, auditLog, engine.Options{
		IconURL:         cfg.Notify.IconURL,
		BadgeURL:        cfg.Notify.BadgeURL,
		DefaultClickURL: cfg.Notify.DefaultClickURL,
		MaxPendingAge:   cfg.Notify.MaxPendingAge,
	}, logger)

	// 3. Ingestion Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		ingest.EnqueueRequestTransformer,
		ingest.NewProcessor(eng, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	notificationAPI := api.NewNotificationAPI(eng, logger)
	tokenAPI := api.NewTokenAPI(tokenStore, eng, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Notification paths
	handle("POST /api/v1/notifications", notificationAPI.Create)
	handle("POST /api/v1/send", notificationAPI.Send)
	handle("POST /api/v1/dispatch/run", notificationAPI.RunDispatch)

	// Token registration paths
	handle("POST /api/v1/tokens/register", tokenAPI.Register)
	handle("POST /api/v1/tokens/unregister", tokenAPI.Unregister)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		auditLog:        auditLog,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Ingestion pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion pipeline: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Ingestion pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.auditLog.Close(); err != nil {
		w.logger.Error("Audit log close failed.", "err", err)
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
