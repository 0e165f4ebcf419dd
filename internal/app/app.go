// Package app initializes and holds the long-lived services of the crawler,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/policycheck/crawler/internal/api"
	"github.com/policycheck/crawler/internal/clock/system"
	"github.com/policycheck/crawler/internal/config"
	"github.com/policycheck/crawler/internal/crawler"
	"github.com/policycheck/crawler/internal/id/uuid"
	memorypublisher "github.com/policycheck/crawler/internal/publisher/memory"
	pubsubpublisher "github.com/policycheck/crawler/internal/publisher/pubsub"
	"github.com/policycheck/crawler/internal/storage/local"
	"github.com/policycheck/crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services for the crawler process. It is
// built once at startup and torn down by Close.
type App struct {
	logger    *zap.Logger
	sessions  *postgres.SessionStore
	documents *postgres.DocumentStore
	publisher crawler.Publisher
	server    *api.Server
}

// NewApp builds every service from the configuration and wires the HTTP
// server on top. It fails fast: any service that cannot be initialized
// aborts startup.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("initializing services")

	sessions, err := postgres.NewSessionStore(ctx, postgres.SessionStoreConfig{
		DSN:               cfg.DB.DSN,
		MaxConns:          int32(cfg.DB.MaxOpenConns),
		MinConns:          int32(cfg.DB.MaxIdleConns),
		MaxConnLifetime:   time.Hour,
		MaxPagesCeiling:   cfg.Crawler.MaxPagesAbsolute,
		MaxMinutesCeiling: cfg.Crawler.MaxMinutesAbsolute,
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	documents, err := postgres.NewDocumentStore(ctx, cfg.DB.DSN)
	if err != nil {
		sessions.Close()
		return nil, fmt.Errorf("document store: %w", err)
	}

	files, err := local.New(local.Config{BaseDir: cfg.Storage.Dir})
	if err != nil {
		sessions.Close()
		documents.Close()
		return nil, fmt.Errorf("storage root: %w", err)
	}

	var publisher crawler.Publisher
	if cfg.PubSub.ProjectID != "" {
		logger.Info("using pub/sub publisher",
			zap.String("project_id", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName))
		publisher, err = pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			sessions.Close()
			documents.Close()
			return nil, fmt.Errorf("pub/sub publisher: %w", err)
		}
	} else {
		logger.Info("no pub/sub project configured, using in-memory publisher")
		publisher = memorypublisher.New()
	}

	clk := system.New()
	idGen := uuid.NewUUIDGenerator()
	robots := crawler.NewRobotsCache(cfg.Crawler.UserAgent, cfg.RequestTimeout(), logger.Named("robots"))
	admission := crawler.NewAdmission(cfg.Crawler.MaxConcurrent, clk, logger.Named("admission"))

	orchestrator := crawler.NewOrchestrator(sessions, documents, files, robots, publisher, idGen, clk,
		crawler.OrchestratorConfig{
			UserAgent:       cfg.Crawler.UserAgent,
			RequestTimeout:  cfg.RequestTimeout(),
			RequestDelay:    cfg.RequestDelay(),
			MaxRetries:      cfg.HTTP.MaxRetries,
			MaxFileBytes:    cfg.MaxFileBytes(),
			MaxDownloadTime: cfg.MaxDownloadTime(),
			StorageRoot:     cfg.Storage.Dir,
			Topic:           cfg.PubSub.TopicName,
			TrackingParams:  cfg.Crawler.TrackingParams,
		}, logger.Named("orchestrator"))

	server := api.NewServer(ctx, sessions, admission, orchestrator, idGen, clk,
		api.Config{
			DefaultMaxPages:   cfg.Crawler.MaxPagesAbsolute,
			DefaultMaxMinutes: cfg.Crawler.MaxMinutesAbsolute,
		}, logger.Named("api"))

	logger.Info("services initialized")

	return &App{
		logger:    logger,
		sessions:  sessions,
		documents: documents,
		publisher: publisher,
		server:    server,
	}, nil
}

// Handler returns the HTTP handler for the API server.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Close shuts down every service the App owns. Errors are logged, not
// returned, so shutdown always completes.
func (a *App) Close() {
	a.logger.Info("shutting down services")
	if closer, ok := a.publisher.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	a.documents.Close()
	a.sessions.Close()
}
