package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/docspasta/internal/common"
	"github.com/ternarybob/docspasta/internal/handlers"
	"github.com/ternarybob/docspasta/internal/interfaces"
	"github.com/ternarybob/docspasta/internal/services/crawler"
	"github.com/ternarybob/docspasta/internal/services/events"
	"github.com/ternarybob/docspasta/internal/services/maintenance"
	badgerstore "github.com/ternarybob/docspasta/internal/storage/badger"
)

// App wires configuration, storage, services and handlers together.
// Components are created in dependency order and closed in reverse.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage     interfaces.StorageManager
	Notifier    interfaces.EventNotifier
	Publisher   *events.Publisher
	Crawler     *crawler.Service
	Maintenance *maintenance.Service

	JobHandler    *handlers.JobHandler
	SSEHandler    *handlers.SSEHandler
	SystemHandler *handlers.SystemHandler
}

// New creates the application with all services wired
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storage, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = storage

	a.Notifier = events.NewNotifier(logger)
	a.Publisher = events.NewPublisher(storage.EventStorage(), a.Notifier, logger)
	a.Crawler = crawler.NewService(config, storage, a.Publisher, logger)

	a.Maintenance = maintenance.NewService(config.Maintenance, storage, a.Publisher, logger)
	if err := a.Maintenance.Start(); err != nil {
		_ = a.Crawler.Close()
		_ = a.Notifier.Close()
		_ = storage.Close()
		return nil, fmt.Errorf("failed to start maintenance sweeper: %w", err)
	}

	a.JobHandler = handlers.NewJobHandler(a.Crawler, storage, logger)
	a.SSEHandler = handlers.NewSSEHandler(storage, a.Notifier, config.SSE, logger)
	a.SystemHandler = handlers.NewSystemHandler(logger)

	logger.Info().
		Str("environment", config.Environment).
		Str("storage", config.Storage.Badger.Path).
		Msg("Application initialized")
	return a, nil
}

// Close shuts the application down in reverse dependency order
func (a *App) Close() error {
	a.Maintenance.Stop()

	if err := a.Crawler.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Crawler service close failed")
	}
	if err := a.Notifier.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Notifier close failed")
	}
	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
		return err
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
