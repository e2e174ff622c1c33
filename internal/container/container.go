// Package container wires the application object graph.
package container

import (
	"lingo-sync/internal/app"
	"lingo-sync/internal/cache"
	"lingo-sync/internal/config"
	"lingo-sync/internal/db"
	"lingo-sync/internal/handler"
	"lingo-sync/internal/httpclient"
	"lingo-sync/internal/processor"
	"lingo-sync/internal/provider"
	"lingo-sync/internal/queue"
	"lingo-sync/internal/repository"
	"lingo-sync/internal/router"
	"lingo-sync/internal/services"
	"lingo-sync/internal/store"
	"lingo-sync/internal/tm"
	"lingo-sync/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// BuildContainer creates the dependency injection container with every
// component registered.
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	providers := []any{
		// Configuration
		config.NewSystemSettingsManager,
		func(sm *config.SystemSettingsManager) (types.ConfigManager, error) {
			return config.NewManager(sm)
		},

		// Infrastructure
		db.NewDB,
		store.NewStore,
		httpclient.NewHTTPClientManager,

		// Pipeline components
		cache.NewTranslationCache,
		tm.NewTranslationMemory,
		queue.NewJobQueue,
		func(database *gorm.DB) repository.ContentRepository {
			return repository.NewGormContentRepository(database)
		},
		repository.NewSyncService,
		func(sm *config.SystemSettingsManager, cm types.ConfigManager, hcm *httpclient.HTTPClientManager) *provider.Client {
			return provider.NewClient(sm, cm, hcm)
		},
		newProcessor,

		// Background services
		func(q *queue.JobQueue, sm *config.SystemSettingsManager) *services.SweeperService {
			return services.NewSweeperService(q, sm)
		},
		func(database *gorm.DB, q *queue.JobQueue, sm *config.SystemSettingsManager) *services.CleanupService {
			return services.NewCleanupService(database, q, sm)
		},
		func(proc *processor.Processor, sm *config.SystemSettingsManager) *services.SchedulerService {
			return services.NewSchedulerService(proc, sm)
		},

		// HTTP surface
		handler.NewServer,
		func(serverHandler *handler.Server, cm types.ConfigManager) *gin.Engine {
			return router.NewRouter(serverHandler, cm)
		},

		// Application
		app.NewApp,
	}

	for _, provide := range providers {
		if err := container.Provide(provide); err != nil {
			return nil, err
		}
	}
	return container, nil
}

func newProcessor(
	database *gorm.DB,
	jobQueue *queue.JobQueue,
	translationCache *cache.TranslationCache,
	memory *tm.TranslationMemory,
	client *provider.Client,
	repo repository.ContentRepository,
	settingsManager *config.SystemSettingsManager,
	sharedStore store.Store,
) *processor.Processor {
	return processor.NewProcessor(database, jobQueue, translationCache, memory, client, repo, settingsManager, sharedStore)
}
