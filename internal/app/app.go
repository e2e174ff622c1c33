// Package app provides the main application logic and lifecycle management.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"lingo-sync/internal/config"
	"lingo-sync/internal/httpclient"
	"lingo-sync/internal/models"
	"lingo-sync/internal/services"
	"lingo-sync/internal/store"
	"lingo-sync/internal/types"
	"lingo-sync/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/dig"
	"gorm.io/gorm"
)

// App holds all services and manages the application lifecycle.
type App struct {
	engine            *gin.Engine
	configManager     types.ConfigManager
	settingsManager   *config.SystemSettingsManager
	schedulerService  *services.SchedulerService
	sweeperService    *services.SweeperService
	cleanupService    *services.CleanupService
	httpClientManager *httpclient.HTTPClientManager
	storage           store.Store
	db                *gorm.DB
	httpServer        *http.Server
}

// AppParams defines the dependencies for the App.
type AppParams struct {
	dig.In
	Engine            *gin.Engine
	ConfigManager     types.ConfigManager
	SettingsManager   *config.SystemSettingsManager
	SchedulerService  *services.SchedulerService
	SweeperService    *services.SweeperService
	CleanupService    *services.CleanupService
	HTTPClientManager *httpclient.HTTPClientManager
	Storage           store.Store
	DB                *gorm.DB
}

// NewApp is the constructor for App, with dependencies injected by dig.
func NewApp(params AppParams) *App {
	return &App{
		engine:            params.Engine,
		configManager:     params.ConfigManager,
		settingsManager:   params.SettingsManager,
		schedulerService:  params.SchedulerService,
		sweeperService:    params.SweeperService,
		cleanupService:    params.CleanupService,
		httpClientManager: params.HTTPClientManager,
		storage:           params.Storage,
		db:                params.DB,
	}
}

// Start runs the application, it is a non-blocking call. The master node
// migrates the schema, seeds settings, and runs the background loops; slave
// nodes only serve the API.
func (a *App) Start() error {
	if a.configManager.IsMaster() {
		logrus.Info("Starting as Master Node.")

		if err := a.db.AutoMigrate(
			&models.SystemSetting{},
			&models.TranslationJob{},
			&models.TMSegment{},
			&models.ContentField{},
			&models.TranslationRun{},
		); err != nil {
			return fmt.Errorf("database auto-migration failed: %w", err)
		}
		logrus.Info("Database auto-migration completed.")

		if err := a.settingsManager.Initialize(a.db); err != nil {
			return fmt.Errorf("failed to initialize system settings: %w", err)
		}
		a.settingsManager.DisplaySystemConfig(a.settingsManager.GetSettings())

		a.schedulerService.Start()
		a.sweeperService.Start()
		a.cleanupService.Start()
	} else {
		logrus.Info("Starting as Slave Node.")
		if err := a.settingsManager.Initialize(a.db); err != nil {
			return fmt.Errorf("failed to initialize system settings: %w", err)
		}
	}

	a.configManager.DisplayServerConfig()

	serverConfig := a.configManager.GetEffectiveServerConfig()
	a.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:        a.engine,
		ReadTimeout:    time.Duration(serverConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(serverConfig.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(serverConfig.IdleTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.Infof("lingo-sync started successfully on version: %s", version.Version)
		logrus.Infof("Server address: http://%s:%d", serverConfig.Host, serverConfig.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server startup failed: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the application.
func (a *App) Stop(ctx context.Context) {
	logrus.Info("Shutting down server...")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logrus.Warnf("HTTP server graceful shutdown timed out, forcing close: %v", err)
		if closeErr := a.httpServer.Close(); closeErr != nil {
			logrus.Errorf("Error forcing HTTP server to close: %v", closeErr)
		}
	}

	if a.configManager.GetEffectiveServerConfig().IsMaster {
		a.schedulerService.Stop()
		a.sweeperService.Stop()
		a.cleanupService.Stop()
	}

	a.httpClientManager.CloseIdleConnections()

	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			logrus.Errorf("Error closing storage: %v", err)
		}
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logrus.Errorf("Error closing database: %v", err)
			}
		}
	}

	logrus.Info("Server exited gracefully")
}
