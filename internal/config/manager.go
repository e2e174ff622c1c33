// Package config provides layered configuration management: static settings
// from environment variables and hot-reloadable system settings persisted in
// the database.
package config

import (
	"fmt"
	"os"
	"strings"

	"lingo-sync/internal/types"
	"lingo-sync/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Constants holds limits shared by validation and defaults.
type Constants struct {
	MinPort               int
	MaxPort               int
	MinTimeout            int
	DefaultTimeout        int
	DefaultMaxSockets     int
	DefaultMaxFreeSockets int
}

// DefaultConstants provides the shared configuration limits.
var DefaultConstants = Constants{
	MinPort:               1,
	MaxPort:               65535,
	MinTimeout:            1,
	DefaultTimeout:        30,
	DefaultMaxSockets:     50,
	DefaultMaxFreeSockets: 10,
}

// Config aggregates every environment-derived setting.
type Config struct {
	Server       types.ServerConfig
	Auth         types.AuthConfig
	CORS         types.CORSConfig
	Performance  types.PerformanceConfig
	Log          types.LogConfig
	Database     types.DatabaseConfig
	ProviderAuth types.ProviderAuth
	RedisDSN     string
	DebugMode    bool
}

// Manager implements types.ConfigManager on top of environment variables.
// A .env file is loaded once at construction; ReloadConfig re-reads the
// process environment.
type Manager struct {
	config          *Config
	settingsManager *SystemSettingsManager
}

// NewManager creates a configuration manager and performs the initial load.
func NewManager(settingsManager *SystemSettingsManager) (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	manager := &Manager{settingsManager: settingsManager}
	if err := manager.ReloadConfig(); err != nil {
		return nil, err
	}
	return manager, nil
}

// ReloadConfig re-reads the environment and validates the result.
func (m *Manager) ReloadConfig() error {
	config := &Config{
		Server: types.ServerConfig{
			Port:                    utils.ParseInteger(os.Getenv("PORT"), 3001),
			Host:                    utils.GetEnvOrDefault("HOST", "0.0.0.0"),
			IsMaster:                !utils.ParseBoolean(os.Getenv("IS_SLAVE"), false),
			ReadTimeout:             utils.ParseInteger(os.Getenv("SERVER_READ_TIMEOUT"), 60),
			WriteTimeout:            utils.ParseInteger(os.Getenv("SERVER_WRITE_TIMEOUT"), 600),
			IdleTimeout:             utils.ParseInteger(os.Getenv("SERVER_IDLE_TIMEOUT"), 120),
			GracefulShutdownTimeout: utils.ParseInteger(os.Getenv("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT"), 10),
		},
		Auth: types.AuthConfig{
			Key: os.Getenv("AUTH_KEY"),
		},
		CORS: types.CORSConfig{
			Enabled:          utils.ParseBoolean(os.Getenv("ENABLE_CORS"), false),
			AllowedOrigins:   utils.ParseArray(os.Getenv("ALLOWED_ORIGINS")),
			AllowedMethods:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")),
			AllowedHeaders:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_HEADERS", "*")),
			AllowCredentials: utils.ParseBoolean(os.Getenv("ALLOW_CREDENTIALS"), false),
		},
		Performance: types.PerformanceConfig{
			MaxConcurrentRequests: utils.ParseInteger(os.Getenv("MAX_CONCURRENT_REQUESTS"), 100),
		},
		Log: types.LogConfig{
			Level:      utils.GetEnvOrDefault("LOG_LEVEL", "info"),
			Format:     utils.GetEnvOrDefault("LOG_FORMAT", "text"),
			EnableFile: utils.ParseBoolean(os.Getenv("LOG_ENABLE_FILE"), false),
			FilePath:   utils.GetEnvOrDefault("LOG_FILE_PATH", "./data/logs/app.log"),
		},
		Database: types.DatabaseConfig{
			DSN: utils.GetEnvOrDefault("DATABASE_DSN", "./data/lingo-sync.db"),
		},
		ProviderAuth: types.ProviderAuth{
			APIKey: os.Getenv("PROVIDER_API_KEY"),
		},
		RedisDSN:  os.Getenv("REDIS_DSN"),
		DebugMode: utils.ParseBoolean(os.Getenv("DEBUG_MODE"), false) || os.Getenv("GIN_MODE") == "debug",
	}

	m.config = config
	return m.Validate()
}

// Validate checks the loaded configuration and collects every violation.
func (m *Manager) Validate() error {
	var errs []string

	if m.config.Server.Port < DefaultConstants.MinPort || m.config.Server.Port > DefaultConstants.MaxPort {
		errs = append(errs, fmt.Sprintf("port must be between %d and %d", DefaultConstants.MinPort, DefaultConstants.MaxPort))
	}

	if m.config.Auth.Key == "" {
		errs = append(errs, "AUTH_KEY is required")
	} else if len(m.config.Auth.Key) < 16 {
		logrus.Warn("AUTH_KEY is shorter than 16 characters, consider a stronger key")
	}

	if m.config.Performance.MaxConcurrentRequests < 1 {
		errs = append(errs, "max concurrent requests cannot be less than 1")
	}

	if m.config.CORS.Enabled {
		if len(m.config.CORS.AllowedOrigins) == 0 {
			errs = append(errs, "ALLOWED_ORIGINS is required when CORS is enabled")
		} else {
			for _, origin := range m.config.CORS.AllowedOrigins {
				if origin == "*" {
					logrus.Warn("CORS allows all origins, restrict ALLOWED_ORIGINS in production")
				}
			}
		}
	}

	if m.config.Server.GracefulShutdownTimeout < 10 {
		m.config.Server.GracefulShutdownTimeout = 10
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsMaster returns whether this instance runs the background schedulers.
func (m *Manager) IsMaster() bool {
	return m.config.Server.IsMaster
}

// IsDebugMode returns whether debug mode is enabled.
func (m *Manager) IsDebugMode() bool {
	return m.config.DebugMode
}

// GetAuthConfig returns the authentication configuration.
func (m *Manager) GetAuthConfig() types.AuthConfig {
	return m.config.Auth
}

// GetCORSConfig returns the CORS configuration.
func (m *Manager) GetCORSConfig() types.CORSConfig {
	return m.config.CORS
}

// GetPerformanceConfig returns the performance configuration.
func (m *Manager) GetPerformanceConfig() types.PerformanceConfig {
	return m.config.Performance
}

// GetLogConfig returns the logging configuration.
func (m *Manager) GetLogConfig() types.LogConfig {
	return m.config.Log
}

// GetDatabaseConfig returns the database configuration.
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig {
	return m.config.Database
}

// GetProviderAuth returns the provider credential.
func (m *Manager) GetProviderAuth() types.ProviderAuth {
	return m.config.ProviderAuth
}

// GetEffectiveServerConfig returns the server configuration.
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	return m.config.Server
}

// GetRedisDSN returns the Redis connection string, empty when unset.
func (m *Manager) GetRedisDSN() string {
	return m.config.RedisDSN
}

// DisplayServerConfig logs a startup summary of the effective configuration.
func (m *Manager) DisplayServerConfig() {
	cfg := m.config

	role := "master"
	if !cfg.Server.IsMaster {
		role = "slave"
	}

	storage := "memory"
	if cfg.RedisDSN != "" {
		storage = "redis"
	}

	logrus.Info("Server configuration:")
	logrus.Infof("  Listen: %s:%d (%s)", cfg.Server.Host, cfg.Server.Port, role)
	logrus.Infof("  Timeouts: read=%ds write=%ds idle=%ds shutdown=%ds",
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout, cfg.Server.GracefulShutdownTimeout)
	logrus.Infof("  Database: %s", utils.TruncateString(cfg.Database.DSN, 64))
	logrus.Infof("  Store: %s", storage)
	logrus.Infof("  CORS enabled: %v", cfg.CORS.Enabled)
	if cfg.CORS.Enabled {
		logrus.Infof("  CORS origins: %s", strings.Join(cfg.CORS.AllowedOrigins, ", "))
	}
	logrus.Infof("  Log: level=%s format=%s file=%v", cfg.Log.Level, cfg.Log.Format, cfg.Log.EnableFile)
	if cfg.Log.EnableFile {
		logrus.Infof("  Log file: %s", cfg.Log.FilePath)
	}
	if cfg.ProviderAuth.APIKey == "" {
		logrus.Warn("  PROVIDER_API_KEY is not set, provider calls will fail")
	}
}
