package types

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	IsMaster() bool
	IsDebugMode() bool
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetPerformanceConfig() PerformanceConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetProviderAuth() ProviderAuth
	GetEffectiveServerConfig() ServerConfig
	GetRedisDSN() string
	Validate() error
	DisplayServerConfig()
	ReloadConfig() error
}

// SystemSettings holds the runtime-tunable pipeline configuration.
// Values are persisted in the system_settings table; the `default` tag seeds
// missing rows and the `validate` tag guards updates.
type SystemSettings struct {
	// Pipeline
	BatchSize              int `json:"batch_size" default:"20" desc:"Jobs claimed per processing cycle" validate:"required,min=1"`
	MaxRetries             int `json:"max_retries" default:"3" desc:"Retry ceiling before a job is marked error" validate:"required,min=0"`
	StuckThresholdMinutes  int `json:"stuck_threshold_minutes" default:"30" desc:"Minutes in translating state before a job is considered stuck" validate:"required,min=1"`
	ErrorRecoveryMinutes   int `json:"error_recovery_minutes" default:"60" desc:"Minutes before an error job is auto-moved to skipped" validate:"required,min=1"`
	JobRetentionDays       int `json:"job_retention_days" default:"30" desc:"Days to keep terminal jobs before cleanup" validate:"required,min=0"`
	ProcessIntervalSeconds int `json:"process_interval_seconds" default:"300" desc:"Seconds between scheduled processing cycles" validate:"required,min=10"`
	LockTTLMinutes         int `json:"lock_ttl_minutes" default:"15" desc:"Processor lease TTL; orphaned leases self-expire after this" validate:"required,min=1"`

	// Languages
	SourceLang string `json:"source_lang" default:"en" desc:"Source language code" validate:"required"`
	TargetLang string `json:"target_lang" default:"es" desc:"Target language code" validate:"required"`

	// Cache / translation memory
	CacheTTLMinutes int     `json:"cache_ttl_minutes" default:"10080" desc:"TTL for cached translations" validate:"required,min=1"`
	FuzzyThreshold  float64 `json:"fuzzy_threshold" default:"0.75" desc:"Minimum confidence for a fuzzy match to be reported" validate:"required,min=0,max=1"`
	FuzzyAutoApply  float64 `json:"fuzzy_auto_apply" default:"0.95" desc:"Confidence above which a fuzzy match is applied without calling the provider" validate:"required,min=0,max=1"`
	FuzzyMatchLimit int     `json:"fuzzy_match_limit" default:"5" desc:"Maximum fuzzy matches returned per lookup" validate:"required,min=1"`

	// Provider
	ProviderName              string  `json:"provider_name" default:"openai" desc:"Provider identifier used in cache and TM keys" validate:"required"`
	ProviderBaseURL           string  `json:"provider_base_url" default:"https://api.openai.com/v1" desc:"Provider API base URL" validate:"required"`
	ProviderModel             string  `json:"provider_model" default:"gpt-4o-mini" desc:"Model used for translation requests" validate:"required"`
	ProviderTemperature       float64 `json:"provider_temperature" default:"0.2" desc:"Sampling temperature for translation requests" validate:"min=0,max=2"`
	ProviderTimeoutSeconds    int     `json:"provider_timeout_seconds" default:"45" desc:"Per-request timeout for provider calls" validate:"required,min=1"`
	ProviderMaxAttempts       int     `json:"provider_max_attempts" default:"5" desc:"Maximum attempts per provider call including retries" validate:"required,min=1"`
	ProviderBackoffCapSeconds int     `json:"provider_backoff_cap_seconds" default:"60" desc:"Upper bound for exponential backoff delays" validate:"required,min=1"`
	ProviderParamOverrides    string  `json:"provider_param_overrides" default:"" desc:"JSON object merged into the provider request payload"`

	// Prompting / cost
	TranslationDomain    string  `json:"translation_domain" default:"general" desc:"Domain hint included in the translation prompt"`
	TranslationTone      string  `json:"translation_tone" default:"neutral" desc:"Tone hint included in the translation prompt"`
	CostPerThousandChars float64 `json:"cost_per_thousand_chars" default:"0.02" desc:"Provider unit cost used by estimate-cost" validate:"min=0"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	IsMaster                bool   `json:"is_master"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// PerformanceConfig represents performance configuration
type PerformanceConfig struct {
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// ProviderAuth carries the provider API credential. It comes from the
// environment only and is never persisted.
type ProviderAuth struct {
	APIKey string `json:"-"`
}
