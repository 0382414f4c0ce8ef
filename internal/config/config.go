package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexconsult/malha-fiscal/internal/malha"
	"github.com/nexconsult/malha-fiscal/internal/storage"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `json:"server"`
	Redis    RedisConfig    `json:"redis"`
	Malha    MalhaConfig    `json:"malha"`
	Log      LogConfig      `json:"log"`
	Security SecurityConfig `json:"security"`
	Browser  BrowserConfig  `json:"browser"`
	Storage  StorageConfig  `json:"storage"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int    `json:"port"`
	Environment  string `json:"environment"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// MalhaConfig holds the extraction settings
type MalhaConfig struct {
	BaseURL   string   `json:"base_url"`
	Years     []string `json:"years"`
	MeshTypes []string `json:"mesh_types"`

	Workers        int           `json:"workers"`
	QueueSize      int           `json:"queue_size"`
	MaxJobAttempts int           `json:"max_job_attempts"`
	JobRetryDelay  time.Duration `json:"job_retry_delay"`
	JobTimeout     time.Duration `json:"job_timeout"`
	ResultTTL      time.Duration `json:"result_ttl"`

	MaxCellAttempts     int           `json:"max_cell_attempts"`
	MaxDocumentAttempts int           `json:"max_document_attempts"`
	RetryDelay          time.Duration `json:"retry_delay"`

	OverlayAppearTimeout    time.Duration `json:"overlay_appear_timeout"`
	OverlayDisappearTimeout time.Duration `json:"overlay_disappear_timeout"`
	PollInterval            time.Duration `json:"poll_interval"`
	SignInTimeout           time.Duration `json:"sign_in_timeout"`
	ElementTimeout          time.Duration `json:"element_timeout"`
	AuthTimeout             time.Duration `json:"auth_timeout"`
	TargetTimeout           time.Duration `json:"target_timeout"`
	ResponseTimeout         time.Duration `json:"response_timeout"`

	// ActionsPerMinute paces portal actions; zero disables pacing
	ActionsPerMinute int `json:"actions_per_minute"`

	TableSelector          string `json:"table_selector"`
	RowDownloadSelector    string `json:"row_download_selector"`
	ReportDownloadSelector string `json:"report_download_selector"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit"`
	CORS      CORSConfig      `json:"cors"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	BurstSize         int           `json:"burst_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// BrowserConfig holds browser automation configuration
type BrowserConfig struct {
	MinBrowsers    int           `json:"min_browsers"`
	MaxBrowsers    int           `json:"max_browsers"`
	AcquireTimeout time.Duration `json:"acquire_timeout"`
	StartTimeout   time.Duration `json:"start_timeout"`
	Headless       bool          `json:"headless"`
	ExecPath       string        `json:"exec_path"`
}

// StorageConfig holds the artifact tree and its optional object storage mirror
type StorageConfig struct {
	Root  string      `json:"root"`
	Minio MinioConfig `json:"minio"`
}

// MinioConfig holds the MinIO mirror configuration
type MinioConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
	Bucket    string `json:"bucket"`
	Prefix    string `json:"prefix"`
	UseSSL    bool   `json:"use_ssl"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("PORT", 8080),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("IDLE_TIMEOUT", 60),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  time.Duration(getEnvAsInt("REDIS_DIAL_TIMEOUT", 5)) * time.Second,
			ReadTimeout:  time.Duration(getEnvAsInt("REDIS_READ_TIMEOUT", 3)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("REDIS_WRITE_TIMEOUT", 3)) * time.Second,
		},
		Malha: MalhaConfig{
			BaseURL:   getEnv("MALHA_BASE_URL", malha.DefaultBaseURL),
			Years:     getEnvAsSlice("MALHA_YEARS", nil),
			MeshTypes: getEnvAsSlice("MALHA_MESH_TYPES", nil),

			Workers:        getEnvAsInt("MALHA_WORKERS", 1),
			QueueSize:      getEnvAsInt("MALHA_QUEUE_SIZE", 100),
			MaxJobAttempts: getEnvAsInt("MALHA_MAX_JOB_ATTEMPTS", 3),
			JobRetryDelay:  time.Duration(getEnvAsInt("MALHA_JOB_RETRY_DELAY", 30)) * time.Second,
			JobTimeout:     time.Duration(getEnvAsInt("MALHA_JOB_TIMEOUT", 43200)) * time.Second,
			ResultTTL:      time.Duration(getEnvAsInt("MALHA_RESULT_TTL", 86400)) * time.Second,

			MaxCellAttempts:     getEnvAsInt("MALHA_MAX_CELL_ATTEMPTS", 3),
			MaxDocumentAttempts: getEnvAsInt("MALHA_MAX_DOCUMENT_ATTEMPTS", 2),
			RetryDelay:          time.Duration(getEnvAsInt("MALHA_RETRY_DELAY_MS", 1000)) * time.Millisecond,

			OverlayAppearTimeout:    time.Duration(getEnvAsInt("MALHA_OVERLAY_APPEAR_TIMEOUT_MS", 3000)) * time.Millisecond,
			OverlayDisappearTimeout: time.Duration(getEnvAsInt("MALHA_OVERLAY_DISAPPEAR_TIMEOUT", 60)) * time.Second,
			PollInterval:            time.Duration(getEnvAsInt("MALHA_POLL_INTERVAL_MS", 250)) * time.Millisecond,
			SignInTimeout:           time.Duration(getEnvAsInt("MALHA_SIGN_IN_TIMEOUT", 30)) * time.Second,
			ElementTimeout:          time.Duration(getEnvAsInt("MALHA_ELEMENT_TIMEOUT", 30)) * time.Second,
			AuthTimeout:             time.Duration(getEnvAsInt("MALHA_AUTH_TIMEOUT", 10)) * time.Second,
			TargetTimeout:           time.Duration(getEnvAsInt("MALHA_TARGET_TIMEOUT", 30)) * time.Second,
			ResponseTimeout:         time.Duration(getEnvAsInt("MALHA_RESPONSE_TIMEOUT", 30)) * time.Second,

			ActionsPerMinute: getEnvAsInt("MALHA_ACTIONS_PER_MINUTE", 0),

			TableSelector:          getEnv("MALHA_TABLE_SELECTOR", ""),
			RowDownloadSelector:    getEnv("MALHA_ROW_DOWNLOAD_SELECTOR", ""),
			ReportDownloadSelector: getEnv("MALHA_REPORT_DOWNLOAD_SELECTOR", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 100),
				BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 10),
				CleanupInterval:   time.Duration(getEnvAsInt("RATE_LIMIT_CLEANUP", 60)) * time.Second,
			},
			CORS: CORSConfig{
				AllowedOrigins:   getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: false,
			},
		},
		Browser: BrowserConfig{
			MinBrowsers:    getEnvAsInt("BROWSER_MIN", 1),
			MaxBrowsers:    getEnvAsInt("BROWSER_MAX", 2),
			AcquireTimeout: time.Duration(getEnvAsInt("BROWSER_ACQUIRE_TIMEOUT", 10)) * time.Second,
			StartTimeout:   time.Duration(getEnvAsInt("BROWSER_START_TIMEOUT", 15)) * time.Second,
			Headless:       getEnvAsBool("BROWSER_HEADLESS", true),
			ExecPath:       getEnv("BROWSER_EXEC_PATH", ""),
		},
		Storage: StorageConfig{
			Root: getEnv("STORAGE_ROOT", storage.DefaultRoot),
			Minio: MinioConfig{
				Enabled:   getEnvAsBool("MINIO_ENABLED", false),
				Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "malha-fiscal"),
				Prefix:    getEnv("MINIO_PREFIX", ""),
				UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings that cannot work
func (c *Config) Validate() error {
	switch {
	case c.Malha.BaseURL == "":
		return fmt.Errorf("MALHA_BASE_URL is required")
	case c.Malha.Workers < 1:
		return fmt.Errorf("MALHA_WORKERS must be at least 1")
	case c.Malha.QueueSize < 1:
		return fmt.Errorf("MALHA_QUEUE_SIZE must be at least 1")
	case c.Malha.MaxCellAttempts < 1:
		return fmt.Errorf("MALHA_MAX_CELL_ATTEMPTS must be at least 1")
	case c.Malha.MaxDocumentAttempts < 1:
		return fmt.Errorf("MALHA_MAX_DOCUMENT_ATTEMPTS must be at least 1")
	case c.Malha.MaxJobAttempts < 1:
		return fmt.Errorf("MALHA_MAX_JOB_ATTEMPTS must be at least 1")
	case c.Malha.OverlayDisappearTimeout <= 0:
		return fmt.Errorf("MALHA_OVERLAY_DISAPPEAR_TIMEOUT must be positive")
	case c.Malha.AuthTimeout <= 0:
		return fmt.Errorf("MALHA_AUTH_TIMEOUT must be positive")
	case c.Malha.ActionsPerMinute < 0:
		return fmt.Errorf("MALHA_ACTIONS_PER_MINUTE must not be negative")
	case c.Browser.MaxBrowsers < 1 || c.Browser.MinBrowsers > c.Browser.MaxBrowsers:
		return fmt.Errorf("BROWSER_MIN must not exceed BROWSER_MAX and BROWSER_MAX must be at least 1")
	case c.Storage.Root == "":
		return fmt.Errorf("STORAGE_ROOT is required")
	case c.Storage.Minio.Enabled && (c.Storage.Minio.AccessKey == "" || c.Storage.Minio.SecretKey == ""):
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENABLED is set")
	}
	return nil
}

// PortalOptions builds the extraction options from the configuration
func (m MalhaConfig) PortalOptions() malha.Options {
	opts := malha.DefaultOptions()
	opts.BaseURL = m.BaseURL

	opts.Readiness.AppearTimeout = m.OverlayAppearTimeout
	opts.Readiness.DisappearTimeout = m.OverlayDisappearTimeout
	opts.Readiness.PollInterval = m.PollInterval
	opts.SignInTimeout = m.SignInTimeout
	opts.ElementTimeout = m.ElementTimeout
	opts.AuthTimeout = m.AuthTimeout
	opts.Download.TargetTimeout = m.TargetTimeout
	opts.Download.ResponseTimeout = m.ResponseTimeout

	opts.MaxCellAttempts = m.MaxCellAttempts
	opts.MaxDocumentAttempts = m.MaxDocumentAttempts
	opts.RetryDelay = m.RetryDelay

	if m.TableSelector != "" {
		opts.Selectors.Table = m.TableSelector
	}
	if m.RowDownloadSelector != "" {
		opts.Selectors.RowDownload = m.RowDownloadSelector
	}
	if m.ReportDownloadSelector != "" {
		opts.Selectors.ReportDownload = m.ReportDownloadSelector
	}
	return opts
}

// MirrorConfig converts the MinIO settings for the storage package
func (m MinioConfig) MirrorConfig() storage.MinioConfig {
	return storage.MinioConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		Prefix:    m.Prefix,
		UseSSL:    m.UseSSL,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
