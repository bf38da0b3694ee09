package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all agent configuration
type Config struct {
	Server        ServerConfig
	SchoolAPI     SchoolAPIConfig
	Push          PushConfig
	Storage       StorageConfig
	Cache         CacheConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Profiling     ProfilingConfig
}

type ServerConfig struct {
	Port           string
	GinMode        string
	AppEnv         string
	AllowedOrigins []string
}

// SchoolAPIConfig describes the upstream school API the agent talks to.
type SchoolAPIConfig struct {
	BaseURL        string
	TimeoutSeconds int
}

// PushConfig describes how the agent subscribes to web push notifications.
// Enabled is the agent-side equivalent of the browser notification permission:
// when false the subscription manager stops before doing anything.
type PushConfig struct {
	Enabled         bool
	VAPIDPublicKey  string
	CallbackBaseURL string
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	RulesTTLSeconds int
}

type LoggingConfig struct {
	Level string
	Dir   string
}

type ObservabilityConfig struct {
	ExporterEndpoint  string
	ServiceName       string
	ServiceNamespace  string
	ServiceVersion    string
	ServiceInstanceID string
}

type ProfilingConfig struct {
	Enabled               bool
	Endpoint              string
	AppName               string
	SampleTypes           string
	UploadIntervalSeconds int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("PORT", "8787")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("ALLOWED_CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("SCHOOL_API_TIMEOUT_SECONDS", 30)
	v.SetDefault("PUSH_ENABLED", true)
	v.SetDefault("DATA_DIR", "/app/data")
	v.SetDefault("RULES_CACHE_TTL", 86400) // rule catalog changes rarely; once per session is enough
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DIR", "/app/logs")
	v.SetDefault("O11Y_EXPORTER_ENDPOINT", "")
	v.SetDefault("O11Y_SERVICE_NAME", "review-agent")
	v.SetDefault("O11Y_SERVICE_NAMESPACE", "marsit-school")
	v.SetDefault("O11Y_SERVICE_VERSION", "1.0.0")
	v.SetDefault("O11Y_PROFILING_ENABLED", false)
	v.SetDefault("O11Y_PROFILING_APP_NAME", "review-agent")
	v.SetDefault("O11Y_PROFILING_SAMPLE_TYPES", "cpu,alloc_space,alloc_objects,goroutines")
	v.SetDefault("O11Y_PROFILING_UPLOAD_INTERVAL_SECONDS", 15)

	// Automatically read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	_ = v.ReadInConfig() //nolint:errcheck // Ignore error if .env file doesn't exist

	// Parse allowed CORS origins (comma-separated)
	allowedOrigins := []string{}
	originsStr := v.GetString("ALLOWED_CORS_ORIGINS")
	if originsStr != "" {
		for _, origin := range strings.Split(originsStr, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins = append(allowedOrigins, origin)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			GinMode:        v.GetString("GIN_MODE"),
			AppEnv:         v.GetString("APP_ENV"),
			AllowedOrigins: allowedOrigins,
		},
		SchoolAPI: SchoolAPIConfig{
			BaseURL:        strings.TrimRight(v.GetString("SCHOOL_API_BASE_URL"), "/"),
			TimeoutSeconds: v.GetInt("SCHOOL_API_TIMEOUT_SECONDS"),
		},
		Push: PushConfig{
			Enabled:         v.GetBool("PUSH_ENABLED"),
			VAPIDPublicKey:  v.GetString("PUSH_VAPID_PUBLIC_KEY"),
			CallbackBaseURL: strings.TrimRight(v.GetString("PUSH_CALLBACK_BASE_URL"), "/"),
		},
		Storage: StorageConfig{
			DataDir: v.GetString("DATA_DIR"),
		},
		Cache: CacheConfig{
			RulesTTLSeconds: v.GetInt("RULES_CACHE_TTL"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
			Dir:   v.GetString("LOG_DIR"),
		},
		Observability: ObservabilityConfig{
			ExporterEndpoint:  v.GetString("O11Y_EXPORTER_ENDPOINT"),
			ServiceName:       v.GetString("O11Y_SERVICE_NAME"),
			ServiceNamespace:  v.GetString("O11Y_SERVICE_NAMESPACE"),
			ServiceVersion:    v.GetString("O11Y_SERVICE_VERSION"),
			ServiceInstanceID: v.GetString("SERVICE_INSTANCE_ID"),
		},
		Profiling: ProfilingConfig{
			Enabled:               v.GetBool("O11Y_PROFILING_ENABLED"),
			Endpoint:              v.GetString("O11Y_PROFILING_ENDPOINT"),
			AppName:               v.GetString("O11Y_PROFILING_APP_NAME"),
			SampleTypes:           v.GetString("O11Y_PROFILING_SAMPLE_TYPES"),
			UploadIntervalSeconds: v.GetInt("O11Y_PROFILING_UPLOAD_INTERVAL_SECONDS"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration values are set.
// Missing upstream or push configuration fails here, at startup, rather than
// silently disabling the feature later.
func (c *Config) Validate() error {
	if c.SchoolAPI.BaseURL == "" {
		return fmt.Errorf("SCHOOL_API_BASE_URL is required")
	}

	if c.Push.Enabled {
		if c.Push.VAPIDPublicKey == "" {
			return fmt.Errorf("PUSH_VAPID_PUBLIC_KEY is required when push is enabled")
		}
		if c.Push.CallbackBaseURL == "" {
			return fmt.Errorf("PUSH_CALLBACK_BASE_URL is required when push is enabled")
		}
	}

	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}

	if c.Profiling.Enabled && c.Profiling.Endpoint == "" {
		return fmt.Errorf("O11Y_PROFILING_ENDPOINT is required when profiling is enabled")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development" || c.Server.GinMode == "debug"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.AppEnv == "production"
}
