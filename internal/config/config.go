// Package config provides environment configuration for the relay server.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// Comma separated CORS origins; empty allows any http(s) origin.
	AllowedOrigins []string

	// OpenAI settings
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIOrgID     string
	OpenAIProjectID string

	// Azure OpenAI settings
	AzureEndpoint   string
	AzureAPIKey     string
	AzureADToken    string
	AzureAPIVersion string
	AzureDeployment string

	// Realtime settings
	DefaultModel            string
	DangerouslyAllowBrowser bool
	HandshakeTimeout        time.Duration
	ReadBufferSize          int
	SessionRetention        time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 0),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS"),

		// OpenAI
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrgID:     getEnv("OPENAI_ORG_ID", ""),
		OpenAIProjectID: getEnv("OPENAI_PROJECT_ID", ""),

		// Azure
		AzureEndpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:     getEnv("AZURE_OPENAI_API_KEY", ""),
		AzureADToken:    getEnv("AZURE_OPENAI_AD_TOKEN", ""),
		AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-10-01-preview"),
		AzureDeployment: getEnv("AZURE_OPENAI_DEPLOYMENT", ""),

		// Realtime
		DefaultModel:            getEnv("REALTIME_DEFAULT_MODEL", "gpt-4o-realtime-preview"),
		DangerouslyAllowBrowser: getBoolEnv("DANGEROUSLY_ALLOW_BROWSER", false),
		HandshakeTimeout:        getDurationEnv("REALTIME_HANDSHAKE_TIMEOUT", 30*time.Second),
		ReadBufferSize:          getIntEnv("REALTIME_READ_BUFFER_SIZE", 0),
		SessionRetention:        getDurationEnv("SESSION_RETENTION", 15*time.Minute),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// UseAzure reports whether sessions connect to Azure OpenAI.
func (c *Config) UseAzure() bool {
	return c.AzureEndpoint != ""
}

// Validate checks that credentials for one realtime backend are present.
func (c *Config) Validate() error {
	if c.RateLimitRequests <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.UseAzure() {
		if c.AzureAPIKey == "" && c.AzureADToken == "" {
			return errors.New("AZURE_OPENAI_API_KEY or AZURE_OPENAI_AD_TOKEN is required with AZURE_OPENAI_ENDPOINT")
		}
		return nil
	}
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY or AZURE_OPENAI_ENDPOINT is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
