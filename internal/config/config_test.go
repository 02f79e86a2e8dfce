package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "NATS_URL", "REALTIME_DEFAULT_MODEL", "REALTIME_HANDSHAKE_TIMEOUT",
		"RATE_LIMIT_REQUESTS", "DANGEROUSLY_ALLOW_BROWSER", "AZURE_OPENAI_ENDPOINT",
		"CORS_ALLOWED_ORIGINS", "REALTIME_READ_BUFFER_SIZE", "SESSION_RETENTION",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "gpt-4o-realtime-preview", cfg.DefaultModel)
	assert.Equal(t, 30*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 60, cfg.RateLimitRequests)
	assert.False(t, cfg.DangerouslyAllowBrowser)
	assert.False(t, cfg.UseAzure())
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Zero(t, cfg.ReadBufferSize)
	assert.Equal(t, 15*time.Minute, cfg.SessionRetention)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REALTIME_HANDSHAKE_TIMEOUT", "5s")
	t.Setenv("DANGEROUSLY_ALLOW_BROWSER", "true")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("REALTIME_READ_BUFFER_SIZE", "65536")
	t.Setenv("SESSION_RETENTION", "1m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.True(t, cfg.DangerouslyAllowBrowser)
	assert.Equal(t, 60, cfg.RateLimitRequests, "invalid values fall back to the default")
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 65536, cfg.ReadBufferSize)
	assert.Equal(t, time.Minute, cfg.SessionRetention)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "no credentials", cfg: Config{RateLimitRequests: 1}, wantErr: true},
		{name: "openai key", cfg: Config{RateLimitRequests: 1, OpenAIAPIKey: "sk"}},
		{name: "azure without credentials", cfg: Config{RateLimitRequests: 1, AzureEndpoint: "https://r"}, wantErr: true},
		{name: "azure key", cfg: Config{RateLimitRequests: 1, AzureEndpoint: "https://r", AzureAPIKey: "k"}},
		{name: "azure token", cfg: Config{RateLimitRequests: 1, AzureEndpoint: "https://r", AzureADToken: "t"}},
		{name: "bad rate limit", cfg: Config{OpenAIAPIKey: "sk"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
