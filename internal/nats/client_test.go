package nats

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-relay/pkg/logger"
)

func TestConfig_TLS(t *testing.T) {
	tlsCfg, err := Config{}.tlsConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg, "no files means plain connections")

	_, err = Config{CertFile: "client.pem"}.tlsConfig()
	assert.Error(t, err, "a certificate needs its key")

	_, err = Config{CAFile: filepath.Join(t.TempDir(), "missing.pem")}.tlsConfig()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = Config{CAFile: bad}.tlsConfig()
	assert.ErrorContains(t, err, "parse CA")
}

func TestConfig_Options(t *testing.T) {
	opts, err := Config{Token: "secret"}.options(logger.Nop())
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	_, err = Config{KeyFile: "key.pem"}.options(logger.Nop())
	assert.Error(t, err)
}

func TestConnect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, Config{URL: "nats://127.0.0.1:1"}, logger.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}
