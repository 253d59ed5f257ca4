package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	assert.Equal(t, "config error in 'field': message", err.Error())
	assert.ErrorIs(t, err, ErrConfigurationError)

	err = NewConfigError("", "general error")
	assert.Equal(t, "config error: general error", err.Error())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBytesReserved, cfg.Signing.BytesReserved)
	assert.Equal(t, "openssl", cfg.Signing.Toolkit)
	assert.Equal(t, 10*time.Second, cfg.Signing.ToolkitTimeout)
	assert.True(t, cfg.Signing.ShouldVerify())
	assert.False(t, cfg.Signing.CryptoEnabled())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "casesign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
signing:
  certificate-path: /etc/casesign/signer.p12
  certificate-password: secret
  signer-name: Records Office
  toolkit-timeout: 3s
  bytes-reserved: 32768
  verify-after-sign: false
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Signing.CryptoEnabled())
	assert.Equal(t, "/etc/casesign", cfg.Signing.ChainDir)
	assert.Equal(t, "Records Office", cfg.Signing.SignerName)
	assert.Equal(t, 3*time.Second, cfg.Signing.ToolkitTimeout)
	assert.Equal(t, 32768, cfg.Signing.BytesReserved)
	assert.False(t, cfg.Signing.ShouldVerify())
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"small budget", "signing:\n  bytes-reserved: 512\n", "bytes-reserved"},
		{"negative budget", "signing:\n  bytes-reserved: -1\n", "bytes-reserved"},
		{"negative timeout", "signing:\n  toolkit-timeout: -1s\n", "toolkit-timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "casesign.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, ErrConfigurationError)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("signing: [unterminated"))
	assert.ErrorIs(t, err, ErrConfigurationError)
}
