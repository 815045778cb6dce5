package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "6000", cfg.HTTPPort)
	assert.Equal(t, LedgerModeHTTP, cfg.LedgerMode)
	assert.Equal(t, time.Hour, cfg.JWTTTL)
	assert.Equal(t, 5*time.Minute, cfg.NonceTTL)
	assert.Equal(t, 30*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 10, cfg.DBConnectTries)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agritrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: \"7000\"\nledger_mode: memory\njwt_secret: from-file\n"), 0o600))

	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.HTTPPort)
	assert.Equal(t, LedgerModeMemory, cfg.LedgerMode)
	assert.Equal(t, "from-env", cfg.JWTSecret)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		cfg.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "memory ledger without endpoint", mutate: func(c *Config) { c.LedgerMode = LedgerModeMemory; c.L1Endpoint = "" }},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: true},
		{name: "http ledger without endpoint", mutate: func(c *Config) { c.L1Endpoint = "" }, wantErr: true},
		{name: "unknown ledger mode", mutate: func(c *Config) { c.LedgerMode = "carrier-pigeon" }, wantErr: true},
		{name: "zero jwt ttl", mutate: func(c *Config) { c.JWTTTL = 0 }, wantErr: true},
		{name: "day long jwt ttl", mutate: func(c *Config) { c.JWTTTL = 24 * time.Hour }, wantErr: true},
		{name: "short jwt ttl", mutate: func(c *Config) { c.JWTTTL = time.Minute }, wantErr: true},
		{name: "zero nonce ttl", mutate: func(c *Config) { c.NonceTTL = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigRejectsSessionTTLOverride(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_TTL", "24h")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.ErrorContains(t, cfg.Validate(), "JWT_TTL")
}
