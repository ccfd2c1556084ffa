package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/hubpki/pki"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "default", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, pki.RSA2048, cfg.KeyAlgorithm())
	assert.Equal(t, 30*time.Second, cfg.Local.SignerTimeout)
	assert.Equal(t, "secret", cfg.Vault.KVMount)
	assert.Equal(t, 200*time.Millisecond, cfg.Vault.RetryInitialInterval)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "hubpki.env")
	require.NoError(t, os.WriteFile(file, []byte(`HUBPKI_BACKEND=local
HUBPKI_ENVIRONMENT=from-file
HUBPKI_LOCAL_PATH=/var/lib/hubpki/secrets.db
HUBPKI_LOCAL_PASSPHRASE="correct horse"
HUBPKI_LOCAL_SIGNER_COMMAND="/usr/bin/hubca --quiet"
HUBPKI_LOCAL_SIGNER_VERSION=1.4.0
HUBPKI_DFSPS=dfsp-a,dfsp-b
`), 0o600))

	// Already-set variables win over the file.
	t.Setenv("HUBPKI_ENVIRONMENT", "from-env")
	for _, k := range []string{"HUBPKI_BACKEND", "HUBPKI_LOCAL_PATH", "HUBPKI_LOCAL_PASSPHRASE",
		"HUBPKI_LOCAL_SIGNER_COMMAND", "HUBPKI_LOCAL_SIGNER_VERSION", "HUBPKI_DFSPS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, "from-env", cfg.Environment)
	assert.Equal(t, []string{"/usr/bin/hubca", "--quiet"}, cfg.Local.SignerCommand)
	assert.Equal(t, []string{"dfsp-a", "dfsp-b"}, cfg.DFSPs)

	adapterCfg := cfg.Local.AdapterConfig(cfg.Environment)
	assert.Equal(t, "/var/lib/hubpki/secrets.db", adapterCfg.Path)
	assert.Equal(t, "correct horse", adapterCfg.Passphrase)
	assert.Equal(t, "ca/from-env", adapterCfg.CAPath)

	signer := cfg.Local.CommandSigner()
	require.NotNil(t, signer)
	assert.Equal(t, "1.4.0", signer.ExpectedVersion)
	assert.Equal(t, 30*time.Second, signer.Timeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend:     BackendMemory,
			Environment: "default",
			LogLevel:    "info",
			LogFormat:   "json",
			Local:       LocalConfig{SignerTimeout: time.Second},
			Vault: VaultConfig{
				Timeout:              time.Second,
				RetryInitialInterval: time.Millisecond,
				RetryMaxInterval:     time.Second,
				RetryMaxElapsedTime:  time.Second,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"Memory", func(*Config) {}, ""},
		{"UnknownBackend", func(c *Config) { c.Backend = "s3" }, "Backend"},
		{"UnknownLevel", func(c *Config) { c.LogLevel = "trace" }, "LogLevel"},
		{"UnknownAlgorithm", func(c *Config) { c.HubJWSKeyAlgorithm = "dsa" }, "dsa"},
		{"LocalWithoutPassphrase", func(c *Config) {
			c.Backend = BackendLocal
			c.Local.Path = "x.db"
		}, "HUBPKI_LOCAL_PASSPHRASE"},
		{"LocalSignerWithoutVersion", func(c *Config) {
			c.Backend = BackendLocal
			c.Local.Path = "x.db"
			c.Local.Passphrase = "p"
			c.Local.SignerCommand = []string{"hubca"}
		}, "HUBPKI_LOCAL_SIGNER_VERSION"},
		{"VaultWithoutAuth", func(c *Config) {
			c.Backend = BackendVault
			c.Vault.Address = "http://127.0.0.1:8200"
			c.Vault.RoleID = "role"
		}, "HUBPKI_VAULT_TOKEN"},
		{"VaultAppRole", func(c *Config) {
			c.Backend = BackendVault
			c.Vault.Address = "http://127.0.0.1:8200"
			c.Vault.RoleID = "role"
			c.Vault.SecretID = "secret"
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVaultAdapterConfig(t *testing.T) {
	c := VaultConfig{
		Address:             "https://vault:8200",
		Token:               "s.token",
		KVMount:             "kv",
		RetryMaxRetries:     2,
		RetryMaxElapsedTime: time.Minute,
	}
	got := c.AdapterConfig()
	assert.Equal(t, "https://vault:8200", got.Address)
	assert.Equal(t, "kv", got.KVMount)
	assert.Equal(t, 2, got.Retry.MaxRetries)
	assert.Equal(t, time.Minute, got.Retry.MaxElapsedTime)
}

func TestCommandSigner_Unconfigured(t *testing.T) {
	assert.Nil(t, LocalConfig{}.CommandSigner())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown k=v")

	buf.Reset()
	newLogger(&buf, "debug", "json").Debug("detail")
	assert.Contains(t, buf.String(), `"msg":"detail"`)

	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
}
