// Package config loads hub PKI settings from the environment.
//
// Values come from HUBPKI_* variables, optionally seeded from .env files.
// Variables already present in the process environment always win over the
// files.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/jmcleod/hubpki/pki"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/secrets/local"
	"github.com/jmcleod/hubpki/secrets/vault"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "HUBPKI_"

// Secret store backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendVault  = "vault"
)

// ErrInvalid is returned when the loaded configuration is unusable.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Config is the complete runtime configuration.
type Config struct {
	Backend     string `env:"BACKEND"      envDefault:"memory" validate:"oneof=memory local vault"`
	Environment string `env:"ENVIRONMENT"  envDefault:"default" validate:"required"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"   validate:"oneof=debug info warn error"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"   validate:"oneof=json text"`
	// DatabaseDSN selects the PostgreSQL metadata store. Empty keeps metadata
	// in memory.
	DatabaseDSN        string `env:"DATABASE_DSN"`
	HubJWSKeyAlgorithm string `env:"HUB_JWS_KEY_ALGORITHM" envDefault:"rsa2048"`
	EmailRequired      bool   `env:"EMAIL_REQUIRED"`
	// DFSPs are registered in the metadata directory at startup.
	DFSPs []string `env:"DFSPS" envSeparator:","`

	Local LocalConfig `envPrefix:"LOCAL_"`
	Vault VaultConfig `envPrefix:"VAULT_"`
}

// LocalConfig configures the bbolt backend and its CA executable.
type LocalConfig struct {
	Path       string `env:"PATH"       envDefault:"hubpki.db"`
	Passphrase string `env:"PASSPHRASE"`
	// SignerCommand is the CA executable followed by leading arguments.
	SignerCommand []string      `env:"SIGNER_COMMAND" envSeparator:" "`
	SignerArgs    []string      `env:"SIGNER_ARGS"    envSeparator:" "`
	SignerVersion string        `env:"SIGNER_VERSION"`
	SignerTimeout time.Duration `env:"SIGNER_TIMEOUT" envDefault:"30s" validate:"gt=0"`
}

// VaultConfig configures the Vault backend.
type VaultConfig struct {
	Address   string        `env:"ADDR"`
	Token     string        `env:"TOKEN"`
	RoleID    string        `env:"ROLE_ID"`
	SecretID  string        `env:"SECRET_ID"`
	AuthMount string        `env:"AUTH_MOUNT" envDefault:"approle"`
	KVMount   string        `env:"KV_MOUNT"   envDefault:"secret"`
	PKIMount  string        `env:"PKI_MOUNT"  envDefault:"pki"`
	PKIRole   string        `env:"PKI_ROLE"`
	Timeout   time.Duration `env:"TIMEOUT"    envDefault:"10s" validate:"gt=0"`

	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"200ms" validate:"gt=0"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL"     envDefault:"5s"    validate:"gt=0"`
	RetryMaxElapsedTime  time.Duration `env:"RETRY_MAX_ELAPSED_TIME" envDefault:"30s"   validate:"gt=0"`
	RetryMaxRetries      int           `env:"RETRY_MAX_RETRIES"      envDefault:"5"     validate:"gte=0"`
}

// Load reads files into the environment without overriding variables that
// are already set, then parses and validates the configuration. With no
// files, a .env in the working directory is used when present.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the settings each backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := pki.ParseKeyAlgorithm(c.HubJWSKeyAlgorithm); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var missing []string
	switch c.Backend {
	case BackendLocal:
		if c.Local.Path == "" {
			missing = append(missing, EnvPrefix+"LOCAL_PATH")
		}
		if c.Local.Passphrase == "" {
			missing = append(missing, EnvPrefix+"LOCAL_PASSPHRASE")
		}
		if len(c.Local.SignerCommand) > 0 && c.Local.SignerVersion == "" {
			missing = append(missing, EnvPrefix+"LOCAL_SIGNER_VERSION")
		}
	case BackendVault:
		if c.Vault.Address == "" {
			missing = append(missing, EnvPrefix+"VAULT_ADDR")
		}
		if c.Vault.Token == "" && (c.Vault.RoleID == "" || c.Vault.SecretID == "") {
			missing = append(missing, EnvPrefix+"VAULT_TOKEN or "+EnvPrefix+"VAULT_ROLE_ID and "+EnvPrefix+"VAULT_SECRET_ID")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s backend requires %s", ErrInvalid, c.Backend, strings.Join(missing, ", "))
	}
	return nil
}

// KeyAlgorithm returns the parsed hub JWS key algorithm.
func (c *Config) KeyAlgorithm() pki.KeyAlgorithm {
	alg, err := pki.ParseKeyAlgorithm(c.HubJWSKeyAlgorithm)
	if err != nil {
		return pki.RSA2048
	}
	return alg
}

// AdapterConfig returns the local backend settings. The signing CA is read
// from the CA secret of environment.
func (c LocalConfig) AdapterConfig(environment string) local.Config {
	return local.Config{
		Path:       c.Path,
		Passphrase: c.Passphrase,
		CAPath:     secrets.MustPath(secrets.CategoryCA, environment),
	}
}

// CommandSigner returns the CA executable runner, nil when no command is
// configured.
func (c LocalConfig) CommandSigner() *local.CommandSigner {
	if len(c.SignerCommand) == 0 {
		return nil
	}
	return &local.CommandSigner{
		Command:         c.SignerCommand,
		SignArgs:        c.SignerArgs,
		ExpectedVersion: c.SignerVersion,
		Timeout:         c.SignerTimeout,
	}
}

// AdapterConfig returns the Vault backend settings.
func (c VaultConfig) AdapterConfig() vault.Config {
	return vault.Config{
		Address:   c.Address,
		Token:     c.Token,
		RoleID:    c.RoleID,
		SecretID:  c.SecretID,
		AuthMount: c.AuthMount,
		KVMount:   c.KVMount,
		PKIMount:  c.PKIMount,
		PKIRole:   c.PKIRole,
		Timeout:   c.Timeout,
		Retry: vault.RetryConfig{
			InitialInterval: c.RetryInitialInterval,
			MaxInterval:     c.RetryMaxInterval,
			MaxElapsedTime:  c.RetryMaxElapsedTime,
			MaxRetries:      c.RetryMaxRetries,
		},
	}
}

// NewLogger returns a logger writing to stderr. format is "json" or "text";
// an unknown level falls back to info.
func NewLogger(level, format string) *slog.Logger {
	return newLogger(os.Stderr, level, format)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
