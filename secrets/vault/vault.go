// Package vault implements the networked secret backend on HashiCorp Vault:
// secrets in a KV v2 mount, CSR signing and CA import through a PKI mount.
//
// Every call runs under an exponential backoff with jitter. Only transient
// failures are retried; logical errors surface immediately.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/vault/api"
	"github.com/mitchellh/mapstructure"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/secrets"
)

const (
	DefaultKVMount   = "secret"
	DefaultPKIMount  = "pki"
	DefaultAuthMount = "approle"
)

// RetryConfig bounds the retry loop around every Vault call.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// MaxRetries caps the attempts after the first. Zero means only
	// MaxElapsedTime applies.
	MaxRetries int
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		MaxRetries:      5,
	}
}

// Config configures the Vault backend. Token takes precedence over AppRole
// credentials.
type Config struct {
	Address   string
	Token     string
	RoleID    string
	SecretID  string
	AuthMount string
	KVMount   string
	PKIMount  string
	// PKIRole selects <pki>/sign/<role>. Empty uses sign-verbatim.
	PKIRole string
	// Timeout applies to each HTTP request.
	Timeout time.Duration
	Retry   RetryConfig
}

func (c *Config) applyDefaults() {
	if c.KVMount == "" {
		c.KVMount = DefaultKVMount
	}
	if c.PKIMount == "" {
		c.PKIMount = DefaultPKIMount
	}
	if c.AuthMount == "" {
		c.AuthMount = DefaultAuthMount
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig()
	}
	c.KVMount = strings.Trim(c.KVMount, "/")
	c.PKIMount = strings.Trim(c.PKIMount, "/")
}

// Adapter is the Vault secrets.Adapter.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	client *api.Client
}

var (
	_ secrets.Adapter    = (*Adapter)(nil)
	_ secrets.CAImporter = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New returns a disconnected Adapter.
func New(cfg Config, opts ...Option) *Adapter {
	cfg.applyDefaults()
	a := &Adapter{cfg: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "secrets.vault")
	return a
}

// Connect builds the client and authenticates. Calling it on a connected
// adapter is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return fmt.Errorf("vault config: %w", apiCfg.Error)
	}
	apiCfg.Address = a.cfg.Address
	apiCfg.MaxRetries = 0
	if a.cfg.Timeout > 0 {
		apiCfg.Timeout = a.cfg.Timeout
	}
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return fmt.Errorf("creating vault client: %w", err)
	}

	switch {
	case a.cfg.Token != "":
		client.SetToken(a.cfg.Token)
	case a.cfg.RoleID != "":
		if err := a.login(ctx, client); err != nil {
			return err
		}
	default:
		return fmt.Errorf("vault: neither a token nor AppRole credentials are configured")
	}

	a.client = client
	a.logger.Info("vault secret backend connected", slog.String("address", a.cfg.Address))
	return nil
}

func (a *Adapter) login(ctx context.Context, client *api.Client) error {
	var token string
	err := a.retry(ctx, "login", func(ctx context.Context) error {
		resp, err := client.Logical().WriteWithContext(ctx, "auth/"+a.cfg.AuthMount+"/login", map[string]any{
			"role_id":   a.cfg.RoleID,
			"secret_id": a.cfg.SecretID,
		})
		if err != nil {
			return err
		}
		if resp == nil || resp.Auth == nil || resp.Auth.ClientToken == "" {
			return backoff.Permanent(fmt.Errorf("approle login returned no client token"))
		}
		token = resp.Auth.ClientToken
		return nil
	})
	if err != nil {
		return fmt.Errorf("vault approle login: %w", err)
	}
	client.SetToken(token)
	return nil
}

// Disconnect drops the client and its token. Calling it on a disconnected
// adapter is a no-op.
func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.ClearToken()
		a.client = nil
	}
	return nil
}

func (a *Adapter) logical(op string) (*api.Logical, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, &errs.ConnectionError{Op: op, Err: fmt.Errorf("vault backend is not connected")}
	}
	return a.client.Logical(), nil
}

func (a *Adapter) dataPath(path string) string {
	return a.cfg.KVMount + "/data/" + strings.Trim(path, "/")
}

func (a *Adapter) metadataPath(path string) string {
	return strings.TrimSuffix(a.cfg.KVMount+"/metadata/"+strings.Trim(path, "/"), "/")
}

func (a *Adapter) Get(ctx context.Context, path string) (secrets.Secret, error) {
	logical, err := a.logical("get")
	if err != nil {
		return nil, err
	}
	var resp *api.Secret
	err = a.retry(ctx, "get", func(ctx context.Context) error {
		resp, err = logical.ReadWithContext(ctx, a.dataPath(path))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading secret %s: %w", path, err)
	}
	if resp == nil || resp.Data == nil || resp.Data["data"] == nil {
		return nil, fmt.Errorf("secret %s: %w", path, errs.ErrNotFound)
	}
	value, err := decodeSecret(resp.Data["data"])
	if err != nil {
		return nil, fmt.Errorf("decoding secret %s: %w", path, err)
	}
	return value, nil
}

func decodeSecret(raw any) (secrets.Secret, error) {
	value := secrets.Secret{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &value,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	return value, nil
}

func (a *Adapter) Set(ctx context.Context, path string, value secrets.Secret) error {
	logical, err := a.logical("set")
	if err != nil {
		return err
	}
	data := make(map[string]any, len(value))
	for k, v := range value {
		data[k] = v
	}
	err = a.retry(ctx, "set", func(ctx context.Context) error {
		_, err := logical.WriteWithContext(ctx, a.dataPath(path), map[string]any{"data": data})
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", errs.ErrWrite, path, err)
	}
	return nil
}

func (a *Adapter) List(ctx context.Context, prefix string) ([]string, error) {
	logical, err := a.logical("list")
	if err != nil {
		return nil, err
	}
	var resp *api.Secret
	err = a.retry(ctx, "list", func(ctx context.Context) error {
		resp, err = logical.ListWithContext(ctx, a.metadataPath(prefix))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	if resp == nil || resp.Data == nil {
		return []string{}, nil
	}
	var keys []string
	if err := mapstructure.Decode(resp.Data["keys"], &keys); err != nil {
		return nil, fmt.Errorf("decoding list of %s: %w", prefix, err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSuffix(k, "/"); k != "" && !slices.Contains(names, k) {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes every version of the secret at path.
func (a *Adapter) Delete(ctx context.Context, path string) error {
	if _, err := a.Get(ctx, path); err != nil {
		return err
	}
	logical, err := a.logical("delete")
	if err != nil {
		return err
	}
	err = a.retry(ctx, "delete", func(ctx context.Context) error {
		_, err := logical.DeleteWithContext(ctx, a.metadataPath(path))
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: deleting %s: %v", errs.ErrWrite, path, err)
	}
	return nil
}

type signResponse struct {
	Certificate  string   `mapstructure:"certificate"`
	IssuingCA    string   `mapstructure:"issuing_ca"`
	CAChain      []string `mapstructure:"ca_chain"`
	SerialNumber string   `mapstructure:"serial_number"`
}

// Sign signs csrPEM through the PKI mount.
func (a *Adapter) Sign(ctx context.Context, csrPEM, commonName string) (string, error) {
	logical, err := a.logical("sign")
	if err != nil {
		return "", &errs.SigningError{Err: err}
	}
	path := a.cfg.PKIMount + "/sign-verbatim"
	if a.cfg.PKIRole != "" {
		path = a.cfg.PKIMount + "/sign/" + a.cfg.PKIRole
	}
	data := map[string]any{"csr": csrPEM, "format": "pem"}
	if commonName != "" {
		data["common_name"] = commonName
	}

	var resp *api.Secret
	err = a.retry(ctx, "sign", func(ctx context.Context) error {
		resp, err = logical.WriteWithContext(ctx, path, data)
		return err
	})
	if err != nil {
		return "", &errs.SigningError{Err: err}
	}
	if resp == nil {
		return "", &errs.SigningError{Err: fmt.Errorf("empty response from %s", path)}
	}
	var out signResponse
	if err := mapstructure.Decode(resp.Data, &out); err != nil {
		return "", &errs.SigningError{Err: fmt.Errorf("decoding sign response: %w", err)}
	}
	if out.Certificate == "" {
		return "", &errs.SigningError{Err: fmt.Errorf("sign response carries no certificate")}
	}
	a.logger.Debug("csr signed by vault pki", slog.String("serial", out.SerialNumber))
	return strings.TrimSpace(out.Certificate) + "\n", nil
}

// ImportCA replaces the issuing CA of the PKI mount.
func (a *Adapter) ImportCA(ctx context.Context, certPEM, keyPEM string) error {
	logical, err := a.logical("import_ca")
	if err != nil {
		return err
	}
	bundle := strings.TrimSpace(certPEM) + "\n" + strings.TrimSpace(keyPEM) + "\n"
	err = a.retry(ctx, "import_ca", func(ctx context.Context) error {
		_, err := logical.WriteWithContext(ctx, a.cfg.PKIMount+"/config/ca", map[string]any{"pem_bundle": bundle})
		return err
	})
	if err != nil {
		if errors.Is(err, errs.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: importing CA: %v", errs.ErrWrite, err)
	}
	return nil
}
