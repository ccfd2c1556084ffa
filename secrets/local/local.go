// Package local implements the local administrative secret backend:
// secrets sealed into a BBolt file and CSRs signed by an external CA
// executable.
//
// Each top-level path category is a bucket and the rest of the path is the
// key. Values are AES-256-GCM envelopes under a per-category key expanded
// from a passphrase-derived master key. The master key lives in a memguard
// enclave while the adapter is connected.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/internal/util"
	"github.com/jmcleod/hubpki/secrets"
)

const (
	metaBucket = "_hubpki"
	saltKey    = "salt"
	kdfKey     = "kdf"
	saltSize   = 32
)

// Config configures the local backend.
type Config struct {
	// Path is the BBolt database file, created with mode 0600.
	Path string
	// Passphrase protects every stored secret.
	Passphrase string
	// KDF overrides the argon2id cost used when the file is first created.
	KDF util.Argon2idParams
	// CAPath is the secret holding the CA certificate and key used by Sign.
	CAPath string
	// BoltOptions are passed to bbolt.Open.
	BoltOptions *bbolt.Options
}

// Adapter is the local secrets.Adapter.
type Adapter struct {
	cfg    Config
	signer *CommandSigner
	logger *slog.Logger

	mu   sync.RWMutex
	db   *bbolt.DB
	key  *memguard.Enclave
	salt []byte
}

var (
	_ secrets.Adapter        = (*Adapter)(nil)
	_ secrets.VersionChecker = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New returns a disconnected Adapter. signer may be nil, in which case Sign
// always fails.
func New(cfg Config, signer *CommandSigner, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg, signer: signer, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "secrets.local")
	return a
}

// Connect opens the database and derives the master key. Calling it on a
// connected adapter is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}
	if a.cfg.Passphrase == "" {
		return fmt.Errorf("local secret store: passphrase must not be empty")
	}

	db, err := bbolt.Open(a.cfg.Path, 0o600, a.cfg.BoltOptions)
	if err != nil {
		return &errs.ConnectionError{Op: "connect", Err: fmt.Errorf("opening bbolt db: %w", err)}
	}

	salt, params, err := a.loadOrInitMeta(db)
	if err != nil {
		db.Close()
		return err
	}
	master, err := util.DeriveArgon2idKey(a.cfg.Passphrase, salt, params)
	if err != nil {
		db.Close()
		return fmt.Errorf("deriving master key: %w", err)
	}

	a.key = memguard.NewEnclave(master)
	a.salt = salt
	a.db = db
	a.logger.Info("local secret store connected", slog.String("path", a.cfg.Path))
	return nil
}

func (a *Adapter) loadOrInitMeta(db *bbolt.DB) ([]byte, util.Argon2idParams, error) {
	var (
		salt   []byte
		params util.Argon2idParams
	)
	err := db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		if s := b.Get([]byte(saltKey)); s != nil {
			salt = slices.Clone(s)
			return json.Unmarshal(b.Get([]byte(kdfKey)), &params)
		}

		salt, err = util.RandomBytes(saltSize)
		if err != nil {
			return err
		}
		params = a.cfg.KDF
		if params == (util.Argon2idParams{}) {
			params = util.DefaultArgon2idParams()
		}
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(saltKey), salt); err != nil {
			return err
		}
		return b.Put([]byte(kdfKey), encoded)
	})
	if err != nil {
		return nil, params, fmt.Errorf("initialising store metadata: %w", err)
	}
	return salt, params, nil
}

// Disconnect closes the database and drops the master key. Calling it on a
// disconnected adapter is a no-op.
func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	a.key = nil
	a.salt = nil
	return err
}

func (a *Adapter) connected(op string) (*bbolt.DB, error) {
	if a.db == nil {
		return nil, &errs.ConnectionError{Op: op, Err: fmt.Errorf("local secret store is not connected")}
	}
	return a.db, nil
}

// categoryKey expands the master key for one bucket. Callers wipe the result.
func (a *Adapter) categoryKey(category string) ([]byte, error) {
	buf, err := a.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key: %w", err)
	}
	defer buf.Destroy()
	return util.DeriveSubkey(buf.Bytes(), a.salt, "hubpki/secrets/"+category)
}

func splitPath(path string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.Trim(path, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: secret path %q needs a category and a scope", errs.ErrInvalidEntity, path)
	}
	if bucket == metaBucket {
		return "", "", fmt.Errorf("%w: category %q is reserved", errs.ErrInvalidEntity, bucket)
	}
	return bucket, key, nil
}

func (a *Adapter) Get(ctx context.Context, path string) (secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bucket, key, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.connected("get")
	if err != nil {
		return nil, err
	}

	var env secrets.Envelope
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("secret %s: %w", path, errs.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("secret %s: %w", path, errs.ErrNotFound)
		}
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, err
	}

	ck, err := a.categoryKey(bucket)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(ck)
	value, err := secrets.OpenSecret(ck, bucket+"/"+key, &env)
	if err != nil {
		return nil, fmt.Errorf("opening secret %s: %w", path, err)
	}
	return value, nil
}

func (a *Adapter) Set(ctx context.Context, path string, value secrets.Secret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket, key, err := splitPath(path)
	if err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.connected("set")
	if err != nil {
		return err
	}

	ck, err := a.categoryKey(bucket)
	if err != nil {
		return err
	}
	defer util.WipeBytes(ck)
	env, err := secrets.SealSecret(ck, bucket+"/"+key, value)
	if err != nil {
		return fmt.Errorf("%w: sealing %s: %v", errs.ErrWrite, path, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", errs.ErrWrite, path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", errs.ErrWrite, path, err)
	}
	return nil
}

func (a *Adapter) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bucket, key, err := splitPath(path)
	if err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.connected("delete")
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil || b.Get([]byte(key)) == nil {
			return fmt.Errorf("secret %s: %w", path, errs.ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

func (a *Adapter) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	db, err := a.connected("list")
	if err != nil {
		return nil, err
	}

	bucket, rest, _ := strings.Cut(strings.Trim(prefix, "/"), "/")
	var names []string
	err = db.View(func(tx *bbolt.Tx) error {
		if bucket == "" {
			return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
				if string(name) != metaBucket {
					names = append(names, string(name))
				}
				return nil
			})
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		seek := []byte(rest)
		var keys []string
		c := b.Cursor()
		for k, _ := c.Seek(seek); k != nil && strings.HasPrefix(string(k), rest); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		names = secrets.ChildNames(rest, keys)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// Sign signs csrPEM with the CA stored at Config.CAPath through the external
// CA executable.
func (a *Adapter) Sign(ctx context.Context, csrPEM, commonName string) (string, error) {
	if a.signer == nil {
		return "", &errs.SigningError{Err: fmt.Errorf("no CA executable configured")}
	}
	ca, err := a.Get(ctx, a.cfg.CAPath)
	if err != nil {
		return "", &errs.SigningError{Err: fmt.Errorf("loading signing CA: %w", err)}
	}
	certPEM, err := a.signer.Sign(ctx, ca[secrets.FieldCertificate], ca[secrets.FieldPrivateKey], csrPEM, commonName)
	if err != nil {
		a.logger.Warn("external CA signing failed", slog.String("error", err.Error()))
		return "", err
	}
	return certPEM, nil
}

// CheckVersion probes the CA executable version.
func (a *Adapter) CheckVersion(ctx context.Context) error {
	if a.signer == nil {
		return fmt.Errorf("no CA executable configured")
	}
	return a.signer.CheckVersion(ctx)
}
