// Package memory provides a thread-safe in-memory secrets.Adapter.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/secrets"
)

// SignFunc signs csrPEM, optionally overriding its common name.
type SignFunc func(ctx context.Context, csrPEM, commonName string) (string, error)

// Adapter keeps secrets in a map. Values are cloned on the way in and out so
// callers never share state with the store. Suitable for tests, demos and
// dry runs.
type Adapter struct {
	mu        sync.RWMutex
	data      map[string]secrets.Secret
	connected bool
	sign      SignFunc
	importCA  func(certPEM, keyPEM string)
}

var (
	_ secrets.Adapter    = (*Adapter)(nil)
	_ secrets.CAImporter = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithSignFunc sets the function used by Sign.
func WithSignFunc(fn SignFunc) Option {
	return func(a *Adapter) { a.sign = fn }
}

// WithCAImportHook is called by ImportCA, letting a test signer follow CA changes.
func WithCAImportHook(fn func(certPEM, keyPEM string)) Option {
	return func(a *Adapter) { a.importCA = fn }
}

// New returns an empty, connected Adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{data: make(map[string]secrets.Secret), connected: true}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Connect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *Adapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Adapter) checkConnected(op string) error {
	if !a.connected {
		return &errs.ConnectionError{Op: op, Err: fmt.Errorf("adapter is disconnected")}
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, path string) (secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkConnected("get"); err != nil {
		return nil, err
	}
	s, ok := a.data[path]
	if !ok {
		return nil, fmt.Errorf("secret %s: %w", path, errs.ErrNotFound)
	}
	return s.Clone(), nil
}

func (a *Adapter) Set(ctx context.Context, path string, value secrets.Secret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected("set"); err != nil {
		return err
	}
	a.data[path] = value.Clone()
	return nil
}

func (a *Adapter) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkConnected("list"); err != nil {
		return nil, err
	}
	return secrets.ChildNames(prefix, slices.Collect(maps.Keys(a.data))), nil
}

func (a *Adapter) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected("delete"); err != nil {
		return err
	}
	if _, ok := a.data[path]; !ok {
		return fmt.Errorf("secret %s: %w", path, errs.ErrNotFound)
	}
	delete(a.data, path)
	return nil
}

func (a *Adapter) Sign(ctx context.Context, csrPEM, commonName string) (string, error) {
	if a.sign == nil {
		return "", &errs.SigningError{Err: fmt.Errorf("no signer configured")}
	}
	certPEM, err := a.sign(ctx, csrPEM, commonName)
	if err != nil {
		return "", &errs.SigningError{Err: err}
	}
	return certPEM, nil
}

func (a *Adapter) ImportCA(_ context.Context, certPEM, keyPEM string) error {
	if a.importCA != nil {
		a.importCA(certPEM, keyPEM)
	}
	return nil
}

// Len returns the number of stored secrets.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
