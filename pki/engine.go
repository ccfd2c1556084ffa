// Package pki is the hub's PKI Engine. It composes a secret store adapter,
// the metadata repositories and the validation engine to manage the
// environment CA, hub and DFSP JWS keys, server certificates and DFSP trust
// anchors.
//
// The engine keeps no cache: every read goes to the secret store or the
// metadata store, so concurrent requests observe the last committed write.
package pki

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/metadata"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/validation"
)

// Engine performs PKI operations. It is safe for concurrent use.
type Engine struct {
	adapter  secrets.Adapter
	cas      metadata.Repository[*models.CertificateAuthority]
	resolver metadata.DFSPResolver
	ids      metadata.IDGenerator

	logger    *slog.Logger
	audit     *audit.Logger
	now       func() time.Time
	keys      KeyGenerator
	hubJWSAlg KeyAlgorithm

	// caMu serialises CA replacement so that at most one row per
	// environment is current.
	caMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAudit sets the audit logger. Without it audit records go through the
// engine logger.
func WithAudit(a *audit.Logger) Option {
	return func(e *Engine) { e.audit = a }
}

// WithClock sets the time source used for timestamps and validity checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithKeyGenerator sets the generator for CA, server, JWS and CSR keys.
func WithKeyGenerator(g KeyGenerator) Option {
	return func(e *Engine) { e.keys = g }
}

// WithHubJWSKeyAlgorithm sets the algorithm of generated hub JWS keys.
func WithHubJWSKeyAlgorithm(alg KeyAlgorithm) Option {
	return func(e *Engine) { e.hubJWSAlg = alg }
}

// NewEngine returns an Engine over adapter and the CA repository.
func NewEngine(adapter secrets.Adapter, cas metadata.Repository[*models.CertificateAuthority], resolver metadata.DFSPResolver, ids metadata.IDGenerator, opts ...Option) *Engine {
	e := &Engine{
		adapter:   adapter,
		cas:       cas,
		resolver:  resolver,
		ids:       ids,
		now:       time.Now,
		keys:      SoftwareKeyGenerator{},
		hubJWSAlg: RSA2048,
	}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "pki")
	if e.audit == nil {
		e.audit = audit.New(e.logger)
	}
	return e
}

// Now returns the engine clock reading in UTC.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// Keys returns the engine key generator.
func (e *Engine) Keys() KeyGenerator { return e.keys }

// Audit returns the engine audit logger.
func (e *Engine) Audit() *audit.Logger { return e.audit }

// ValidationOptions returns the options the engine validates with.
func (e *Engine) ValidationOptions() validation.Options {
	return validation.Options{Now: e.Now()}
}

func (e *Engine) resolveDFSP(ctx context.Context, dfspID string) (*metadata.DFSP, error) {
	d, err := e.resolver.Resolve(ctx, dfspID)
	if err != nil {
		return nil, fmt.Errorf("resolving DFSP %q: %w", dfspID, err)
	}
	return d, nil
}

// entityMeta is the JSON kept in the metadata field of secret-backed
// entities.
type entityMeta struct {
	models.Validated
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

func encodeMeta(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errs.Internalf("encoding metadata: %v", err)
	}
	return string(data), nil
}

func decodeMeta(s secrets.Secret, v any) error {
	raw, ok := s[secrets.FieldMetadata]
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errs.Internalf("decoding metadata: %v", err)
	}
	return nil
}
