// Package enrollment runs the inbound and outbound certificate enrollment
// state machines.
//
// Inbound: a DFSP submits a CSR (CSR_LOADED) and the hub signs it
// (CERT_SIGNED). Outbound: the hub generates a key and CSR (CSR_LOADED),
// the DFSP CA signs it and the certificate is attached (CERT_SIGNED), then
// a successful validation promotes it to VALID. States never move
// backwards.
package enrollment

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/metadata"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/pki"
	"github.com/jmcleod/hubpki/validation"
)

// DefaultEnvironment is used when no environment option is given.
const DefaultEnvironment = "default"

// Record kinds passed to the id generator.
const (
	KindInbound  = "inbound-enrollment"
	KindOutbound = "outbound-enrollment"
)

// Service drives enrollments. It holds no state besides its collaborators
// and is safe for concurrent use.
type Service struct {
	engine   *pki.Engine
	inbound  metadata.Repository[*models.InboundEnrollment]
	outbound metadata.Repository[*models.OutboundEnrollment]
	resolver metadata.DFSPResolver
	ids      metadata.IDGenerator

	logger        *slog.Logger
	envID         string
	emailRequired bool
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEnvironment sets the environment whose current CA signs inbound
// enrollments.
func WithEnvironment(envID string) Option {
	return func(s *Service) { s.envID = envID }
}

// WithEmailRequired adds emailAddress to the mandatory subject attributes.
func WithEmailRequired(required bool) Option {
	return func(s *Service) { s.emailRequired = required }
}

// NewService returns a Service.
func NewService(engine *pki.Engine, inbound metadata.Repository[*models.InboundEnrollment], outbound metadata.Repository[*models.OutboundEnrollment], resolver metadata.DFSPResolver, ids metadata.IDGenerator, opts ...Option) *Service {
	s := &Service{
		engine:   engine,
		inbound:  inbound,
		outbound: outbound,
		resolver: resolver,
		ids:      ids,
		envID:    DefaultEnvironment,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "enrollment", "environment_id", s.envID)
	return s
}

func (s *Service) validationOptions() validation.Options {
	opts := s.engine.ValidationOptions()
	opts.EmailRequired = s.emailRequired
	return opts
}

func (s *Service) resolve(ctx context.Context, dfspID string) error {
	if _, err := s.resolver.Resolve(ctx, dfspID); err != nil {
		return fmt.Errorf("resolving DFSP %q: %w", dfspID, err)
	}
	return nil
}

// missing marks a lookup failure of an enrollment addressed by a caller.
func missing(kind, dfspID, id string, err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("%w: %s enrollment %s of DFSP %q: %w", errs.ErrInvalidEntity, kind, id, dfspID, err)
	}
	return err
}

// parseCSRInput turns a CSR parse failure into a validation error that
// still matches errs.ErrParse.
func parseCSRInput(csrPEM string) (*x509.CertificateRequest, error) {
	csr, err := inspect.ParseCSR(csrPEM)
	if err != nil {
		verr := validation.NewError("CSR cannot be parsed", nil)
		verr.Err = err
		return nil, verr
	}
	return csr, nil
}
