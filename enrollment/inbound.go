package enrollment

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/validation"
)

// SignOptions tune SignInbound.
type SignOptions struct {
	// CommonName replaces the CSR common name in the issued certificate.
	CommonName string
}

// CreateInbound records a CSR submitted by dfspID. Submitting a CSR that is
// byte-identical to one already waiting in CSR_LOADED returns that
// enrollment instead of creating another. An unparsable CSR fails with a
// *validation.Error that also matches errs.ErrParse; a parsable but
// INVALID CSR is recorded with its results.
func (s *Service) CreateInbound(ctx context.Context, dfspID, csrPEM string) (*models.InboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}

	pending, err := s.inbound.FindByState(ctx, dfspID, string(models.InboundCSRLoaded))
	if err != nil {
		return nil, fmt.Errorf("loading pending enrollments: %w", err)
	}
	for _, e := range pending {
		if e.CSR == csrPEM {
			s.logger.DebugContext(ctx, "identical CSR already pending",
				slog.String("dfsp_id", dfspID), slog.String("enrollment_id", e.ID))
			return e, nil
		}
	}

	csr, err := parseCSRInput(csrPEM)
	if err != nil {
		return nil, err
	}
	id, err := s.ids.NextID(ctx, KindInbound)
	if err != nil {
		return nil, fmt.Errorf("allocating enrollment id: %w", err)
	}
	now := s.engine.Now()
	e := &models.InboundEnrollment{
		ID:            id,
		DFSPID:        dfspID,
		EnvironmentID: s.envID,
		CSR:           csrPEM,
		CSRInfo:       inspect.CSRInfoFrom(csr),
		State:         models.InboundCSRLoaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.SetValidations(validation.ValidateCSR(csr, s.validationOptions()))

	if err := s.inbound.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("recording inbound enrollment: %w", err)
	}
	s.engine.Audit().Log(ctx, audit.EnrollmentCreated,
		slog.String("direction", "inbound"),
		slog.String("dfsp_id", dfspID),
		slog.String("enrollment_id", id),
		slog.String("validation_state", string(e.ValidationState)),
	)
	return e, nil
}

// SignInbound signs the CSR of an inbound enrollment with the current CA of
// the service environment and moves it to CERT_SIGNED. The recorded
// validations cover both the CSR and the issued certificate.
//
// When ctx is cancelled before the result is committed nothing is written
// and the enrollment stays CSR_LOADED. Once the commit starts it completes
// regardless of cancellation. Signing an enrollment that is already
// CERT_SIGNED returns it unchanged.
func (s *Service) SignInbound(ctx context.Context, dfspID, id string, opts SignOptions) (*models.InboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	e, err := s.inbound.FindByID(ctx, dfspID, id)
	if err != nil {
		return nil, missing("inbound", dfspID, id, err)
	}
	if e.State == models.InboundCertSigned {
		return e, nil
	}

	csr, err := inspect.ParseCSR(e.CSR)
	if err != nil {
		return nil, errs.Internalf("stored CSR of enrollment %s: %v", id, err)
	}
	certPEM, err := s.engine.SignCSR(ctx, e.CSR, opts.CommonName)
	if err != nil {
		return nil, err
	}
	cert, err := inspect.ParseCertificate(certPEM)
	if err != nil {
		return nil, &errs.SigningError{Err: err}
	}
	caCert, err := s.engine.CurrentCACertificate(ctx, s.envID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	var issuers []*x509.Certificate
	if caCert != nil {
		issuers = append(issuers, caCert)
	}

	vopts := s.validationOptions()
	results := validation.ValidateCSR(csr, vopts)
	results = append(results, validation.ValidateEnrollmentCertificate(csr, cert, issuers, vopts)...)

	if err := e.Advance(models.InboundCertSigned); err != nil {
		return nil, err
	}
	e.Certificate = certPEM
	e.CertInfo = inspect.CertInfoFrom(cert)
	e.SetValidations(results)
	e.UpdatedAt = s.engine.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.inbound.Update(context.WithoutCancel(ctx), e); err != nil {
		return nil, fmt.Errorf("recording signed enrollment: %w", err)
	}

	s.engine.Audit().Log(ctx, audit.EnrollmentSigned,
		slog.String("dfsp_id", dfspID),
		slog.String("enrollment_id", id),
		slog.String("serial", cert.SerialNumber.Text(16)),
		slog.String("validation_state", string(e.ValidationState)),
	)
	return e, nil
}

// GetInbound returns one inbound enrollment of dfspID.
func (s *Service) GetInbound(ctx context.Context, dfspID, id string) (*models.InboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	e, err := s.inbound.FindByID(ctx, dfspID, id)
	if err != nil {
		return nil, missing("inbound", dfspID, id, err)
	}
	return e, nil
}

// ListInbound returns the inbound enrollments of dfspID, oldest first.
func (s *Service) ListInbound(ctx context.Context, dfspID string) ([]*models.InboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	return s.inbound.List(ctx, dfspID)
}
