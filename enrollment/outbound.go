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
	"github.com/jmcleod/hubpki/pki"
	"github.com/jmcleod/hubpki/validation"
)

// CreateOutbound generates a key and CSR for a hub client certificate to be
// signed by the CA of dfspID. The key is kept in the secret store under the
// enrollment id; the CSR is recorded in CSR_LOADED.
func (s *Service) CreateOutbound(ctx context.Context, dfspID string, params pki.CSRParams) (*models.OutboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	csrPEM, keyPEM, err := pki.NewCSR(s.engine.Keys(), params)
	if err != nil {
		return nil, err
	}
	csr, err := inspect.ParseCSR(csrPEM)
	if err != nil {
		return nil, errs.Internalf("generated CSR: %v", err)
	}
	id, err := s.ids.NextID(ctx, KindOutbound)
	if err != nil {
		return nil, fmt.Errorf("allocating enrollment id: %w", err)
	}
	if err := s.engine.SetDFSPOutboundKey(ctx, dfspID, id, keyPEM); err != nil {
		return nil, err
	}

	now := s.engine.Now()
	e := &models.OutboundEnrollment{
		ID:            id,
		DFSPID:        dfspID,
		EnvironmentID: s.envID,
		CSR:           csrPEM,
		CSRInfo:       inspect.CSRInfoFrom(csr),
		State:         models.OutboundCSRLoaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.SetValidations(validation.ValidateCSR(csr, s.validationOptions()))
	if err := s.outbound.Insert(ctx, e); err != nil {
		return nil, fmt.Errorf("recording outbound enrollment: %w", err)
	}

	s.engine.Audit().Log(ctx, audit.EnrollmentCreated,
		slog.String("direction", "outbound"),
		slog.String("dfsp_id", dfspID),
		slog.String("enrollment_id", id),
	)
	return e, nil
}

// AttachOutboundCertificate records the certificate the DFSP CA issued for
// an outbound enrollment and moves it to CERT_SIGNED whatever the
// validation outcome; an invalid certificate is recorded as INVALID. An
// unparsable certificate fails with errs.ErrParse and changes nothing.
func (s *Service) AttachOutboundCertificate(ctx context.Context, dfspID, id, certPEM string) (*models.OutboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	e, err := s.outbound.FindByID(ctx, dfspID, id)
	if err != nil {
		return nil, missing("outbound", dfspID, id, err)
	}
	cert, err := inspect.ParseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	results, err := s.validateOutbound(ctx, e, cert)
	if err != nil {
		return nil, err
	}
	if err := e.Advance(models.OutboundCertSigned); err != nil {
		return nil, err
	}
	e.Certificate = certPEM
	e.CertInfo = inspect.CertInfoFrom(cert)
	e.SetValidations(results)
	e.UpdatedAt = s.engine.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.outbound.Update(context.WithoutCancel(ctx), e); err != nil {
		return nil, fmt.Errorf("recording outbound certificate: %w", err)
	}
	s.engine.Audit().Log(ctx, audit.EnrollmentCertAttached,
		slog.String("dfsp_id", dfspID),
		slog.String("enrollment_id", id),
		slog.String("validation_state", string(e.ValidationState)),
	)
	return e, nil
}

// ValidateOutbound re-runs the certificate checks of an outbound enrollment
// and promotes it to VALID when they pass. A failing re-validation records
// the new results but never moves the state backwards.
func (s *Service) ValidateOutbound(ctx context.Context, dfspID, id string) (*models.OutboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	e, err := s.outbound.FindByID(ctx, dfspID, id)
	if err != nil {
		return nil, missing("outbound", dfspID, id, err)
	}
	if e.Certificate == "" {
		return nil, fmt.Errorf("%w: outbound enrollment %s has no certificate", errs.ErrInvalidEntity, id)
	}
	cert, err := inspect.ParseCertificate(e.Certificate)
	if err != nil {
		return nil, errs.Internalf("stored certificate of enrollment %s: %v", id, err)
	}
	results, err := s.validateOutbound(ctx, e, cert)
	if err != nil {
		return nil, err
	}
	e.SetValidations(results)
	if e.ValidationState == validation.StateValid {
		if err := e.Advance(models.OutboundValid); err != nil {
			return nil, err
		}
	}
	e.UpdatedAt = s.engine.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.outbound.Update(context.WithoutCancel(ctx), e); err != nil {
		return nil, fmt.Errorf("recording outbound validation: %w", err)
	}
	s.engine.Audit().Log(ctx, audit.EnrollmentValidated,
		slog.String("dfsp_id", dfspID),
		slog.String("enrollment_id", id),
		slog.String("state", string(e.State)),
		slog.String("validation_state", string(e.ValidationState)),
	)
	return e, nil
}

// GetOutbound returns one outbound enrollment of dfspID.
func (s *Service) GetOutbound(ctx context.Context, dfspID, id string) (*models.OutboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	e, err := s.outbound.FindByID(ctx, dfspID, id)
	if err != nil {
		return nil, missing("outbound", dfspID, id, err)
	}
	return e, nil
}

// ListOutbound returns the outbound enrollments of dfspID, oldest first.
func (s *Service) ListOutbound(ctx context.Context, dfspID string) ([]*models.OutboundEnrollment, error) {
	if err := s.resolve(ctx, dfspID); err != nil {
		return nil, err
	}
	return s.outbound.List(ctx, dfspID)
}

// validateOutbound checks cert against the enrollment CSR and the DFSP trust
// anchor. Without an anchor the chain check is NOT_AVAILABLE.
func (s *Service) validateOutbound(ctx context.Context, e *models.OutboundEnrollment, cert *x509.Certificate) ([]validation.Result, error) {
	csr, err := inspect.ParseCSR(e.CSR)
	if err != nil {
		return nil, errs.Internalf("stored CSR of enrollment %s: %v", e.ID, err)
	}
	anchor, err := s.engine.DFSPAnchor(ctx, e.DFSPID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.logger.WarnContext(ctx, "DFSP has no CA, chain check unavailable",
			slog.String("dfsp_id", e.DFSPID), slog.String("enrollment_id", e.ID))
	case err != nil:
		return nil, err
	case validation.Aggregate(anchor.Validations) != validation.StateValid:
		s.logger.WarnContext(ctx, "DFSP CA is not valid, chain check fails",
			slog.String("dfsp_id", e.DFSPID), slog.String("enrollment_id", e.ID))
	}
	return validation.ValidateAnchoredCertificate(csr, cert, anchor, s.validationOptions()), nil
}
