package pki

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/validation"
)

type dfspCAMeta struct {
	entityMeta
	RootCertificateInfo   *inspect.CertInfo   `json:"rootCertificateInfo,omitempty"`
	IntermediateChainInfo []*inspect.CertInfo `json:"intermediateChainInfo,omitempty"`
}

// SetDFSPCA stores the trust anchor of dfspID: its root certificate and
// optional intermediate bundle. The anchor is stored with its validation
// outcome even when INVALID; outbound certificates checked against an
// anchor that is not VALID fail CERTIFICATE_SIGNED_BY_CA.
func (e *Engine) SetDFSPCA(ctx context.Context, dfspID, rootPEM, chainPEM string) (*models.DFSPCA, error) {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return nil, err
	}
	path, err := secrets.Path(secrets.CategoryDFSPCA, dfspID)
	if err != nil {
		return nil, err
	}
	root, err := inspect.ParseCertificate(rootPEM)
	if err != nil {
		return nil, err
	}
	_, intermediates, err := parseChain("", chainPEM)
	if err != nil {
		return nil, err
	}

	ca := &models.DFSPCA{
		DFSPID:                dfspID,
		RootCertificate:       rootPEM,
		IntermediateChain:     chainPEM,
		RootCertificateInfo:   inspect.CertInfoFrom(root),
		IntermediateChainInfo: certInfos(intermediates),
		UpdatedAt:             e.Now(),
	}
	ca.SetValidations(validation.ValidateCAChain(root, intermediates, e.ValidationOptions()))

	meta, err := encodeMeta(dfspCAMeta{
		entityMeta:            entityMeta{Validated: ca.Validated, UpdatedAt: ca.UpdatedAt},
		RootCertificateInfo:   ca.RootCertificateInfo,
		IntermediateChainInfo: ca.IntermediateChainInfo,
	})
	if err != nil {
		return nil, err
	}
	s := secrets.Secret{
		secrets.FieldRootCert: rootPEM,
		secrets.FieldMetadata: meta,
	}
	if chainPEM != "" {
		s[secrets.FieldChain] = chainPEM
	}
	if err := e.adapter.Set(ctx, path, s); err != nil {
		return nil, fmt.Errorf("storing DFSP %q CA: %w", dfspID, err)
	}
	e.audit.Log(ctx, audit.DFSPCASet,
		slog.String("dfsp_id", dfspID),
		slog.String("validation_state", string(ca.ValidationState)),
	)
	return ca, nil
}

// GetDFSPCA returns the trust anchor of dfspID.
func (e *Engine) GetDFSPCA(ctx context.Context, dfspID string) (*models.DFSPCA, error) {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return nil, err
	}
	path, err := secrets.Path(secrets.CategoryDFSPCA, dfspID)
	if err != nil {
		return nil, err
	}
	s, err := e.adapter.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("DFSP %q CA: %w", dfspID, err)
	}
	var meta dfspCAMeta
	if err := decodeMeta(s, &meta); err != nil {
		return nil, err
	}
	ca := &models.DFSPCA{
		DFSPID:                dfspID,
		RootCertificate:       s[secrets.FieldRootCert],
		IntermediateChain:     s[secrets.FieldChain],
		RootCertificateInfo:   meta.RootCertificateInfo,
		IntermediateChainInfo: meta.IntermediateChainInfo,
		UpdatedAt:             meta.UpdatedAt,
	}
	ca.SetValidations(meta.Validations)
	return ca, nil
}

// DeleteDFSPCA removes the trust anchor of dfspID.
func (e *Engine) DeleteDFSPCA(ctx context.Context, dfspID string) error {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return err
	}
	path, err := secrets.Path(secrets.CategoryDFSPCA, dfspID)
	if err != nil {
		return err
	}
	if err := e.adapter.Delete(ctx, path); err != nil {
		return fmt.Errorf("deleting DFSP %q CA: %w", dfspID, err)
	}
	e.audit.Log(ctx, audit.DFSPCADeleted, slog.String("dfsp_id", dfspID))
	return nil
}

// DFSPAnchor returns the trust anchor of dfspID parsed for verification,
// carrying the validation results recorded when it was stored.
func (e *Engine) DFSPAnchor(ctx context.Context, dfspID string) (*validation.Anchor, error) {
	ca, err := e.GetDFSPCA(ctx, dfspID)
	if err != nil {
		return nil, err
	}
	root, intermediates, err := parseChain(ca.RootCertificate, ca.IntermediateChain)
	if err != nil {
		return nil, errs.Internalf("stored DFSP %q CA: %v", dfspID, err)
	}
	return &validation.Anchor{
		Root:          root,
		Intermediates: intermediates,
		Validations:   ca.Validations,
	}, nil
}

// SetDFSPOutboundKey stores the private key of an outbound enrollment CSR.
func (e *Engine) SetDFSPOutboundKey(ctx context.Context, dfspID, enrollmentID, keyPEM string) error {
	path, err := secrets.Path(secrets.CategoryDFSPOutboundKey, dfspID, enrollmentID)
	if err != nil {
		return err
	}
	if err := e.adapter.Set(ctx, path, secrets.Secret{secrets.FieldPrivateKey: keyPEM}); err != nil {
		return fmt.Errorf("storing outbound key for DFSP %q: %w", dfspID, err)
	}
	return nil
}
