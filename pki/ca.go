package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/validation"
)

// DefaultCAValidity is the lifetime of a generated CA.
const DefaultCAValidity = 10 * 365 * 24 * time.Hour

// CAParams describes a CA to generate.
type CAParams struct {
	Subject      pkix.Name
	Validity     time.Duration
	KeyAlgorithm KeyAlgorithm
}

// SignCSR signs csrPEM through the secret adapter. A non-empty commonName
// replaces the requested one.
func (e *Engine) SignCSR(ctx context.Context, csrPEM, commonName string) (string, error) {
	csr, err := inspect.ParseCSR(csrPEM)
	if err != nil {
		return "", err
	}
	if err := csr.CheckSignature(); err != nil {
		return "", validation.NewError("CSR signature is invalid", []validation.Result{{
			Name:   validation.CSRSignatureValid,
			Status: validation.StatusFail,
			Reason: err.Error(),
		}})
	}

	certPEM, err := e.adapter.Sign(ctx, csrPEM, commonName)
	if err != nil {
		if errors.Is(err, errs.ErrSigning) {
			return "", err
		}
		return "", &errs.SigningError{Err: err}
	}
	cert, err := inspect.ParseCertificate(certPEM)
	if err != nil {
		return "", &errs.SigningError{Err: err}
	}

	e.audit.Log(ctx, audit.CSRSigned,
		slog.String("subject", inspect.SubjectString(cert.Subject)),
		slog.String("serial", cert.SerialNumber.Text(16)),
	)
	return certPEM, nil
}

// CreateCA generates a key and a self-signed CA certificate for envID and
// makes it current.
func (e *Engine) CreateCA(ctx context.Context, envID string, params CAParams) (*models.CertificateAuthority, error) {
	if params.Subject.CommonName == "" {
		return nil, fmt.Errorf("%w: CA common name is required", errs.ErrInvalidEntity)
	}
	validity := params.Validity
	if validity <= 0 {
		validity = DefaultCAValidity
	}

	key, err := e.keys.GenerateKey(params.KeyAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := e.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               params.Subject,
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("creating CA certificate: %w", err)
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{Subject: params.Subject}, key)
	if err != nil {
		return nil, fmt.Errorf("creating CA CSR: %w", err)
	}
	keyPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}

	ca, err := e.setCurrentCA(ctx, envID, EncodeCertificatePEM(der), keyPEM, EncodeCSRPEM(csrDER))
	if err != nil {
		return nil, err
	}
	e.audit.Log(ctx, audit.CACreated,
		slog.String("environment_id", envID),
		slog.String("subject", inspect.SubjectString(params.Subject)),
	)
	return ca, nil
}

// SetCurrentCA validates an externally supplied CA and makes it the current
// CA of envID. An INVALID CA is rejected with a *validation.Error and
// nothing is written.
func (e *Engine) SetCurrentCA(ctx context.Context, envID, certPEM, keyPEM string) (*models.CertificateAuthority, error) {
	ca, err := e.setCurrentCA(ctx, envID, certPEM, keyPEM, "")
	if err != nil {
		return nil, err
	}
	e.audit.Log(ctx, audit.CAImported,
		slog.String("environment_id", envID),
		slog.String("subject", ca.CertInfo.Subject.CN),
	)
	return ca, nil
}

func (e *Engine) setCurrentCA(ctx context.Context, envID, certPEM, keyPEM, csrPEM string) (*models.CertificateAuthority, error) {
	path, err := secrets.Path(secrets.CategoryCA, envID)
	if err != nil {
		return nil, err
	}
	cert, err := inspect.ParseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := inspect.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	ca := &models.CertificateAuthority{
		EnvironmentID:  envID,
		CertificatePEM: certPEM,
		CertInfo:       inspect.CertInfoFrom(cert),
	}
	if csrPEM != "" {
		info, err := inspect.InspectCSR(csrPEM)
		if err != nil {
			return nil, err
		}
		ca.CSRPEM = csrPEM
		ca.CSRInfo = info
	}
	ca.SetValidations(validation.ValidateCA(cert, key, e.ValidationOptions()))
	if ca.ValidationState == validation.StateInvalid {
		return nil, validation.NewError("CA certificate is invalid", ca.Validations)
	}

	e.caMu.Lock()
	defer e.caMu.Unlock()

	previous, err := e.cas.FindByState(ctx, envID, models.CACurrent)
	if err != nil {
		return nil, fmt.Errorf("loading current CA: %w", err)
	}
	previousSecret, err := e.adapter.Get(ctx, path)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("loading current CA secret: %w", err)
	}

	id, err := e.ids.NextID(ctx, "ca")
	if err != nil {
		return nil, fmt.Errorf("allocating CA id: %w", err)
	}
	now := e.Now()
	ca.ID = id
	ca.CreatedAt = now
	ca.UpdatedAt = now

	// The new row stays superseded until its secret is stored and the
	// previous rows are demoted.
	if err := e.cas.Insert(ctx, ca); err != nil {
		return nil, fmt.Errorf("recording CA: %w", err)
	}
	r := &caRollback{engine: e, path: path, envID: envID, row: ca, previousSecret: previousSecret}
	fail := func(err error) (*models.CertificateAuthority, error) {
		r.run(context.WithoutCancel(ctx))
		return nil, err
	}

	r.secretWritten = true
	if err := e.adapter.Set(ctx, path, secrets.Secret{
		secrets.FieldCertificate: certPEM,
		secrets.FieldPrivateKey:  keyPEM,
	}); err != nil {
		return fail(fmt.Errorf("storing CA: %w", err))
	}
	if imp, ok := e.adapter.(secrets.CAImporter); ok {
		if err := imp.ImportCA(ctx, certPEM, keyPEM); err != nil {
			return fail(fmt.Errorf("importing CA into secret backend: %w", err))
		}
	}

	for _, old := range previous {
		old.Current = false
		old.UpdatedAt = now
		if err := e.cas.Update(ctx, old); err != nil {
			old.Current = true
			return fail(fmt.Errorf("superseding CA %s: %w", old.ID, err))
		}
		r.demoted = append(r.demoted, old)
	}
	ca.Current = true
	if err := e.cas.Update(ctx, ca); err != nil {
		ca.Current = false
		return fail(fmt.Errorf("promoting CA %s: %w", id, err))
	}

	e.logger.InfoContext(ctx, "current CA replaced",
		slog.String("environment_id", envID),
		slog.String("ca_id", id),
		slog.Int("superseded", len(previous)),
	)
	return ca, nil
}

// caRollback undoes a partially applied CA replacement.
type caRollback struct {
	engine         *Engine
	path           string
	envID          string
	row            *models.CertificateAuthority
	previousSecret secrets.Secret
	secretWritten  bool
	demoted        []*models.CertificateAuthority
}

func (r *caRollback) run(ctx context.Context) {
	e := r.engine
	logFailure := func(step string, err error) {
		e.logger.ErrorContext(ctx, "CA rollback step failed",
			slog.String("environment_id", r.envID),
			slog.String("step", step),
			slog.Any("error", err),
		)
	}
	for _, old := range r.demoted {
		old.Current = true
		if err := e.cas.Update(ctx, old); err != nil {
			logFailure("restore current row", err)
		}
	}
	if err := e.cas.Delete(ctx, r.envID, r.row.ID); err != nil {
		logFailure("remove new row", err)
	}
	if !r.secretWritten {
		return
	}
	if r.previousSecret == nil {
		if err := e.adapter.Delete(ctx, r.path); err != nil && !errors.Is(err, errs.ErrNotFound) {
			logFailure("remove CA secret", err)
		}
		return
	}
	if err := e.adapter.Set(ctx, r.path, r.previousSecret); err != nil {
		logFailure("restore CA secret", err)
		return
	}
	if imp, ok := e.adapter.(secrets.CAImporter); ok {
		certPEM, keyPEM := r.previousSecret[secrets.FieldCertificate], r.previousSecret[secrets.FieldPrivateKey]
		if err := imp.ImportCA(ctx, certPEM, keyPEM); err != nil {
			logFailure("re-import CA", err)
		}
	}
}

// GetCurrentCA returns the current CA of envID.
func (e *Engine) GetCurrentCA(ctx context.Context, envID string) (*models.CertificateAuthority, error) {
	current, err := e.cas.FindByState(ctx, envID, models.CACurrent)
	if err != nil {
		return nil, err
	}
	switch len(current) {
	case 0:
		return nil, fmt.Errorf("current CA of environment %q: %w", envID, errs.ErrNotFound)
	case 1:
		return current[0], nil
	default:
		return nil, errs.Internalf("environment %q has %d current CAs", envID, len(current))
	}
}

// CurrentCACertificate returns the parsed certificate of the current CA.
func (e *Engine) CurrentCACertificate(ctx context.Context, envID string) (*x509.Certificate, error) {
	ca, err := e.GetCurrentCA(ctx, envID)
	if err != nil {
		return nil, err
	}
	cert, err := inspect.ParseCertificate(ca.CertificatePEM)
	if err != nil {
		return nil, errs.Internalf("stored CA certificate: %v", err)
	}
	return cert, nil
}

// ListCAs returns the CA history of envID, oldest first.
func (e *Engine) ListCAs(ctx context.Context, envID string) ([]*models.CertificateAuthority, error) {
	return e.cas.List(ctx, envID)
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}
