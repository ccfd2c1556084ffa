package pki

import (
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/jmcleod/hubpki/inspect"
	"github.com/jmcleod/hubpki/internal/audit"
	"github.com/jmcleod/hubpki/models"
	"github.com/jmcleod/hubpki/secrets"
	"github.com/jmcleod/hubpki/validation"
)

// ServerCertificates is the PEM material of a TLS server identity. Only the
// server certificate is mandatory. PrivateKey is accepted for the hub only.
type ServerCertificates struct {
	RootCertificate   string
	IntermediateChain string
	ServerCertificate string
	PrivateKey        string
}

// ServerCertParams describes a hub server certificate to generate.
type ServerCertParams struct {
	Subject      pkix.Name
	DNSNames     []string
	IPAddresses  []net.IP
	KeyAlgorithm KeyAlgorithm
}

type serverCertMeta struct {
	entityMeta
	RootCertificateInfo   *inspect.CertInfo   `json:"rootCertificateInfo,omitempty"`
	IntermediateChainInfo []*inspect.CertInfo `json:"intermediateChainInfo,omitempty"`
	ServerCertificateInfo *inspect.CertInfo   `json:"serverCertificateInfo,omitempty"`
}

// GetDFSPServerCerts returns the server certificates of dfspID in envID.
func (e *Engine) GetDFSPServerCerts(ctx context.Context, envID, dfspID string) (*models.ServerCertificate, error) {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return nil, err
	}
	path, err := secrets.Path(secrets.CategoryDFSPServerCert, envID, dfspID)
	if err != nil {
		return nil, err
	}
	return e.getServerCerts(ctx, path, envID, dfspID)
}

// SetDFSPServerCerts validates and stores the server certificates of dfspID
// in envID. The certificates are stored whatever the validation outcome.
func (e *Engine) SetDFSPServerCerts(ctx context.Context, envID, dfspID string, certs ServerCertificates) (*models.ServerCertificate, error) {
	if _, err := e.resolveDFSP(ctx, dfspID); err != nil {
		return nil, err
	}
	path, err := secrets.Path(secrets.CategoryDFSPServerCert, envID, dfspID)
	if err != nil {
		return nil, err
	}
	certs.PrivateKey = ""
	return e.setServerCerts(ctx, path, envID, dfspID, certs)
}

// GetHubServerCerts returns the hub server certificates of envID. The
// private key is never part of the result.
func (e *Engine) GetHubServerCerts(ctx context.Context, envID string) (*models.ServerCertificate, error) {
	path, err := secrets.Path(secrets.CategoryHubServerCert, envID)
	if err != nil {
		return nil, err
	}
	return e.getServerCerts(ctx, path, envID, "")
}

// SetHubServerCerts validates and stores the hub server certificates of
// envID. The key match check runs only when a private key is supplied.
func (e *Engine) SetHubServerCerts(ctx context.Context, envID string, certs ServerCertificates) (*models.ServerCertificate, error) {
	path, err := secrets.Path(secrets.CategoryHubServerCert, envID)
	if err != nil {
		return nil, err
	}
	return e.setServerCerts(ctx, path, envID, "", certs)
}

// CreateHubServerCerts generates a key and CSR, signs the CSR through the
// secret adapter and stores the result with the current CA as root.
func (e *Engine) CreateHubServerCerts(ctx context.Context, envID string, params ServerCertParams) (*models.ServerCertificate, error) {
	ca, err := e.GetCurrentCA(ctx, envID)
	if err != nil {
		return nil, err
	}
	csrPEM, keyPEM, err := NewCSR(e.keys, CSRParams{
		Subject:      params.Subject,
		DNSNames:     params.DNSNames,
		IPAddresses:  params.IPAddresses,
		KeyAlgorithm: params.KeyAlgorithm,
	})
	if err != nil {
		return nil, err
	}
	certPEM, err := e.SignCSR(ctx, csrPEM, "")
	if err != nil {
		return nil, err
	}
	return e.SetHubServerCerts(ctx, envID, ServerCertificates{
		RootCertificate:   ca.CertificatePEM,
		ServerCertificate: certPEM,
		PrivateKey:        keyPEM,
	})
}

func (e *Engine) getServerCerts(ctx context.Context, path, envID, dfspID string) (*models.ServerCertificate, error) {
	s, err := e.adapter.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("server certificates %s: %w", path, err)
	}
	var meta serverCertMeta
	if err := decodeMeta(s, &meta); err != nil {
		return nil, err
	}
	sc := &models.ServerCertificate{
		EnvironmentID:         envID,
		DFSPID:                dfspID,
		RootCertificate:       s[secrets.FieldRootCert],
		IntermediateChain:     s[secrets.FieldChain],
		ServerCertificate:     s[secrets.FieldCertificate],
		RootCertificateInfo:   meta.RootCertificateInfo,
		IntermediateChainInfo: meta.IntermediateChainInfo,
		ServerCertificateInfo: meta.ServerCertificateInfo,
		UpdatedAt:             meta.UpdatedAt,
	}
	sc.SetValidations(meta.Validations)
	return sc, nil
}

func (e *Engine) setServerCerts(ctx context.Context, path, envID, dfspID string, certs ServerCertificates) (*models.ServerCertificate, error) {
	server, err := inspect.ParseCertificate(certs.ServerCertificate)
	if err != nil {
		return nil, err
	}
	root, intermediates, err := parseChain(certs.RootCertificate, certs.IntermediateChain)
	if err != nil {
		return nil, err
	}
	var key crypto.Signer
	if strings.TrimSpace(certs.PrivateKey) != "" {
		if key, err = inspect.ParsePrivateKey(certs.PrivateKey); err != nil {
			return nil, err
		}
	}

	sc := &models.ServerCertificate{
		EnvironmentID:         envID,
		DFSPID:                dfspID,
		RootCertificate:       certs.RootCertificate,
		IntermediateChain:     certs.IntermediateChain,
		ServerCertificate:     certs.ServerCertificate,
		ServerCertificateInfo: inspect.CertInfoFrom(server),
		IntermediateChainInfo: certInfos(intermediates),
		UpdatedAt:             e.Now(),
	}
	if root != nil {
		sc.RootCertificateInfo = inspect.CertInfoFrom(root)
	}
	sc.SetValidations(validation.ValidateServerCertificates(root, intermediates, server, key, e.ValidationOptions()))

	meta, err := encodeMeta(serverCertMeta{
		entityMeta:            entityMeta{Validated: sc.Validated, UpdatedAt: sc.UpdatedAt},
		RootCertificateInfo:   sc.RootCertificateInfo,
		IntermediateChainInfo: sc.IntermediateChainInfo,
		ServerCertificateInfo: sc.ServerCertificateInfo,
	})
	if err != nil {
		return nil, err
	}
	s := secrets.Secret{
		secrets.FieldCertificate: certs.ServerCertificate,
		secrets.FieldMetadata:    meta,
	}
	if certs.RootCertificate != "" {
		s[secrets.FieldRootCert] = certs.RootCertificate
	}
	if certs.IntermediateChain != "" {
		s[secrets.FieldChain] = certs.IntermediateChain
	}
	if key != nil {
		s[secrets.FieldPrivateKey] = certs.PrivateKey
	}
	if err := e.adapter.Set(ctx, path, s); err != nil {
		return nil, fmt.Errorf("storing server certificates %s: %w", path, err)
	}

	e.audit.Log(ctx, audit.ServerCertsSet,
		slog.String("environment_id", envID),
		slog.String("dfsp_id", dfspID),
		slog.String("validation_state", string(sc.ValidationState)),
	)
	return sc, nil
}

// parseChain parses an optional root and an optional intermediate bundle.
func parseChain(rootPEM, chainPEM string) (*x509.Certificate, []*x509.Certificate, error) {
	var (
		root          *x509.Certificate
		intermediates []*x509.Certificate
		err           error
	)
	if strings.TrimSpace(rootPEM) != "" {
		if root, err = inspect.ParseCertificate(rootPEM); err != nil {
			return nil, nil, err
		}
	}
	if strings.TrimSpace(chainPEM) != "" {
		if intermediates, err = inspect.ParseCertificates(chainPEM); err != nil {
			return nil, nil, err
		}
	}
	return root, intermediates, nil
}

func certInfos(certs []*x509.Certificate) []*inspect.CertInfo {
	if len(certs) == 0 {
		return nil
	}
	out := make([]*inspect.CertInfo, len(certs))
	for i, c := range certs {
		out[i] = inspect.CertInfoFrom(c)
	}
	return out
}
