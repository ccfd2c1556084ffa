package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jmcleod/hubpki/errs"
)

// KeyAlgorithm names a key type and size.
type KeyAlgorithm string

const (
	RSA2048   KeyAlgorithm = "rsa2048"
	RSA4096   KeyAlgorithm = "rsa4096"
	ECDSAP256 KeyAlgorithm = "ecdsa-p256"
	ECDSAP384 KeyAlgorithm = "ecdsa-p384"
)

// DefaultKeyAlgorithm is used when no algorithm is requested.
const DefaultKeyAlgorithm = ECDSAP256

// ParseKeyAlgorithm accepts the KeyAlgorithm names case-insensitively. An
// empty string yields DefaultKeyAlgorithm.
func ParseKeyAlgorithm(s string) (KeyAlgorithm, error) {
	if s == "" {
		return DefaultKeyAlgorithm, nil
	}
	alg := KeyAlgorithm(strings.ToLower(s))
	switch alg {
	case RSA2048, RSA4096, ECDSAP256, ECDSAP384:
		return alg, nil
	}
	return "", fmt.Errorf("%w: unknown key algorithm %q", errs.ErrInvalidEntity, s)
}

// KeyGenerator creates private keys. Implementations backed by hardware may
// return a crypto.Signer whose key material never leaves the device, in
// which case EncodePrivateKeyPEM cannot be used on it.
type KeyGenerator interface {
	GenerateKey(alg KeyAlgorithm) (crypto.Signer, error)
}

// SoftwareKeyGenerator creates keys in process memory.
type SoftwareKeyGenerator struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

var _ KeyGenerator = SoftwareKeyGenerator{}

func (g SoftwareKeyGenerator) GenerateKey(alg KeyAlgorithm) (crypto.Signer, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	if alg == "" {
		alg = DefaultKeyAlgorithm
	}
	switch alg {
	case RSA2048:
		return rsa.GenerateKey(r, 2048)
	case RSA4096:
		return rsa.GenerateKey(r, 4096)
	case ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), r)
	case ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), r)
	}
	return nil, fmt.Errorf("%w: unknown key algorithm %q", errs.ErrInvalidEntity, alg)
}

// EncodeCertificatePEM encodes DER certificate bytes.
func EncodeCertificatePEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// EncodeCSRPEM encodes DER certificate request bytes.
func EncodeCSRPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

// EncodePrivateKeyPEM encodes key as PKCS#8 "PRIVATE KEY".
func EncodePrivateKeyPEM(key crypto.Signer) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("encoding private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// EncodePublicKeyPEM encodes pub as PKIX "PUBLIC KEY".
func EncodePublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encoding public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// CSRParams describes a certificate request to generate.
type CSRParams struct {
	Subject        pkix.Name
	DNSNames       []string
	IPAddresses    []net.IP
	EmailAddresses []string
	KeyAlgorithm   KeyAlgorithm
}

// NewCSR generates a key with keys and a CSR signed by it. It returns the
// CSR PEM and the PKCS#8 private key PEM.
func NewCSR(keys KeyGenerator, params CSRParams) (csrPEM, keyPEM string, err error) {
	key, err := keys.GenerateKey(params.KeyAlgorithm)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:        params.Subject,
		DNSNames:       params.DNSNames,
		IPAddresses:    params.IPAddresses,
		EmailAddresses: params.EmailAddresses,
	}, key)
	if err != nil {
		return "", "", fmt.Errorf("creating CSR: %w", err)
	}
	keyPEM, err = EncodePrivateKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	return EncodeCSRPEM(der), keyPEM, nil
}
