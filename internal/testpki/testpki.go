// Package testpki builds throwaway CAs, CSRs and certificates for tests.
package testpki

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"
)

// Subject returns a distinguished name with every attribute hubpki requires.
func Subject(cn string) pkix.Name {
	return pkix.Name{
		CommonName:         cn,
		Organization:       []string{"Org"},
		OrganizationalUnit: []string{"Unit"},
		Country:            []string{"US"},
		Locality:           []string{"City"},
		Province:           []string{"ST"},
	}
}

// CA is a self-signed ECDSA P-256 certificate authority.
type CA struct {
	Cert    *x509.Certificate
	Key     *ecdsa.PrivateKey
	CertPEM string
	KeyPEM  string
}

// NewCA returns a CA valid from an hour ago for ten years.
func NewCA(tb testing.TB, cn string) *CA {
	tb.Helper()
	ca, err := GenerateCA(cn)
	if err != nil {
		tb.Fatalf("generating CA: %v", err)
	}
	return ca
}

// GenerateCA is NewCA without a testing.TB, for helper processes.
func GenerateCA(cn string) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               Subject(cn),
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	keyPEM, err := PrivateKeyPEM(key)
	if err != nil {
		return nil, err
	}
	return &CA{Cert: cert, Key: key, CertPEM: CertPEM(der), KeyPEM: keyPEM}, nil
}

// NewIntermediate returns a CA issued by parent, valid for five years.
func NewIntermediate(tb testing.TB, parent *CA, cn string) *CA {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generating intermediate key: %v", err)
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               Subject(cn),
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent.Cert, key.Public(), parent.Key)
	if err != nil {
		tb.Fatalf("issuing intermediate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parsing intermediate: %v", err)
	}
	keyPEM, err := PrivateKeyPEM(key)
	if err != nil {
		tb.Fatalf("encoding intermediate key: %v", err)
	}
	return &CA{Cert: cert, Key: key, CertPEM: CertPEM(der), KeyPEM: keyPEM}
}

// LoadCA rebuilds a CA from PEM material.
func LoadCA(certPEM, keyPEM string) (*CA, error) {
	cb, _ := pem.Decode([]byte(certPEM))
	if cb == nil {
		return nil, errors.New("no CA certificate PEM block")
	}
	cert, err := x509.ParseCertificate(cb.Bytes)
	if err != nil {
		return nil, err
	}
	kb, _ := pem.Decode([]byte(keyPEM))
	if kb == nil {
		return nil, errors.New("no CA key PEM block")
	}
	var key *ecdsa.PrivateKey
	switch kb.Type {
	case "EC PRIVATE KEY":
		if key, err = x509.ParseECPrivateKey(kb.Bytes); err != nil {
			return nil, err
		}
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(kb.Bytes)
		if err != nil {
			return nil, err
		}
		ec, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("CA key is %T, want ECDSA", parsed)
		}
		key = ec
	default:
		return nil, fmt.Errorf("unexpected CA key PEM type %q", kb.Type)
	}
	return &CA{Cert: cert, Key: key, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// SignCSR issues a client and server certificate for csrPEM valid for a
// year. A non-empty cn replaces the requested common name.
func (ca *CA) SignCSR(csrPEM, cn string) (string, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return "", errors.New("no CSR PEM block")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return "", err
	}
	subject := csr.Subject
	if cn != "" {
		subject.CommonName = cn
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return "", err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        subject,
		NotBefore:      now.Add(-time.Minute),
		NotAfter:       now.AddDate(1, 0, 0),
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:    []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:       csr.DNSNames,
		IPAddresses:    csr.IPAddresses,
		EmailAddresses: csr.EmailAddresses,
		URIs:           csr.URIs,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, csr.PublicKey, ca.Key)
	if err != nil {
		return "", err
	}
	return CertPEM(der), nil
}

// SignFunc adapts SignCSR to the secret adapter signing signature.
func (ca *CA) SignFunc() func(ctx context.Context, csrPEM, cn string) (string, error) {
	return func(_ context.Context, csrPEM, cn string) (string, error) {
		return ca.SignCSR(csrPEM, cn)
	}
}

// MustSign is SignCSR failing the test on error.
func (ca *CA) MustSign(tb testing.TB, csrPEM string) string {
	tb.Helper()
	certPEM, err := ca.SignCSR(csrPEM, "")
	if err != nil {
		tb.Fatalf("signing CSR: %v", err)
	}
	return certPEM
}

// NewCSR returns a CSR PEM for subject and SAN DNS names, and its key.
func NewCSR(tb testing.TB, subject pkix.Name, dnsNames ...string) (string, *ecdsa.PrivateKey) {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generating key: %v", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  subject,
		DNSNames: dnsNames,
	}, key)
	if err != nil {
		tb.Fatalf("creating CSR: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), key
}

// CertPEM encodes DER certificate bytes.
func CertPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// PrivateKeyPEM encodes an ECDSA key as SEC1.
func PrivateKeyPEM(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// PublicKeyPEM encodes pub as PKIX.
func PublicKeyPEM(tb testing.TB, pub crypto.PublicKey) string {
	tb.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		tb.Fatalf("marshalling public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// NewKeyPEM returns a fresh ECDSA key as SEC1 PEM plus its PKIX public key PEM.
func NewKeyPEM(tb testing.TB) (privatePEM, publicPEM string) {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generating key: %v", err)
	}
	privatePEM, err = PrivateKeyPEM(key)
	if err != nil {
		tb.Fatalf("encoding key: %v", err)
	}
	return privatePEM, PublicKeyPEM(tb, key.Public())
}

// Follower signs with whichever CA was imported last. Its methods fit the
// memory secret adapter's sign function and CA import hook.
type Follower struct {
	mu sync.Mutex
	ca *CA
}

// Import makes the CA in certPEM and keyPEM the signing CA. It panics on
// material LoadCA cannot read.
func (f *Follower) Import(certPEM, keyPEM string) {
	ca, err := LoadCA(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.ca = ca
	f.mu.Unlock()
}

func (f *Follower) Sign(_ context.Context, csrPEM, cn string) (string, error) {
	f.mu.Lock()
	ca := f.ca
	f.mu.Unlock()
	if ca == nil {
		return "", errors.New("no CA imported")
	}
	return ca.SignCSR(csrPEM, cn)
}
