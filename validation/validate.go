package validation

import (
	"crypto"
	"crypto/x509"
	"time"

	"github.com/jmcleod/hubpki/inspect"
)

// Options tune the checks. Now is the reference time for validity windows;
// when zero, time-dependent checks report NOT_AVAILABLE.
type Options struct {
	Now           time.Time
	EmailRequired bool
	// ExtKeyUsage overrides the purposes a leaf certificate must carry.
	ExtKeyUsage []x509.ExtKeyUsage
	// KeyUsage overrides the key usage bits a leaf certificate must carry.
	KeyUsage x509.KeyUsage
}

func (o Options) extKeyUsage(def ...x509.ExtKeyUsage) []x509.ExtKeyUsage {
	if len(o.ExtKeyUsage) > 0 {
		return o.ExtKeyUsage
	}
	return def
}

func (o Options) keyUsage(def x509.KeyUsage) x509.KeyUsage {
	if o.KeyUsage != 0 {
		return o.KeyUsage
	}
	return def
}

// ValidateCSR runs the CSR checks.
func ValidateCSR(csr *x509.CertificateRequest, opts Options) []Result {
	info := inspect.CSRInfoFrom(csr)
	return []Result{
		checkCSRSignature(csr),
		checkDN(CSRMandatoryDN, info.Subject, opts.EmailRequired),
		checkSAN(CSRMandatorySAN, info.Extensions.SubjectAltName),
		checkKeyStrength(CSRPublicKeyStrength, csr.PublicKey),
		checkCNInSAN(csr),
	}
}

// ValidateEnrollmentCertificate runs the checks for a client certificate
// issued against csr. issuers are the candidate CA certificates; when empty
// the chain check is NOT_AVAILABLE. A nil csr makes the key match check
// NOT_AVAILABLE.
func ValidateEnrollmentCertificate(csr *x509.CertificateRequest, cert *x509.Certificate, issuers []*x509.Certificate, opts Options) []Result {
	return enrollmentChecks(csr, cert, checkSignedBy(cert, issuers), opts)
}

// Anchor is a trust anchor together with the results of its own checks.
type Anchor struct {
	Root          *x509.Certificate
	Intermediates []*x509.Certificate
	Validations   []Result
}

// ValidateAnchoredCertificate runs the checks for a client certificate
// issued by a DFSP CA. The chain check verifies cert up to anchor.Root
// through anchor.Intermediates at opts.Now, so expired or non-CA links
// fail it, and it fails outright when the anchor itself is not VALID. A nil
// anchor makes the chain check NOT_AVAILABLE.
func ValidateAnchoredCertificate(csr *x509.CertificateRequest, cert *x509.Certificate, anchor *Anchor, opts Options) []Result {
	usages := opts.extKeyUsage(x509.ExtKeyUsageClientAuth)
	return enrollmentChecks(csr, cert, checkAnchored(cert, anchor, opts.Now, usages), opts)
}

func enrollmentChecks(csr *x509.CertificateRequest, cert *x509.Certificate, chain Result, opts Options) []Result {
	info := inspect.CertInfoFrom(cert)
	return []Result{
		checkDN(CertMandatoryDN, info.Subject, opts.EmailRequired),
		checkSAN(CertMandatorySAN, info.Extensions.SubjectAltName),
		checkKeyUsage(cert, opts.keyUsage(x509.KeyUsageDigitalSignature)),
		checkExtKeyUsage(cert, opts.extKeyUsage(x509.ExtKeyUsageClientAuth)),
		checkValidity(cert, opts.Now),
		chain,
		checkKeyMatchesCSR(cert, csr),
	}
}

// ValidateCA runs the checks for a CA certificate about to become current.
// key may be nil when the private key is held elsewhere.
func ValidateCA(cert *x509.Certificate, key crypto.Signer, opts Options) []Result {
	results := []Result{
		checkIsCA(cert),
		checkKeyUsage(cert, x509.KeyUsageCertSign),
		checkValidity(cert, opts.Now),
		checkKeyStrength(CertPublicKeyStrength, cert.PublicKey),
		checkSelfSigned(cert),
	}
	if key != nil {
		results = append(results, checkKeyMatchesPrivate(cert, key))
	}
	return results
}

// ValidateCAChain runs the checks for a DFSP trust anchor: a root and its
// intermediates, ordered from the one closest to a leaf to the one closest
// to root.
func ValidateCAChain(root *x509.Certificate, intermediates []*x509.Certificate, opts Options) []Result {
	if root == nil {
		return []Result{notAvailable(ChainLinkage, "no root certificate")}
	}
	return []Result{
		checkIsCA(root),
		checkValidity(root, opts.Now),
		checkChainLinkage(root, intermediates),
	}
}

// ValidateServerCertificates runs the checks for a TLS server certificate
// with its chain. key is checked against the certificate only when given.
func ValidateServerCertificates(root *x509.Certificate, intermediates []*x509.Certificate, server *x509.Certificate, key crypto.Signer, opts Options) []Result {
	if server == nil {
		return []Result{notAvailable(ServerChainVerifies, "no server certificate")}
	}
	usages := opts.extKeyUsage(x509.ExtKeyUsageServerAuth)
	info := inspect.CertInfoFrom(server)
	results := []Result{
		checkSAN(CertMandatorySAN, info.Extensions.SubjectAltName),
		checkExtKeyUsage(server, usages),
		checkValidity(server, opts.Now),
		checkChainLinkage(root, intermediates),
		checkServerChain(root, intermediates, server, opts.Now, usages),
	}
	if key != nil {
		results = append(results, checkKeyMatchesPrivate(server, key))
	}
	return results
}

// ValidateJWS runs the checks for a JWS verification key and, when priv is
// given, that it pairs with pub.
func ValidateJWS(pub crypto.PublicKey, priv crypto.Signer) []Result {
	results := []Result{checkKeyStrength(JWSPublicKeyValid, pub)}
	if priv != nil && pub != nil {
		results = append(results, checkJWSKeyPair(pub, priv))
	}
	return results
}
