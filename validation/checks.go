package validation

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmcleod/hubpki/inspect"
)

const minRSABits = 2048

func checkCSRSignature(csr *x509.CertificateRequest) Result {
	if err := csr.CheckSignature(); err != nil {
		return fail(CSRSignatureValid, "signature does not verify: %v", err)
	}
	return pass(CSRSignatureValid)
}

func checkDN(name string, subject inspect.Subject, emailRequired bool) Result {
	var opts []inspect.DNOption
	if emailRequired {
		opts = append(opts, inspect.WithEmailRequired())
	}
	dn := inspect.RequiredDNFields(subject, opts...)
	if !dn.Valid {
		return fail(name, "%s", dn.Reason)
	}
	return pass(name)
}

func checkSAN(name string, san inspect.SubjectAltName) Result {
	if inspect.SubjectAltNameCount(san) == 0 {
		return fail(name, "no subject alternative names")
	}
	return pass(name)
}

func checkCNInSAN(csr *x509.CertificateRequest) Result {
	cn := csr.Subject.CommonName
	if cn == "" {
		return fail(CSRCNInSAN, "no common name")
	}
	for _, d := range csr.DNSNames {
		if strings.EqualFold(d, cn) {
			return pass(CSRCNInSAN)
		}
	}
	return fail(CSRCNInSAN, "common name %q is not a DNS subject alternative name", cn)
}

// keyStrength returns an empty string for acceptable keys, else the reason.
func keyStrength(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if bits := k.N.BitLen(); bits < minRSABits {
			return fmt.Sprintf("RSA key of %d bits is below %d", bits, minRSABits)
		}
	case *ecdsa.PublicKey:
		if bits := k.Curve.Params().BitSize; bits < 256 {
			return fmt.Sprintf("ECDSA key of %d bits is below 256", bits)
		}
	case ed25519.PublicKey:
	case nil:
		return "no public key"
	default:
		return fmt.Sprintf("unsupported key type %T", pub)
	}
	return ""
}

func checkKeyStrength(name string, pub crypto.PublicKey) Result {
	if reason := keyStrength(pub); reason != "" {
		return fail(name, "%s", reason)
	}
	return pass(name)
}

func checkValidity(cert *x509.Certificate, now time.Time) Result {
	if now.IsZero() {
		return notAvailable(CertValidity, "no reference time")
	}
	if now.Before(cert.NotBefore) {
		return fail(CertValidity, "not valid before %s", cert.NotBefore.UTC().Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fail(CertValidity, "expired at %s", cert.NotAfter.UTC().Format(time.RFC3339))
	}
	return pass(CertValidity)
}

func checkKeyUsage(cert *x509.Certificate, required x509.KeyUsage) Result {
	if cert.KeyUsage == 0 {
		return fail(CertKeyUsage, "no key usage extension")
	}
	if missing := required &^ cert.KeyUsage; missing != 0 {
		return fail(CertKeyUsage, "missing key usage bits %#x", int(missing))
	}
	return pass(CertKeyUsage)
}

func checkExtKeyUsage(cert *x509.Certificate, required []x509.ExtKeyUsage) Result {
	if len(cert.ExtKeyUsage) == 0 {
		return fail(CertExtKeyUsage, "no extended key usage extension")
	}
	if slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageAny) {
		return pass(CertExtKeyUsage)
	}
	for _, r := range required {
		if !slices.Contains(cert.ExtKeyUsage, r) {
			return fail(CertExtKeyUsage, "missing extended key usage %s", extKeyUsageName(r))
		}
	}
	return pass(CertExtKeyUsage)
}

func extKeyUsageName(u x509.ExtKeyUsage) string {
	switch u {
	case x509.ExtKeyUsageServerAuth:
		return "serverAuth"
	case x509.ExtKeyUsageClientAuth:
		return "clientAuth"
	default:
		return fmt.Sprintf("%d", u)
	}
}

func checkSignedBy(cert *x509.Certificate, issuers []*x509.Certificate) Result {
	if len(issuers) == 0 {
		return notAvailable(CertSignedByCA, "no CA certificate to verify against")
	}
	var lastErr error
	for _, issuer := range issuers {
		err := cert.CheckSignatureFrom(issuer)
		if err == nil {
			return pass(CertSignedByCA)
		}
		lastErr = err
	}
	return fail(CertSignedByCA, "not signed by the CA: %v", lastErr)
}

func checkAnchored(cert *x509.Certificate, anchor *Anchor, now time.Time, usages []x509.ExtKeyUsage) Result {
	if anchor == nil || anchor.Root == nil {
		return notAvailable(CertSignedByCA, "no CA certificate to verify against")
	}
	if state := Aggregate(anchor.Validations); state != StateValid {
		var failed []string
		for _, r := range anchor.Validations {
			if r.Status != StatusPass {
				failed = append(failed, r.Name)
			}
		}
		if len(failed) == 0 {
			return fail(CertSignedByCA, "CA is %s", state)
		}
		return fail(CertSignedByCA, "CA is %s: %s", state, strings.Join(failed, ", "))
	}
	if now.IsZero() {
		return notAvailable(CertSignedByCA, "no reference time")
	}
	roots := x509.NewCertPool()
	roots.AddCert(anchor.Root)
	inter := x509.NewCertPool()
	for _, c := range anchor.Intermediates {
		inter.AddCert(c)
	}
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   now,
		KeyUsages:     usages,
	})
	if err != nil {
		return fail(CertSignedByCA, "not issued under the CA: %v", err)
	}
	return pass(CertSignedByCA)
}

func checkKeyMatchesCSR(cert *x509.Certificate, csr *x509.CertificateRequest) Result {
	if csr == nil {
		return notAvailable(CertPublicKeyMatchesCSR, "no CSR")
	}
	if !inspect.PublicKeyEqual(cert.PublicKey, csr.PublicKey) {
		return fail(CertPublicKeyMatchesCSR, "certificate public key differs from the CSR public key")
	}
	return pass(CertPublicKeyMatchesCSR)
}

func checkKeyMatchesPrivate(cert *x509.Certificate, key crypto.Signer) Result {
	if !inspect.PublicKeyEqual(cert.PublicKey, key.Public()) {
		return fail(CertPublicKeyMatchesPrivate, "private key does not belong to the certificate")
	}
	return pass(CertPublicKeyMatchesPrivate)
}

func checkIsCA(cert *x509.Certificate) Result {
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return fail(CACertificateIsCA, "basic constraints do not mark %q as a CA", cert.Subject.CommonName)
	}
	return pass(CACertificateIsCA)
}

func checkSelfSigned(cert *x509.Certificate) Result {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return fail(CACertificateSelfSigned, "issuer differs from subject")
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return fail(CACertificateSelfSigned, "self-signature does not verify: %v", err)
	}
	return pass(CACertificateSelfSigned)
}

// checkChainLinkage verifies intermediates ordered from the one closest to a
// leaf up to the one closest to root.
func checkChainLinkage(root *x509.Certificate, intermediates []*x509.Certificate) Result {
	if root == nil {
		return notAvailable(ChainLinkage, "no root certificate")
	}
	for i, c := range intermediates {
		if !c.BasicConstraintsValid || !c.IsCA {
			return fail(ChainLinkage, "intermediate %d (%s) is not a CA", i, c.Subject.CommonName)
		}
		parent := root
		if i+1 < len(intermediates) {
			parent = intermediates[i+1]
		}
		if err := c.CheckSignatureFrom(parent); err != nil {
			return fail(ChainLinkage, "intermediate %d (%s) is not issued by %s: %v",
				i, c.Subject.CommonName, parent.Subject.CommonName, err)
		}
	}
	return pass(ChainLinkage)
}

func checkServerChain(root *x509.Certificate, intermediates []*x509.Certificate, server *x509.Certificate, now time.Time, usages []x509.ExtKeyUsage) Result {
	if root == nil {
		return notAvailable(ServerChainVerifies, "no root certificate")
	}
	if now.IsZero() {
		return notAvailable(ServerChainVerifies, "no reference time")
	}
	roots := x509.NewCertPool()
	roots.AddCert(root)
	inter := x509.NewCertPool()
	for _, c := range intermediates {
		inter.AddCert(c)
	}
	_, err := server.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: inter,
		CurrentTime:   now,
		KeyUsages:     usages,
	})
	if err != nil {
		return fail(ServerChainVerifies, "%v", err)
	}
	return pass(ServerChainVerifies)
}

func checkJWSKeyPair(pub crypto.PublicKey, priv crypto.Signer) Result {
	if !inspect.PublicKeyEqual(pub, priv.Public()) {
		return fail(JWSKeyPairMatches, "private key does not correspond to the public key")
	}
	return pass(JWSKeyPairMatches)
}
