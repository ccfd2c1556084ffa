// Package inspect decodes PEM-encoded CSRs and certificates into the
// structured subject and extension records that the rest of hubpki persists
// and validates.
package inspect

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Subject holds the distinguished-name attributes hubpki cares about.
// Multi-valued attributes keep their first value.
type Subject struct {
	CN           string `json:"CN"`
	O            string `json:"O"`
	OU           string `json:"OU"`
	C            string `json:"C"`
	L            string `json:"L"`
	ST           string `json:"ST"`
	EmailAddress string `json:"emailAddress"`
}

// SubjectAltName lists the subject alternative names by kind.
type SubjectAltName struct {
	DNS            []string `json:"dns"`
	IPs            []string `json:"ips"`
	EmailAddresses []string `json:"emailAddresses"`
	URIs           []string `json:"uris"`
}

// Extensions holds the inspected X.509 extensions.
type Extensions struct {
	SubjectAltName SubjectAltName `json:"subjectAltName"`
}

// CSRInfo is the inspected form of a certificate signing request.
type CSRInfo struct {
	Subject            Subject    `json:"subject"`
	Extensions         Extensions `json:"extensions"`
	SignatureAlgorithm string     `json:"signatureAlgorithm"`
	PublicKeyAlgorithm string     `json:"publicKeyAlgorithm"`
	PublicKeyLength    int        `json:"publicKeyLength"`
}

// CertInfo is the inspected form of an X.509 certificate.
type CertInfo struct {
	Subject            Subject    `json:"subject"`
	Issuer             Subject    `json:"issuer"`
	Extensions         Extensions `json:"extensions"`
	SerialNumber       string     `json:"serialNumber"`
	NotBefore          time.Time  `json:"notBefore"`
	NotAfter           time.Time  `json:"notAfter"`
	SignatureAlgorithm string     `json:"signatureAlgorithm"`
	PublicKeyAlgorithm string     `json:"publicKeyAlgorithm"`
	PublicKeyLength    int        `json:"publicKeyLength"`
	KeyUsage           []string   `json:"keyUsage"`
	ExtKeyUsage        []string   `json:"extKeyUsage"`
	IsCA               bool       `json:"isCA"`
	FingerprintSHA256  string     `json:"fingerprintSHA256"`
}

// InspectCSR parses csrPEM and returns its structured form.
func InspectCSR(csrPEM string) (*CSRInfo, error) {
	csr, err := ParseCSR(csrPEM)
	if err != nil {
		return nil, err
	}
	return CSRInfoFrom(csr), nil
}

// InspectCertificate parses certPEM and returns its structured form.
func InspectCertificate(certPEM string) (*CertInfo, error) {
	cert, err := ParseCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	return CertInfoFrom(cert), nil
}

// InspectCertificates inspects every certificate of a PEM bundle, in order.
func InspectCertificates(bundlePEM string) ([]*CertInfo, error) {
	certs, err := ParseCertificates(bundlePEM)
	if err != nil {
		return nil, err
	}
	infos := make([]*CertInfo, len(certs))
	for i, c := range certs {
		infos[i] = CertInfoFrom(c)
	}
	return infos, nil
}

// CSRInfoFrom builds a CSRInfo from an already parsed request.
func CSRInfoFrom(csr *x509.CertificateRequest) *CSRInfo {
	return &CSRInfo{
		Subject: SubjectOf(csr.Subject),
		Extensions: Extensions{SubjectAltName: sanFrom(
			csr.DNSNames, csr.IPAddresses, csr.EmailAddresses, csr.URIs)},
		SignatureAlgorithm: csr.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: keyAlgorithmString(csr.PublicKeyAlgorithm, csr.PublicKey),
		PublicKeyLength:    publicKeyLength(csr.PublicKey),
	}
}

// CertInfoFrom builds a CertInfo from an already parsed certificate.
func CertInfoFrom(cert *x509.Certificate) *CertInfo {
	fingerprint := sha256.Sum256(cert.Raw)
	return &CertInfo{
		Subject: SubjectOf(cert.Subject),
		Issuer:  SubjectOf(cert.Issuer),
		Extensions: Extensions{SubjectAltName: sanFrom(
			cert.DNSNames, cert.IPAddresses, cert.EmailAddresses, cert.URIs)},
		SerialNumber:       hex.EncodeToString(cert.SerialNumber.Bytes()),
		NotBefore:          cert.NotBefore.UTC(),
		NotAfter:           cert.NotAfter.UTC(),
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
		PublicKeyAlgorithm: keyAlgorithmString(cert.PublicKeyAlgorithm, cert.PublicKey),
		PublicKeyLength:    publicKeyLength(cert.PublicKey),
		KeyUsage:           keyUsageNames(cert.KeyUsage),
		ExtKeyUsage:        extKeyUsageNames(cert.ExtKeyUsage),
		IsCA:               cert.IsCA,
		FingerprintSHA256:  hex.EncodeToString(fingerprint[:]),
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// SubjectOf extracts the hubpki attributes of a parsed distinguished name.
func SubjectOf(name pkix.Name) Subject {
	s := Subject{
		CN: name.CommonName,
		O:  first(name.Organization),
		OU: first(name.OrganizationalUnit),
		C:  first(name.Country),
		L:  first(name.Locality),
		ST: first(name.Province),
	}
	for _, atv := range name.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if v, ok := atv.Value.(string); ok {
				s.EmailAddress = v
				break
			}
		}
	}
	return s
}

// SubjectString formats a pkix.Name as a readable DN string.
func SubjectString(name pkix.Name) string {
	var parts []string
	if name.CommonName != "" {
		parts = append(parts, "CN="+name.CommonName)
	}
	for _, ou := range name.OrganizationalUnit {
		parts = append(parts, "OU="+ou)
	}
	for _, o := range name.Organization {
		parts = append(parts, "O="+o)
	}
	for _, l := range name.Locality {
		parts = append(parts, "L="+l)
	}
	for _, p := range name.Province {
		parts = append(parts, "ST="+p)
	}
	for _, c := range name.Country {
		parts = append(parts, "C="+c)
	}
	return strings.Join(parts, ", ")
}

func keyAlgorithmString(alg x509.PublicKeyAlgorithm, pub any) string {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", k.Curve.Params().Name)
	case *rsa.PublicKey:
		return "RSA"
	default:
		return alg.String()
	}
}

func publicKeyLength(pub any) int {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return k.N.BitLen()
	case *ecdsa.PublicKey:
		return k.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}

var keyUsageBits = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digitalSignature"},
	{x509.KeyUsageContentCommitment, "contentCommitment"},
	{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
	{x509.KeyUsageDataEncipherment, "dataEncipherment"},
	{x509.KeyUsageKeyAgreement, "keyAgreement"},
	{x509.KeyUsageCertSign, "keyCertSign"},
	{x509.KeyUsageCRLSign, "cRLSign"},
	{x509.KeyUsageEncipherOnly, "encipherOnly"},
	{x509.KeyUsageDecipherOnly, "decipherOnly"},
}

func keyUsageNames(ku x509.KeyUsage) []string {
	names := []string{}
	for _, b := range keyUsageBits {
		if ku&b.bit != 0 {
			names = append(names, b.name)
		}
	}
	return names
}

var extKeyUsageNamesByValue = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "any",
	x509.ExtKeyUsageServerAuth:      "serverAuth",
	x509.ExtKeyUsageClientAuth:      "clientAuth",
	x509.ExtKeyUsageCodeSigning:     "codeSigning",
	x509.ExtKeyUsageEmailProtection: "emailProtection",
	x509.ExtKeyUsageTimeStamping:    "timeStamping",
	x509.ExtKeyUsageOCSPSigning:     "OCSPSigning",
}

func extKeyUsageNames(usages []x509.ExtKeyUsage) []string {
	names := make([]string, 0, len(usages))
	for _, u := range usages {
		if n, ok := extKeyUsageNamesByValue[u]; ok {
			names = append(names, n)
		} else {
			names = append(names, fmt.Sprintf("unknown(%d)", u))
		}
	}
	return names
}
