package inspect

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"net"
	"net/url"

	"github.com/jmcleod/hubpki/errs"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// ParseCSR decodes a single PEM "CERTIFICATE REQUEST" block.
func ParseCSR(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return nil, &errs.ParseError{Kind: "CSR"}
	}
	if block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST" {
		return nil, errs.Parsef("CSR", "unexpected PEM type %q", block.Type)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, &errs.ParseError{Kind: "CSR", Err: err}
	}
	return csr, nil
}

// ParseCertificate decodes the first PEM "CERTIFICATE" block of certPEM.
func ParseCertificate(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, &errs.ParseError{Kind: "certificate"}
	}
	if block.Type != "CERTIFICATE" {
		return nil, errs.Parsef("certificate", "unexpected PEM type %q", block.Type)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &errs.ParseError{Kind: "certificate", Err: err}
	}
	return cert, nil
}

// ParseCertificates decodes every block of a PEM bundle, in order. Every
// block must be a certificate and the bundle must hold at least one.
func ParseCertificates(bundlePEM string) ([]*x509.Certificate, error) {
	rest := []byte(bundlePEM)
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			return nil, errs.Parsef("certificate chain", "unexpected PEM type %q", block.Type)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, &errs.ParseError{Kind: "certificate chain", Err: err}
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, &errs.ParseError{Kind: "certificate chain"}
	}
	if len(bytes.TrimSpace(rest)) != 0 {
		return nil, errs.Parsef("certificate chain", "trailing data after last PEM block")
	}
	return certs, nil
}

// ParsePublicKey decodes a PKIX "PUBLIC KEY" or PKCS#1 "RSA PUBLIC KEY" block.
func ParsePublicKey(keyPEM string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, &errs.ParseError{Kind: "public key"}
	}
	var (
		pub crypto.PublicKey
		err error
	)
	switch block.Type {
	case "PUBLIC KEY":
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errs.Parsef("public key", "unexpected PEM type %q", block.Type)
	}
	if err != nil {
		return nil, &errs.ParseError{Kind: "public key", Err: err}
	}
	return pub, nil
}

// ParsePrivateKey decodes a PKCS#8, PKCS#1 or SEC1 private key block.
func ParsePrivateKey(keyPEM string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, &errs.ParseError{Kind: "private key"}
	}
	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, errs.Parsef("private key", "unexpected PEM type %q", block.Type)
	}
	if err != nil {
		return nil, &errs.ParseError{Kind: "private key", Err: err}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, &errs.ParseError{Kind: "private key", Err: errors.New("key type cannot sign")}
	}
	return signer, nil
}

// PublicKeyEqual reports whether a and b are the same public key.
func PublicKeyEqual(a, b crypto.PublicKey) bool {
	if a == nil || b == nil {
		return false
	}
	k, ok := a.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return k.Equal(b)
}

func sanFrom(dns []string, ips []net.IP, emails []string, uris []*url.URL) SubjectAltName {
	san := SubjectAltName{
		DNS:            append([]string{}, dns...),
		IPs:            make([]string, 0, len(ips)),
		EmailAddresses: append([]string{}, emails...),
		URIs:           make([]string, 0, len(uris)),
	}
	for _, ip := range ips {
		san.IPs = append(san.IPs, ip.String())
	}
	for _, u := range uris {
		san.URIs = append(san.URIs, u.String())
	}
	return san
}
