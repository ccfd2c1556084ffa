package models

import (
	"time"

	"github.com/jmcleod/hubpki/inspect"
)

// JWSCertificate is the message-signing verification key of the hub or of a
// DFSP. For the hub the matching private key is kept in the secret store
// and never carried here.
type JWSCertificate struct {
	DFSPID    string `json:"dfspId"`
	PublicKey string `json:"publicKey"`
	KeyID     string `json:"kid,omitempty"`
	Validated
	CreatedAt time.Time `json:"createdAt"`
}

// ServerCertificate is a TLS server certificate with its chain. DFSPID is
// empty for the hub.
type ServerCertificate struct {
	EnvironmentID         string              `json:"environmentId"`
	DFSPID                string              `json:"dfspId,omitempty"`
	RootCertificate       string              `json:"rootCertificate,omitempty"`
	IntermediateChain     string              `json:"intermediateChain,omitempty"`
	ServerCertificate     string              `json:"serverCertificate"`
	RootCertificateInfo   *inspect.CertInfo   `json:"rootCertificateInfo,omitempty"`
	IntermediateChainInfo []*inspect.CertInfo `json:"intermediateChainInfo,omitempty"`
	ServerCertificateInfo *inspect.CertInfo   `json:"serverCertificateInfo,omitempty"`
	Validated
	UpdatedAt time.Time `json:"updatedAt"`
}

// DFSPCA is the trust anchor a DFSP uses to sign outbound enrollments.
type DFSPCA struct {
	DFSPID                string              `json:"dfspId"`
	RootCertificate       string              `json:"rootCertificate"`
	IntermediateChain     string              `json:"intermediateChain,omitempty"`
	RootCertificateInfo   *inspect.CertInfo   `json:"rootCertificateInfo,omitempty"`
	IntermediateChainInfo []*inspect.CertInfo `json:"intermediateChainInfo,omitempty"`
	Validated
	UpdatedAt time.Time `json:"updatedAt"`
}
