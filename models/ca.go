package models

import (
	"time"

	"github.com/jmcleod/hubpki/inspect"
)

// Record states of a CertificateAuthority.
const (
	CACurrent    = "current"
	CASuperseded = "superseded"
)

// CertificateAuthority is one CA of an environment. At most one record per
// environment is current; older ones are kept as superseded history. The
// private key lives in the secret store, never here.
type CertificateAuthority struct {
	ID             string            `json:"id"`
	EnvironmentID  string            `json:"environmentId"`
	CertificatePEM string            `json:"certificate"`
	CSRPEM         string            `json:"csr,omitempty"`
	CertInfo       *inspect.CertInfo `json:"certInfo,omitempty"`
	CSRInfo        *inspect.CSRInfo  `json:"csrInfo,omitempty"`
	Current        bool              `json:"current"`
	Validated
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *CertificateAuthority) RecordID() string    { return c.ID }
func (c *CertificateAuthority) RecordScope() string { return c.EnvironmentID }

func (c *CertificateAuthority) RecordState() string {
	if c.Current {
		return CACurrent
	}
	return CASuperseded
}
