package models

import (
	"fmt"
	"time"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/inspect"
)

// InboundState is the state of an inbound enrollment: a DFSP submits a CSR
// and the hub signs it.
type InboundState string

const (
	InboundCSRLoaded  InboundState = "CSR_LOADED"
	InboundCertSigned InboundState = "CERT_SIGNED"
)

var inboundRank = map[InboundState]int{
	InboundCSRLoaded:  1,
	InboundCertSigned: 2,
}

// OutboundState is the state of an outbound enrollment: the hub generates a
// CSR, the DFSP CA signs it and the hub validates the result.
type OutboundState string

const (
	OutboundCSRLoaded  OutboundState = "CSR_LOADED"
	OutboundCertSigned OutboundState = "CERT_SIGNED"
	OutboundValid      OutboundState = "VALID"
)

var outboundRank = map[OutboundState]int{
	OutboundCSRLoaded:  1,
	OutboundCertSigned: 2,
	OutboundValid:      3,
}

func advance[S ~string](ranks map[S]int, from, to S) error {
	rank, ok := ranks[to]
	if !ok {
		return fmt.Errorf("%w: unknown enrollment state %q", errs.ErrInvalidEntity, to)
	}
	if rank < ranks[from] {
		return fmt.Errorf("%w: %s -> %s", errs.ErrStateRegression, from, to)
	}
	return nil
}

// InboundEnrollment tracks one DFSP CSR through hub signing.
type InboundEnrollment struct {
	ID            string            `json:"id"`
	DFSPID        string            `json:"dfspId"`
	EnvironmentID string            `json:"environmentId"`
	CSR           string            `json:"csr"`
	CSRInfo       *inspect.CSRInfo  `json:"csrInfo"`
	Certificate   string            `json:"certificate,omitempty"`
	CertInfo      *inspect.CertInfo `json:"certInfo,omitempty"`
	State         InboundState      `json:"state"`
	Validated
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (e *InboundEnrollment) RecordID() string    { return e.ID }
func (e *InboundEnrollment) RecordScope() string { return e.DFSPID }
func (e *InboundEnrollment) RecordState() string { return string(e.State) }

// Advance moves the enrollment to state to. Staying in the same state is
// allowed; moving backwards fails with errs.ErrStateRegression.
func (e *InboundEnrollment) Advance(to InboundState) error {
	if err := advance(inboundRank, e.State, to); err != nil {
		return err
	}
	e.State = to
	return nil
}

// OutboundEnrollment tracks one hub-generated CSR through DFSP signing and
// hub validation. The private key of the CSR is kept in the secret store.
type OutboundEnrollment struct {
	ID            string            `json:"id"`
	DFSPID        string            `json:"dfspId"`
	EnvironmentID string            `json:"environmentId"`
	CSR           string            `json:"csr"`
	CSRInfo       *inspect.CSRInfo  `json:"csrInfo"`
	Certificate   string            `json:"certificate,omitempty"`
	CertInfo      *inspect.CertInfo `json:"certInfo,omitempty"`
	State         OutboundState     `json:"state"`
	Validated
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (e *OutboundEnrollment) RecordID() string    { return e.ID }
func (e *OutboundEnrollment) RecordScope() string { return e.DFSPID }
func (e *OutboundEnrollment) RecordState() string { return string(e.State) }

// Advance moves the enrollment to state to, refusing regressions.
func (e *OutboundEnrollment) Advance(to OutboundState) error {
	if err := advance(outboundRank, e.State, to); err != nil {
		return err
	}
	e.State = to
	return nil
}
