package models

import (
	"encoding/json"
	"testing"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetValidations(t *testing.T) {
	var v Validated
	v.SetValidations(nil)
	assert.Equal(t, validation.StateNotAvailable, v.ValidationState)
	assert.NotNil(t, v.Validations)

	results := []validation.Result{
		{Name: validation.CSRMandatoryDN, Status: validation.StatusPass},
		{Name: validation.CSRMandatorySAN, Status: validation.StatusFail, Reason: "no SAN"},
	}
	v.SetValidations(results)
	assert.Equal(t, validation.StateInvalid, v.ValidationState)

	results[1].Status = validation.StatusPass
	assert.Equal(t, validation.StatusFail, v.Validations[1].Status, "results are copied")
}

func TestInboundAdvance(t *testing.T) {
	e := &InboundEnrollment{State: InboundCSRLoaded}
	require.NoError(t, e.Advance(InboundCSRLoaded))
	require.NoError(t, e.Advance(InboundCertSigned))
	require.NoError(t, e.Advance(InboundCertSigned))

	err := e.Advance(InboundCSRLoaded)
	assert.ErrorIs(t, err, errs.ErrStateRegression)
	assert.Equal(t, InboundCertSigned, e.State)

	assert.ErrorIs(t, e.Advance("BOGUS"), errs.ErrInvalidEntity)
}

func TestOutboundAdvance(t *testing.T) {
	e := &OutboundEnrollment{State: OutboundCSRLoaded}
	require.NoError(t, e.Advance(OutboundCertSigned))
	require.NoError(t, e.Advance(OutboundValid))
	assert.ErrorIs(t, e.Advance(OutboundCertSigned), errs.ErrStateRegression)
	assert.ErrorIs(t, e.Advance(OutboundCSRLoaded), errs.ErrStateRegression)
	assert.Equal(t, OutboundValid, e.State)
}

func TestRecordInterfaces(t *testing.T) {
	ca := &CertificateAuthority{ID: "1", EnvironmentID: "env-1", Current: true}
	assert.Equal(t, "env-1", ca.RecordScope())
	assert.Equal(t, CACurrent, ca.RecordState())
	ca.Current = false
	assert.Equal(t, CASuperseded, ca.RecordState())

	in := &InboundEnrollment{ID: "2", DFSPID: "dfsp-a", State: InboundCertSigned}
	assert.Equal(t, "dfsp-a", in.RecordScope())
	assert.Equal(t, "CERT_SIGNED", in.RecordState())
}

func TestEnrollmentJSON(t *testing.T) {
	e := &InboundEnrollment{ID: "1", DFSPID: "dfsp-a", CSR: "pem", State: InboundCSRLoaded}
	e.SetValidations([]validation.Result{{Name: validation.CSRMandatoryDN, Status: validation.StatusPass}})

	data, err := json.Marshal(e)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "CSR_LOADED", fields["state"])
	assert.Equal(t, "VALID", fields["validationState"])
	assert.Contains(t, fields, "validations")
	assert.NotContains(t, fields, "certificate")
}
