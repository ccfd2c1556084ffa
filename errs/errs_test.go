package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jmcleod/hubpki/errs"
	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("boom")

	parse := fmt.Errorf("loading: %w", &errs.ParseError{Kind: "CSR", Err: cause})
	assert.ErrorIs(t, parse, errs.ErrParse)
	assert.ErrorIs(t, parse, cause)
	assert.NotErrorIs(t, parse, errs.ErrValidation)

	signing := &errs.SigningError{Stderr: "bad csr\n", ExitCode: 2, Err: cause}
	assert.ErrorIs(t, signing, errs.ErrSigning)
	assert.Equal(t, "signing failed: boom (exit code 2): bad csr", signing.Error())

	conn := &errs.ConnectionError{Op: "get", Err: cause}
	assert.ErrorIs(t, conn, errs.ErrConnection)
	assert.Contains(t, conn.Error(), "secret backend get")
}

func TestParsef(t *testing.T) {
	err := errs.Parsef("certificate", "unexpected PEM type %q", "PRIVATE KEY")
	assert.ErrorIs(t, err, errs.ErrParse)
	assert.Equal(t, `parse certificate: unexpected PEM type "PRIVATE KEY"`, err.Error())

	var pe *errs.ParseError
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "certificate", pe.Kind)
}

func TestInternalf(t *testing.T) {
	err := errs.Internalf("%d current CAs for %s", 2, "env-1")
	assert.ErrorIs(t, err, errs.ErrInternal)
	assert.Contains(t, err.Error(), "2 current CAs for env-1")
}
