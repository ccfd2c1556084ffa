// Package errs defines the error taxonomy shared by every hubpki package.
//
// Callers match on the sentinel values with errors.Is. The typed errors
// carry extra diagnostics and still match their sentinel.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse indicates PEM, CSR, certificate or key material that cannot
	// be decoded. It is always a caller input problem.
	ErrParse = errors.New("parse error")
	// ErrValidation indicates parseable material that fails required checks.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced enrollment, CA, DFSP or secret does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidEntity indicates an operation addressed an entity that is absent
	// or not in a usable state.
	ErrInvalidEntity = errors.New("invalid entity")
	// ErrSigning indicates the external signer failed.
	ErrSigning = errors.New("signing failed")
	// ErrConnection indicates the secret backend is unreachable.
	ErrConnection = errors.New("secret backend unreachable")
	// ErrWrite indicates a secret write was rejected by the backend.
	ErrWrite = errors.New("secret write failed")
	// ErrInternal indicates an invariant violation.
	ErrInternal = errors.New("internal error")
	// ErrAlreadyExists indicates a duplicate insert.
	ErrAlreadyExists = errors.New("already exists")
	// ErrStateRegression indicates an attempt to move an enrollment backwards.
	ErrStateRegression = errors.New("state regression")
)

// ParseError describes material that could not be decoded.
type ParseError struct {
	// Kind names the expected material, e.g. "CSR" or "certificate".
	Kind string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parse %s: invalid PEM data", e.Kind)
	}
	return fmt.Sprintf("parse %s: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Parsef returns a ParseError for kind with a formatted cause.
func Parsef(kind, format string, args ...any) error {
	return &ParseError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// SigningError carries the diagnostics of a failed signer invocation.
// Stderr is the captured diagnostic output of the signer and never holds key
// material supplied by hubpki.
type SigningError struct {
	Stderr   string
	ExitCode int
	Err      error
}

func (e *SigningError) Error() string {
	var b strings.Builder
	b.WriteString("signing failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *SigningError) Unwrap() error { return e.Err }

func (e *SigningError) Is(target error) bool { return target == ErrSigning }

// ConnectionError reports a backend operation that could not reach the
// secret backend after retries were exhausted.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("secret backend %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// Internalf returns an error matching ErrInternal.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
