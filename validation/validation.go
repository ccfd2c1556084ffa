// Package validation applies a catalog of named checks to inspected PKI
// material and rolls the outcomes up into one aggregate state.
//
// Every function here is pure: no I/O, no clock reads (time comes from
// Options.Now) and no mutation of the arguments.
package validation

import (
	"fmt"
	"strings"

	"github.com/jmcleod/hubpki/errs"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusPass         Status = "PASS"
	StatusFail         Status = "FAIL"
	StatusNotAvailable Status = "NOT_AVAILABLE"
)

// State is the aggregate of a list of results.
type State string

const (
	StateValid        State = "VALID"
	StateInvalid      State = "INVALID"
	StateNotAvailable State = "NOT_AVAILABLE"
)

// Result is one named check outcome.
type Result struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func pass(name string) Result { return Result{Name: name, Status: StatusPass} }

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Status: StatusFail, Reason: fmt.Sprintf(format, args...)}
}

func notAvailable(name, reason string) Result {
	return Result{Name: name, Status: StatusNotAvailable, Reason: reason}
}

// Aggregate rolls results up into a State. A failing required check makes
// the state INVALID. Otherwise a required check without material, or no
// results at all, makes it NOT_AVAILABLE. Checks missing from the catalog
// are treated as required.
func Aggregate(results []Result) State {
	if len(results) == 0 {
		return StateNotAvailable
	}
	state := StateValid
	for _, r := range results {
		if !IsRequired(r.Name) {
			continue
		}
		switch r.Status {
		case StatusFail:
			return StateInvalid
		case StatusNotAvailable:
			state = StateNotAvailable
		}
	}
	return state
}

// Error is returned when material fails required checks. It matches
// errs.ErrValidation and, when Err is set, its cause as well.
type Error struct {
	Message string
	Results []Result
	Err     error
}

// NewError builds an Error carrying results.
func NewError(message string, results []Result) *Error {
	return &Error{Message: message, Results: append([]Result(nil), results...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	for i, r := range e.failedResults() {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(r.Name)
		if r.Reason != "" {
			b.WriteString(" (")
			b.WriteString(r.Reason)
			b.WriteString(")")
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == errs.ErrValidation }

// Failed returns the names of the failing checks, in order.
func (e *Error) Failed() []string {
	var names []string
	for _, r := range e.failedResults() {
		names = append(names, r.Name)
	}
	return names
}

func (e *Error) failedResults() []Result {
	var out []Result
	for _, r := range e.Results {
		if r.Status == StatusFail {
			out = append(out, r)
		}
	}
	return out
}
