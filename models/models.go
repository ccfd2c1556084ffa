// Package models holds the hubpki entities: certificate authorities,
// enrollments, JWS keys, server certificates and DFSP trust anchors.
//
// Every certificate-bearing entity embeds Validated, so its aggregate
// validation state is always derived from its results by the same rule.
package models

import (
	"slices"

	"github.com/jmcleod/hubpki/validation"
)

// Validated is the validation outcome attached to an entity.
type Validated struct {
	Validations     []validation.Result `json:"validations"`
	ValidationState validation.State    `json:"validationState"`
}

// SetValidations records results and recomputes ValidationState from them.
func (v *Validated) SetValidations(results []validation.Result) {
	v.Validations = slices.Clone(results)
	if v.Validations == nil {
		v.Validations = []validation.Result{}
	}
	v.ValidationState = validation.Aggregate(results)
}
