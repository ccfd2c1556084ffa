package inspect

import "strings"

// DNCheck is the outcome of RequiredDNFields.
type DNCheck struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// DNOption adjusts the distinguished-name policy.
type DNOption func(*dnPolicy)

type dnPolicy struct {
	emailRequired bool
}

// WithEmailRequired adds emailAddress to the required attribute set.
func WithEmailRequired() DNOption {
	return func(p *dnPolicy) { p.emailRequired = true }
}

// RequiredDNFields checks that CN, O, OU, C, L and ST are all non-empty.
// Every missing attribute is reported in a single reason, in that order,
// e.g. "Missing: OU, ST".
func RequiredDNFields(s Subject, opts ...DNOption) DNCheck {
	var p dnPolicy
	for _, o := range opts {
		o(&p)
	}

	fields := []struct {
		name  string
		value string
	}{
		{"CN", s.CN},
		{"O", s.O},
		{"OU", s.OU},
		{"C", s.C},
		{"L", s.L},
		{"ST", s.ST},
	}
	if p.emailRequired {
		fields = append(fields, struct {
			name  string
			value string
		}{"emailAddress", s.EmailAddress})
	}

	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return DNCheck{Valid: false, Reason: "Missing: " + strings.Join(missing, ", ")}
	}
	return DNCheck{Valid: true}
}

// SubjectAltNameCount is the total number of SAN entries of every kind.
func SubjectAltNameCount(san SubjectAltName) int {
	return len(san.DNS) + len(san.IPs) + len(san.EmailAddresses) + len(san.URIs)
}

// FlattenSubjectAltNames lists SAN entries as DNS names, then IP addresses,
// then email addresses, then URIs.
func FlattenSubjectAltNames(san SubjectAltName) []string {
	out := make([]string, 0, SubjectAltNameCount(san))
	out = append(out, san.DNS...)
	out = append(out, san.IPs...)
	out = append(out, san.EmailAddresses...)
	out = append(out, san.URIs...)
	return out
}
