package secrets

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/hubpki/errs"
)

// Category is the first component of a secret path.
type Category string

const (
	CategoryCA              Category = "ca"
	CategoryHubJWS          Category = "hub-jws"
	CategoryDFSPJWS         Category = "dfsp-jws"
	CategoryHubServerCert   Category = "hub-server-cert"
	CategoryDFSPServerCert  Category = "dfsp-server-cert"
	CategoryDFSPCA          Category = "dfsp-ca"
	CategoryDFSPOutboundKey Category = "dfsp-outbound-key"
	CategoryAPICredentials  Category = "api-credentials"
	CategoryMeta            Category = "_meta"
)

const (
	// HubScope is the scope token of hub-owned singletons.
	HubScope           = "hub"
	MaxComponentLength = 256
	pathSeparator      = "/"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryCA, CategoryHubJWS, CategoryDFSPJWS, CategoryHubServerCert,
		CategoryDFSPServerCert, CategoryDFSPCA, CategoryDFSPOutboundKey,
		CategoryAPICredentials, CategoryMeta,
	}
}

// Path joins category and scope components into a secret path. Each
// component is NFC-normalised and must be non-empty valid UTF-8 without
// slashes or control characters.
func Path(category Category, scope ...string) (string, error) {
	parts := make([]string, 0, len(scope)+1)
	for i, c := range append([]string{string(category)}, scope...) {
		label := "scope"
		if i == 0 {
			label = "category"
		}
		c = norm.NFC.String(c)
		if err := validateComponent(c, label); err != nil {
			return "", err
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, pathSeparator), nil
}

// MustPath is Path for constant components; it panics on invalid input.
func MustPath(category Category, scope ...string) string {
	p, err := Path(category, scope...)
	if err != nil {
		panic(err)
	}
	return p
}

// Split breaks a secret path into its components.
func Split(path string) []string {
	return strings.Split(strings.Trim(path, pathSeparator), pathSeparator)
}

// Join concatenates already-validated path components.
func Join(parts ...string) string {
	return strings.Join(parts, pathSeparator)
}

func validateComponent(c, label string) error {
	if c == "" {
		return fmt.Errorf("%w: %s must not be empty", errs.ErrInvalidEntity, label)
	}
	if len(c) > MaxComponentLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d", errs.ErrInvalidEntity, label, MaxComponentLength)
	}
	if !utf8.ValidString(c) {
		return fmt.Errorf("%w: %s contains invalid UTF-8", errs.ErrInvalidEntity, label)
	}
	if c == "." || c == ".." {
		return fmt.Errorf("%w: %s must not be %q", errs.ErrInvalidEntity, label, c)
	}
	for _, r := range c {
		if r == '/' {
			return fmt.Errorf("%w: %s contains forbidden character %q", errs.ErrInvalidEntity, label, r)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control character", errs.ErrInvalidEntity, label)
		}
	}
	return nil
}

// ChildNames returns the sorted, de-duplicated component directly below
// prefix for each of keys. Keys not under prefix are ignored.
func ChildNames(prefix string, keys []string) []string {
	prefix = strings.Trim(prefix, pathSeparator)
	if prefix != "" {
		prefix += pathSeparator
	}
	seen := make(map[string]struct{})
	var out []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if rest == "" {
			continue
		}
		child, _, _ := strings.Cut(rest, pathSeparator)
		if _, ok := seen[child]; ok {
			continue
		}
		seen[child] = struct{}{}
		out = append(out, child)
	}
	slices.Sort(out)
	return out
}
