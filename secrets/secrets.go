// Package secrets defines the Secret Store Adapter: uniform get, set, list
// and delete over hierarchical secret paths plus CSR signing, implemented by
// interchangeable backends selected at startup.
package secrets

import (
	"context"
	"maps"
)

// Secret is the value stored at a secret path: field names mapped to PEM or
// JSON text.
type Secret map[string]string

// Clone returns an independent copy of s.
func (s Secret) Clone() Secret {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Well-known secret field names.
const (
	FieldCertificate = "cert"
	FieldPrivateKey  = "key"
	FieldCSR         = "csr"
	FieldPublicKey   = "publicKey"
	FieldKeyID       = "kid"
	FieldRootCert    = "rootCert"
	FieldChain       = "chain"
	FieldMetadata    = "metadata"
	FieldVersion     = "version"
)

// Store is the storage half of the adapter.
//
// Connect and Disconnect are idempotent. Get and Delete fail with
// errs.ErrNotFound when nothing is stored at path. Set overwrites
// unconditionally. List returns the sorted child names directly below
// prefix, not full paths.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Get(ctx context.Context, path string) (Secret, error)
	Set(ctx context.Context, path string, value Secret) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
}

// Signer turns a CSR into a certificate. A non-empty commonName replaces the
// CSR's common name. Failures match errs.ErrSigning.
type Signer interface {
	Sign(ctx context.Context, csrPEM, commonName string) (string, error)
}

// Adapter is a Store that can also sign.
type Adapter interface {
	Store
	Signer
}

// CAImporter is implemented by backends that host their own CA and must be
// told when the current CA changes.
type CAImporter interface {
	ImportCA(ctx context.Context, certPEM, keyPEM string) error
}

// VersionChecker is implemented by backends whose signer must match an
// expected version before the process may serve traffic.
type VersionChecker interface {
	CheckVersion(ctx context.Context) error
}
