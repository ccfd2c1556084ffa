// Package metadata defines the persistence contract for hubpki entities:
// scoped record repositories, identifier generation and DFSP resolution.
//
// Secrets never pass through this package. Records hold public material
// (certificates, CSRs, validation results) and state only.
package metadata

import (
	"context"

	"github.com/jmcleod/hubpki/internal/uuid"
)

// Record is an entity a Repository can persist. Scope partitions records,
// e.g. by environment or DFSP, and ID is unique within a scope.
type Record interface {
	RecordID() string
	RecordScope() string
	RecordState() string
}

// Repository stores records of one kind. Implementations return
// errs.ErrNotFound for missing records and errs.ErrAlreadyExists for a
// duplicate Insert. List and FindByState return insertion order.
type Repository[T Record] interface {
	Insert(ctx context.Context, record T) error
	FindByID(ctx context.Context, scope, id string) (T, error)
	Update(ctx context.Context, record T) error
	Delete(ctx context.Context, scope, id string) error
	FindByState(ctx context.Context, scope, state string) ([]T, error)
	List(ctx context.Context, scope string) ([]T, error)
}

// IDGenerator issues record identifiers.
type IDGenerator interface {
	NextID(ctx context.Context, kind string) (string, error)
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NextID(context.Context, string) (string, error) {
	return uuid.New(), nil
}

// DFSP is a participant known to the hub. ID is the numeric key used by
// the legacy secret layout.
type DFSP struct {
	ID     int64  `json:"id"`
	DFSPID string `json:"dfspId"`
	Name   string `json:"name,omitempty"`
}

// DFSPResolver looks up DFSPs by identifier, failing with errs.ErrNotFound.
type DFSPResolver interface {
	Resolve(ctx context.Context, dfspID string) (*DFSP, error)
}

// DFSPDirectory is a DFSPResolver that can also enumerate the numeric key
// to identifier mapping.
type DFSPDirectory interface {
	DFSPResolver
	IDMapping(ctx context.Context) (map[string]string, error)
}
