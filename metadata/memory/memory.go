// Package memory provides thread-safe in-memory metadata stores.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/metadata"
)

type rowKey struct {
	scope string
	id    string
}

type row struct {
	state string
	body  []byte
}

// Repository is an in-memory metadata.Repository. Records are stored as
// JSON, so callers never share state with the store.
type Repository[T metadata.Record] struct {
	mu    sync.RWMutex
	rows  map[rowKey]row
	order []rowKey
}

// NewRepository returns an empty Repository.
func NewRepository[T metadata.Record]() *Repository[T] {
	return &Repository[T]{rows: make(map[rowKey]row)}
}

func encode[T metadata.Record](record T) (rowKey, row, error) {
	body, err := json.Marshal(record)
	if err != nil {
		return rowKey{}, row{}, fmt.Errorf("encoding record: %w", err)
	}
	return rowKey{record.RecordScope(), record.RecordID()}, row{state: record.RecordState(), body: body}, nil
}

func decode[T metadata.Record](r row) (T, error) {
	var out T
	if err := json.Unmarshal(r.body, &out); err != nil {
		return out, fmt.Errorf("decoding record: %w", err)
	}
	return out, nil
}

func (r *Repository[T]) Insert(ctx context.Context, record T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, v, err := encode(record)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[k]; ok {
		return fmt.Errorf("%s/%s: %w", k.scope, k.id, errs.ErrAlreadyExists)
	}
	r.rows[k] = v
	r.order = append(r.order, k)
	return nil
}

func (r *Repository[T]) FindByID(ctx context.Context, scope, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.rows[rowKey{scope, id}]
	if !ok {
		return zero, fmt.Errorf("%s/%s: %w", scope, id, errs.ErrNotFound)
	}
	return decode[T](v)
}

func (r *Repository[T]) Update(ctx context.Context, record T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k, v, err := encode(record)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[k]; !ok {
		return fmt.Errorf("%s/%s: %w", k.scope, k.id, errs.ErrNotFound)
	}
	r.rows[k] = v
	return nil
}

func (r *Repository[T]) Delete(ctx context.Context, scope, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := rowKey{scope, id}
	if _, ok := r.rows[k]; !ok {
		return fmt.Errorf("%s/%s: %w", scope, id, errs.ErrNotFound)
	}
	delete(r.rows, k)
	r.order = slices.DeleteFunc(r.order, func(o rowKey) bool { return o == k })
	return nil
}

func (r *Repository[T]) FindByState(ctx context.Context, scope, state string) ([]T, error) {
	return r.collect(ctx, scope, func(v row) bool { return v.state == state })
}

func (r *Repository[T]) List(ctx context.Context, scope string) ([]T, error) {
	return r.collect(ctx, scope, func(row) bool { return true })
}

func (r *Repository[T]) collect(ctx context.Context, scope string, keep func(row) bool) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []T{}
	for _, k := range r.order {
		if k.scope != scope {
			continue
		}
		v := r.rows[k]
		if !keep(v) {
			continue
		}
		rec, err := decode[T](v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SequentialIDs issues "1", "2", ... from a counter owned by the instance.
type SequentialIDs struct {
	mu   sync.Mutex
	next int64
}

func (s *SequentialIDs) NextID(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return strconv.FormatInt(s.next, 10), nil
}

// Directory is an in-memory metadata.DFSPDirectory.
type Directory struct {
	mu     sync.RWMutex
	dfsps  map[string]metadata.DFSP
	nextID int64
}

// NewDirectory returns a Directory holding dfsps. A DFSP with a zero ID is
// assigned the next free numeric key.
func NewDirectory(dfsps ...metadata.DFSP) *Directory {
	d := &Directory{dfsps: make(map[string]metadata.DFSP)}
	for _, dfsp := range dfsps {
		d.Add(dfsp)
	}
	return d
}

// Add registers or replaces a DFSP and returns it with its numeric key.
func (d *Directory) Add(dfsp metadata.DFSP) metadata.DFSP {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.dfsps[dfsp.DFSPID]; ok && dfsp.ID == 0 {
		dfsp.ID = existing.ID
	}
	if dfsp.ID == 0 {
		d.nextID++
		dfsp.ID = d.nextID
	}
	d.nextID = max(d.nextID, dfsp.ID)
	d.dfsps[dfsp.DFSPID] = dfsp
	return dfsp
}

func (d *Directory) Resolve(ctx context.Context, dfspID string) (*metadata.DFSP, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	dfsp, ok := d.dfsps[dfspID]
	if !ok {
		return nil, fmt.Errorf("dfsp %s: %w", dfspID, errs.ErrNotFound)
	}
	return &dfsp, nil
}

func (d *Directory) IDMapping(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.dfsps))
	for _, dfsp := range d.dfsps {
		out[strconv.FormatInt(dfsp.ID, 10)] = dfsp.DFSPID
	}
	return out, nil
}

var (
	_ metadata.IDGenerator   = (*SequentialIDs)(nil)
	_ metadata.DFSPDirectory = (*Directory)(nil)
)
