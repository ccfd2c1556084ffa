// Package postgres implements the metadata stores on PostgreSQL.
//
// Every record kind shares one records table keyed by (kind, scope, id).
// The entity itself is kept as JSONB next to its state so state lookups
// can use an index without decoding bodies.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/hubpki/errs"
	"github.com/jmcleod/hubpki/metadata"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the required tables, indexes and sequence if they do
// not exist. It is safe to call on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Store owns the connection pool shared by the repositories.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN connects, ensures the schema exists and returns a Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Repository is a metadata.Repository for one record kind.
type Repository[T metadata.Record] struct {
	pool *pgxpool.Pool
	kind string
}

// NewRepository returns a Repository storing records under kind.
func NewRepository[T metadata.Record](s *Store, kind string) *Repository[T] {
	return &Repository[T]{pool: s.pool, kind: kind}
}

func (r *Repository[T]) Insert(ctx context.Context, record T) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", r.kind, err)
	}
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO records (kind, scope, id, state, body)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (kind, scope, id) DO NOTHING`,
		r.kind, record.RecordScope(), record.RecordID(), record.RecordState(), body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s/%s: %w", r.kind, record.RecordScope(), record.RecordID(), errs.ErrAlreadyExists)
	}
	return nil
}

func (r *Repository[T]) FindByID(ctx context.Context, scope, id string) (T, error) {
	var (
		zero T
		body []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT body FROM records WHERE kind = $1 AND scope = $2 AND id = $3`,
		r.kind, scope, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%s %s/%s: %w", r.kind, scope, id, errs.ErrNotFound)
	}
	if err != nil {
		return zero, err
	}
	return r.decode(body)
}

func (r *Repository[T]) Update(ctx context.Context, record T) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", r.kind, err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE records SET state = $4, body = $5, updated_at = now()
		 WHERE kind = $1 AND scope = $2 AND id = $3`,
		r.kind, record.RecordScope(), record.RecordID(), record.RecordState(), body)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s/%s: %w", r.kind, record.RecordScope(), record.RecordID(), errs.ErrNotFound)
	}
	return nil
}

func (r *Repository[T]) Delete(ctx context.Context, scope, id string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM records WHERE kind = $1 AND scope = $2 AND id = $3`,
		r.kind, scope, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s/%s: %w", r.kind, scope, id, errs.ErrNotFound)
	}
	return nil
}

func (r *Repository[T]) FindByState(ctx context.Context, scope, state string) ([]T, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT body FROM records WHERE kind = $1 AND scope = $2 AND state = $3 ORDER BY seq`,
		r.kind, scope, state)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *Repository[T]) List(ctx context.Context, scope string) ([]T, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT body FROM records WHERE kind = $1 AND scope = $2 ORDER BY seq`,
		r.kind, scope)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *Repository[T]) collect(rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		rec, err := r.decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository[T]) decode(body []byte) (T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decoding %s record: %w", r.kind, err)
	}
	return out, nil
}

// SequenceIDs issues identifiers from the hubpki_record_id_seq sequence.
type SequenceIDs struct {
	pool *pgxpool.Pool
}

// NewSequenceIDs returns a generator backed by s.
func NewSequenceIDs(s *Store) *SequenceIDs {
	return &SequenceIDs{pool: s.pool}
}

func (g *SequenceIDs) NextID(ctx context.Context, _ string) (string, error) {
	var id int64
	if err := g.pool.QueryRow(ctx, `SELECT nextval('hubpki_record_id_seq')`).Scan(&id); err != nil {
		return "", fmt.Errorf("next record id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Directory is the dfsps table as a metadata.DFSPDirectory.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory returns a Directory backed by s.
func NewDirectory(s *Store) *Directory {
	return &Directory{pool: s.pool}
}

// Add registers a DFSP, or renames an existing one, and returns its row.
func (d *Directory) Add(ctx context.Context, dfspID, name string) (*metadata.DFSP, error) {
	dfsp := &metadata.DFSP{}
	err := d.pool.QueryRow(ctx,
		`INSERT INTO dfsps (dfsp_id, name) VALUES ($1, $2)
		 ON CONFLICT (dfsp_id) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, dfsp_id, name`,
		dfspID, name).Scan(&dfsp.ID, &dfsp.DFSPID, &dfsp.Name)
	if err != nil {
		return nil, err
	}
	return dfsp, nil
}

func (d *Directory) Resolve(ctx context.Context, dfspID string) (*metadata.DFSP, error) {
	dfsp := &metadata.DFSP{}
	err := d.pool.QueryRow(ctx,
		`SELECT id, dfsp_id, name FROM dfsps WHERE dfsp_id = $1`,
		dfspID).Scan(&dfsp.ID, &dfsp.DFSPID, &dfsp.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dfsp %s: %w", dfspID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return dfsp, nil
}

func (d *Directory) IDMapping(ctx context.Context) (map[string]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT id, dfsp_id FROM dfsps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var (
			id     int64
			dfspID string
		)
		if err := rows.Scan(&id, &dfspID); err != nil {
			return nil, err
		}
		out[strconv.FormatInt(id, 10)] = dfspID
	}
	return out, rows.Err()
}

var (
	_ metadata.IDGenerator   = (*SequenceIDs)(nil)
	_ metadata.DFSPDirectory = (*Directory)(nil)
)
