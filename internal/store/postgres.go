package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/shortontech/cloakgate/internal/policy"
)

// PostgresStore reads resources from the cloak_resources table:
//
//	id UUID PRIMARY KEY, slug TEXT UNIQUE, short_id TEXT UNIQUE, policy JSONB
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres wraps an open pool.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a lib/pq pool for dsn and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

const selectResource = `SELECT id, COALESCE(slug, ''), COALESCE(short_id, ''), policy FROM cloak_resources WHERE `

func (s *PostgresStore) ByID(ctx context.Context, id string) (Resource, error) {
	return s.queryOne(ctx, selectResource+"id = $1", id)
}

func (s *PostgresStore) BySlug(ctx context.Context, slug string) (Resource, error) {
	return s.queryOne(ctx, selectResource+"slug = $1", slug)
}

func (s *PostgresStore) ByShortID(ctx context.Context, shortID string) (Resource, error) {
	return s.queryOne(ctx, selectResource+"short_id = $1", shortID)
}

func (s *PostgresStore) queryOne(ctx context.Context, query, arg string) (Resource, error) {
	var (
		r   Resource
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&r.ID, &r.Slug, &r.ShortID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("query resource: %w", err)
	}

	r.Policy = policy.Defaults()
	if err := json.Unmarshal(raw, &r.Policy); err != nil {
		return Resource{}, fmt.Errorf("resource %s: %w: %v", r.ID, policy.ErrMalformedPolicy, err)
	}
	return r, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
