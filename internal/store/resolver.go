package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const maxIDLength = 128

// Resolver maps a raw identifier from a request onto a Resource.
type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve looks up UUID-shaped identifiers by ID. Anything else is tried as
// a slug, then as a short ID.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resource, error) {
	raw = strings.TrimSpace(raw)
	if !validID(raw) {
		return Resource{}, ErrInvalidID
	}

	if u, err := uuid.Parse(raw); err == nil {
		return r.store.ByID(ctx, u.String())
	}

	res, err := r.store.BySlug(ctx, raw)
	if !errors.Is(err, ErrNotFound) {
		return res, err
	}
	return r.store.ByShortID(ctx, raw)
}

// validID accepts non-empty ids made of letters, digits, '-' and '_'.
func validID(s string) bool {
	if s == "" || len(s) > maxIDLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
