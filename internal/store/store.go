// Package store resolves cloaking resources and their policies.
package store

import (
	"context"
	"errors"

	"github.com/shortontech/cloakgate/internal/policy"
)

var (
	// ErrNotFound means no resource matched the identifier.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidID means the identifier is empty or not a plausible id.
	ErrInvalidID = errors.New("invalid resource identifier")
	// ErrUnavailable means the backing store could not answer in time.
	ErrUnavailable = errors.New("policy store unavailable")
)

// Resource is one cloaking resource. ID is a canonical UUID string.
type Resource struct {
	ID      string                `yaml:"id" json:"id"`
	Slug    string                `yaml:"slug,omitempty" json:"slug,omitempty"`
	ShortID string                `yaml:"short_id,omitempty" json:"short_id,omitempty"`
	Policy  policy.CloakingPolicy `yaml:"policy" json:"policy"`
}

// Store looks resources up by each of their identifiers. Implementations
// return ErrNotFound on a miss.
type Store interface {
	ByID(ctx context.Context, id string) (Resource, error)
	BySlug(ctx context.Context, slug string) (Resource, error)
	ByShortID(ctx context.Context, shortID string) (Resource, error)
}

// Pinger is implemented by stores with a remote backend.
type Pinger interface {
	Ping(ctx context.Context) error
}
