package store

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileStore serves resources from a YAML document loaded once at startup.
type FileStore struct {
	byID    map[string]Resource
	bySlug  map[string]Resource
	byShort map[string]Resource
}

type resourcesFile struct {
	Resources []Resource `yaml:"resources"`
}

// LoadFileStore reads path, a YAML document with a top-level resources list.
func LoadFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resources file: %w", err)
	}
	s, err := ParseFileStore(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseFileStore builds a FileStore from YAML. IDs are canonicalised; every
// identifier must be unique across the document.
func ParseFileStore(data []byte) (*FileStore, error) {
	var doc resourcesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse resources: %w", err)
	}
	return NewFileStore(doc.Resources)
}

func NewFileStore(resources []Resource) (*FileStore, error) {
	s := &FileStore{
		byID:    make(map[string]Resource, len(resources)),
		bySlug:  make(map[string]Resource),
		byShort: make(map[string]Resource),
	}
	for i, r := range resources {
		u, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("resource %d: id %q is not a UUID", i, r.ID)
		}
		r.ID = u.String()

		if _, dup := s.byID[r.ID]; dup {
			return nil, fmt.Errorf("resource %d: duplicate id %s", i, r.ID)
		}
		s.byID[r.ID] = r

		if r.Slug != "" {
			if _, dup := s.bySlug[r.Slug]; dup {
				return nil, fmt.Errorf("resource %d: duplicate slug %q", i, r.Slug)
			}
			s.bySlug[r.Slug] = r
		}
		if r.ShortID != "" {
			if _, dup := s.byShort[r.ShortID]; dup {
				return nil, fmt.Errorf("resource %d: duplicate short_id %q", i, r.ShortID)
			}
			s.byShort[r.ShortID] = r
		}
	}
	return s, nil
}

// Len returns the number of resources.
func (s *FileStore) Len() int { return len(s.byID) }

func (s *FileStore) ByID(_ context.Context, id string) (Resource, error) {
	return lookup(s.byID, id)
}

func (s *FileStore) BySlug(_ context.Context, slug string) (Resource, error) {
	return lookup(s.bySlug, slug)
}

func (s *FileStore) ByShortID(_ context.Context, shortID string) (Resource, error) {
	return lookup(s.byShort, shortID)
}

func lookup(m map[string]Resource, key string) (Resource, error) {
	r, ok := m[key]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return r, nil
}
