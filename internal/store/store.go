// Package store holds the credential and endpoint documents. Both are keyed
// by the SHA-256 hash of the raw API key, so neither document contains a
// usable secret.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/codequerydev/codequery/internal/docstore"
	"github.com/codequerydev/codequery/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// CredentialStore persists API key records.
type CredentialStore struct {
	doc *docstore.Document[model.APIKeyRecord]
}

// NewCredentialStore wraps doc.
func NewCredentialStore(doc *docstore.Document[model.APIKeyRecord]) *CredentialStore {
	return &CredentialStore{doc: doc}
}

// Get returns the record for hash.
func (s *CredentialStore) Get(ctx context.Context, hash string) (*model.APIKeyRecord, error) {
	m, err := s.doc.Load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := m[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Put creates or replaces the record for hash.
func (s *CredentialStore) Put(ctx context.Context, hash string, rec model.APIKeyRecord) error {
	return s.doc.Update(ctx, func(m map[string]model.APIKeyRecord) error {
		m[hash] = rec
		return nil
	})
}

// Delete removes the record for hash and returns it.
func (s *CredentialStore) Delete(ctx context.Context, hash string) (*model.APIKeyRecord, error) {
	var removed model.APIKeyRecord
	err := s.doc.Update(ctx, func(m map[string]model.APIKeyRecord) error {
		rec, ok := m[hash]
		if !ok {
			return ErrNotFound
		}
		removed = rec
		delete(m, hash)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// Update applies fn to the record for hash inside one serialized
// read-modify-write. fn's error aborts the write and is returned as is.
func (s *CredentialStore) Update(ctx context.Context, hash string, fn func(*model.APIKeyRecord) error) error {
	return s.doc.Update(ctx, func(m map[string]model.APIKeyRecord) error {
		rec, ok := m[hash]
		if !ok {
			return ErrNotFound
		}
		if err := fn(&rec); err != nil {
			return err
		}
		m[hash] = rec
		return nil
	})
}

// HashedRecord pairs a record with the hash it is stored under.
type HashedRecord struct {
	Hash   string
	Record model.APIKeyRecord
}

// List returns all records, oldest first.
func (s *CredentialStore) List(ctx context.Context) ([]HashedRecord, error) {
	m, err := s.doc.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]HashedRecord, 0, len(m))
	for hash, rec := range m {
		out = append(out, HashedRecord{Hash: hash, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Record.CreatedAt.Equal(out[j].Record.CreatedAt) {
			return out[i].Record.CreatedAt.Before(out[j].Record.CreatedAt)
		}
		return out[i].Hash < out[j].Hash
	})
	return out, nil
}

// Ping loads the document to confirm the backend is reachable.
func (s *CredentialStore) Ping(ctx context.Context) error {
	_, err := s.doc.Load(ctx)
	return err
}

// EndpointStore persists endpoint registrations.
type EndpointStore struct {
	doc *docstore.Document[model.EndpointRegistration]
	now func() time.Time
}

// NewEndpointStore wraps doc.
func NewEndpointStore(doc *docstore.Document[model.EndpointRegistration]) *EndpointStore {
	return &EndpointStore{doc: doc, now: time.Now}
}

// Get returns the registration for hash, which may hold a nil URL.
func (s *EndpointStore) Get(ctx context.Context, hash string) (*model.EndpointRegistration, error) {
	m, err := s.doc.Load(ctx)
	if err != nil {
		return nil, err
	}
	reg, ok := m[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return &reg, nil
}

// Lookup returns the registered URL for hash, or ErrNotFound when there is
// no registration or the registration holds no URL.
func (s *EndpointStore) Lookup(ctx context.Context, hash string) (string, error) {
	reg, err := s.Get(ctx, hash)
	if err != nil {
		return "", err
	}
	if reg.PublicURL == nil || *reg.PublicURL == "" {
		return "", ErrNotFound
	}
	return *reg.PublicURL, nil
}

// CreateEmpty writes a registration with no URL for hash.
func (s *EndpointStore) CreateEmpty(ctx context.Context, hash string) error {
	return s.doc.Update(ctx, func(m map[string]model.EndpointRegistration) error {
		m[hash] = model.EndpointRegistration{}
		return nil
	})
}

// Set records url for hash.
func (s *EndpointStore) Set(ctx context.Context, hash, url string) error {
	now := s.now().UTC()
	return s.doc.Update(ctx, func(m map[string]model.EndpointRegistration) error {
		m[hash] = model.EndpointRegistration{PublicURL: &url, UpdatedAt: &now}
		return nil
	})
}

// Delete removes the registration for hash. Deleting an absent registration
// is not an error.
func (s *EndpointStore) Delete(ctx context.Context, hash string) error {
	return s.doc.Update(ctx, func(m map[string]model.EndpointRegistration) error {
		if _, ok := m[hash]; !ok {
			return docstore.ErrUnchanged
		}
		delete(m, hash)
		return nil
	})
}

// Registered returns the set of hashes that hold a URL.
func (s *EndpointStore) Registered(ctx context.Context) (map[string]bool, error) {
	m, err := s.doc.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(m))
	for hash, reg := range m {
		if reg.PublicURL != nil && *reg.PublicURL != "" {
			out[hash] = true
		}
	}
	return out, nil
}

// Stores bundles both documents over one backend.
type Stores struct {
	Credentials *CredentialStore
	Endpoints   *EndpointStore
	backend     docstore.Backend
}

// Options name the documents and bound each store call.
type Options struct {
	CredentialsDocument string
	EndpointsDocument   string
	Timeout             time.Duration
}

// Open builds both stores on backend, sealing with sealer.
func Open(backend docstore.Backend, sealer docstore.Sealer, opts Options) (*Stores, error) {
	if opts.CredentialsDocument == "" {
		opts.CredentialsDocument = "api_keys"
	}
	if opts.EndpointsDocument == "" {
		opts.EndpointsDocument = "ngrok_urls"
	}
	creds, err := docstore.NewDocument[model.APIKeyRecord](opts.CredentialsDocument, backend, sealer, docstore.WithTimeout(opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("credential document: %w", err)
	}
	endpoints, err := docstore.NewDocument[model.EndpointRegistration](opts.EndpointsDocument, backend, sealer, docstore.WithTimeout(opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("endpoint document: %w", err)
	}
	return &Stores{
		Credentials: NewCredentialStore(creds),
		Endpoints:   NewEndpointStore(endpoints),
		backend:     backend,
	}, nil
}

// Close closes the shared backend.
func (s *Stores) Close() error {
	return s.backend.Close()
}
