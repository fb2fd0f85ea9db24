// Package docstore persists whole JSON documents, sealed with age, on a
// pluggable backend. Each document is read and written in full: there are no
// per-record operations.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrNotExist is returned by Backend.Read when the document has never been
// written.
var ErrNotExist = errors.New("document does not exist")

// ErrUnknownScheme is returned when a store location names no registered
// backend.
var ErrUnknownScheme = errors.New("unknown store scheme")

// Backend stores opaque document bodies by name.
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, body []byte) error
	Close() error
}

// Factory opens a backend for a full location string such as
// "sqlite:///var/lib/codequery/store.db".
type Factory func(location string) (Backend, error)

// Registry maps location schemes to backend factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for scheme, replacing any previous one.
func (r *Registry) Register(scheme string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = factory
}

// Open selects a factory by the scheme of location. A location without a
// scheme is treated as a directory for the file backend.
func (r *Registry) Open(location string) (Backend, error) {
	scheme := "file"
	if s, _, ok := strings.Cut(location, ":"); ok && validScheme.MatchString(s) {
		scheme = strings.ToLower(s)
	}

	r.mu.RLock()
	factory, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownScheme, scheme, r.Schemes())
	}
	b, err := factory(location)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", scheme, err)
	}
	return b, nil
}

// Schemes lists the registered schemes in sorted order.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.factories))
	for s := range r.factories {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Windows drive letters ("C:\...") are not schemes.
var validScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]+$`)

var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register("memory", func(string) (Backend, error) { return NewMemoryBackend(), nil })
	r.Register("file", OpenFileBackend)
	r.Register("sqlite", OpenSQLBackend)
	r.Register("postgres", OpenSQLBackend)
	r.Register("postgresql", OpenSQLBackend)
	r.Register("mysql", OpenSQLBackend)
	r.Register("sqlserver", OpenSQLBackend)
	return r
}()

// OpenBackend opens location with the default registry.
func OpenBackend(location string) (Backend, error) {
	return defaultRegistry.Open(location)
}

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid document name %q", name)
	}
	return nil
}

// MemoryBackend keeps documents in process memory. Used by the "memory:"
// location and in tests.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.docs[name]
	if !ok {
		return nil, ErrNotExist
	}
	return append([]byte(nil), body...), nil
}

func (m *MemoryBackend) Write(ctx context.Context, name string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
