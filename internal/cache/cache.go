// Package cache resolves API key hashes to registered endpoints, keeping the
// last known endpoint per key in process memory until it is invalidated.
// Entries never expire on their own.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/store"
)

// ErrNotFound is returned when a key has no registered endpoint.
var ErrNotFound = errors.New("no registered endpoint")

// Source looks up the stored endpoint for a key hash. It returns
// store.ErrNotFound when there is none.
type Source interface {
	Lookup(ctx context.Context, hash string) (string, error)
}

// entry is immutable once published. It is only valid while its generation
// matches the slot's current generation.
type entry struct {
	url string
	gen uint64
}

type slot struct {
	gen atomic.Uint64
	cur atomic.Pointer[entry]
}

// Resolver is safe for concurrent use. Lookups of cached entries take no
// lock.
type Resolver struct {
	source  Source
	metrics *metrics.Metrics

	slots sync.Map // hash -> *slot
	epoch atomic.Uint64
	group singleflight.Group
}

// New creates a Resolver over source. m may be nil.
func New(source Source, m *metrics.Metrics) *Resolver {
	return &Resolver{source: source, metrics: m}
}

func (r *Resolver) slot(hash string) *slot {
	if s, ok := r.slots.Load(hash); ok {
		return s.(*slot)
	}
	s := &slot{}
	s.gen.Store(r.epoch.Add(1))
	actual, _ := r.slots.LoadOrStore(hash, s)
	return actual.(*slot)
}

// Resolve returns the endpoint for hash. Concurrent misses for the same key
// share one store lookup.
func (r *Resolver) Resolve(ctx context.Context, hash string) (string, error) {
	s := r.slot(hash)
	if e := s.cur.Load(); e != nil && e.gen == s.gen.Load() {
		r.metrics.CacheHit()
		return e.url, nil
	}
	r.metrics.CacheMiss()

	gen := s.gen.Load()
	v, err, _ := r.group.Do(hash+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		url, err := r.source.Lookup(context.WithoutCancel(ctx), hash)
		if err != nil {
			return "", err
		}
		if s.gen.Load() == gen {
			s.cur.Store(&entry{url: url, gen: gen})
		}
		return url, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve endpoint: %w", err)
	}
	return v.(string), nil
}

// Invalidate drops any cached endpoint for hash. Once it returns, no lookup
// started earlier can populate or serve the old value.
func (r *Resolver) Invalidate(hash string) {
	v, ok := r.slots.Load(hash)
	if !ok {
		return
	}
	s := v.(*slot)
	s.gen.Store(r.epoch.Add(1))
	s.cur.Store(nil)
	r.slots.CompareAndDelete(hash, s)
}

// Len returns the number of keys holding a valid cached endpoint.
func (r *Resolver) Len() int {
	n := 0
	r.slots.Range(func(_, v any) bool {
		s := v.(*slot)
		if e := s.cur.Load(); e != nil && e.gen == s.gen.Load() {
			n++
		}
		return true
	})
	return n
}
