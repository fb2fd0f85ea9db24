package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds every document operation unless overridden.
const DefaultTimeout = 10 * time.Second

// ErrUnchanged may be returned by an Update callback to skip the write.
var ErrUnchanged = errors.New("document unchanged")

// Document is one named JSON object of V values. Read-modify-write cycles
// through Update are serialized within the process, so only one Document
// should exist per name. Writers in other processes sharing the backend are
// not coordinated: the last full write wins.
type Document[V any] struct {
	name    string
	backend Backend
	sealer  Sealer
	timeout time.Duration
	lock    chan struct{}
}

// Option configures a Document.
type Option func(*options)

type options struct {
	timeout time.Duration
}

// WithTimeout sets the bound for each Load, Store or Update call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewDocument creates a Document. A sealer is required.
func NewDocument[V any](name string, backend Backend, sealer Sealer, opts ...Option) (*Document[V], error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("document needs a backend")
	}
	if sealer == nil {
		return nil, errors.New("document needs a sealer")
	}
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Document[V]{
		name:    name,
		backend: backend,
		sealer:  sealer,
		timeout: o.timeout,
		lock:    make(chan struct{}, 1),
	}, nil
}

// Name returns the document name.
func (d *Document[V]) Name() string { return d.name }

// bound detaches ctx from its caller's cancellation and applies the
// document timeout. Once issued, a store call runs until it completes or
// times out.
func (d *Document[V]) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
}

// Load returns the whole document. A document that was never written loads
// as an empty map.
func (d *Document[V]) Load(ctx context.Context) (map[string]V, error) {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	return d.load(ctx)
}

// Store replaces the whole document with m.
func (d *Document[V]) Store(ctx context.Context, m map[string]V) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()
	return d.store(ctx, m)
}

// Update loads the document, passes it to fn, and writes the result back.
// If fn returns an error nothing is written; ErrUnchanged is not reported
// to the caller.
func (d *Document[V]) Update(ctx context.Context, fn func(map[string]V) error) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	m, err := d.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	return d.store(ctx, m)
}

func (d *Document[V]) acquire(ctx context.Context) error {
	select {
	case d.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lock document %s: %w", d.name, ctx.Err())
	}
}

func (d *Document[V]) release() { <-d.lock }

func (d *Document[V]) load(ctx context.Context) (map[string]V, error) {
	sealed, err := d.backend.Read(ctx, d.name)
	if errors.Is(err, ErrNotExist) {
		return make(map[string]V), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", d.name, err)
	}
	plain, err := d.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", d.name, err)
	}
	m := make(map[string]V)
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.name, err)
	}
	if m == nil {
		m = make(map[string]V)
	}
	return m, nil
}

func (d *Document[V]) store(ctx context.Context, m map[string]V) error {
	if m == nil {
		m = make(map[string]V)
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.name, err)
	}
	sealed, err := d.sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("seal %s: %w", d.name, err)
	}
	if err := d.backend.Write(ctx, d.name, sealed); err != nil {
		return fmt.Errorf("store %s: %w", d.name, err)
	}
	return nil
}
