package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"filippo.io/age"

	"github.com/codequerydev/codequery/internal/docstore"
	"github.com/codequerydev/codequery/internal/model"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	backend, err := docstore.OpenSQLBackend("sqlite::memory:")
	if err != nil {
		t.Fatalf("OpenSQLBackend: %v", err)
	}
	s, err := Open(backend, docstore.NewAgeSealer(id), Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHashAPIKey(t *testing.T) {
	h := HashAPIKey("cq_test")
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
	if h != HashAPIKey("cq_test") {
		t.Error("hash must be deterministic")
	}
	if h == HashAPIKey("cq_other") {
		t.Error("different keys must hash differently")
	}
}

func TestCredentialCRUD(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	hash := HashAPIKey("cq_one")

	if _, err := s.Credentials.Get(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get before Put: %v, want ErrNotFound", err)
	}

	rec := model.APIKeyRecord{
		KeyPrefix: "cq_one",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RateLimit: model.RateLimit{RequestsPerMinute: 10},
	}
	if err := s.Credentials.Put(ctx, hash, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	err := s.Credentials.Update(ctx, hash, func(r *model.APIKeyRecord) error {
		r.TotalRequests++
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := s.Credentials.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", got.TotalRequests)
	}

	removed, err := s.Credentials.Delete(ctx, hash)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if removed.KeyPrefix != "cq_one" {
		t.Errorf("removed prefix = %q", removed.KeyPrefix)
	}
	if _, err := s.Credentials.Delete(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: %v, want ErrNotFound", err)
	}
}

func TestCredentialUpdateAbortKeepsRecord(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	hash := HashAPIKey("cq_two")
	if err := s.Credentials.Put(ctx, hash, model.APIKeyRecord{TotalRequests: 3}); err != nil {
		t.Fatal(err)
	}

	abort := errors.New("abort")
	err := s.Credentials.Update(ctx, hash, func(r *model.APIKeyRecord) error {
		r.TotalRequests = 100
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("Update = %v, want abort", err)
	}
	got, _ := s.Credentials.Get(ctx, hash)
	if got.TotalRequests != 3 {
		t.Errorf("total requests = %d, aborted update must not be written", got.TotalRequests)
	}

	if err := s.Credentials.Update(ctx, HashAPIKey("missing"), func(*model.APIKeyRecord) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestCredentialList(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []string{"cq_b", "cq_a", "cq_c"} {
		rec := model.APIKeyRecord{KeyPrefix: key, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Credentials.Put(ctx, HashAPIKey(key), rec); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.Credentials.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].Record.KeyPrefix != "cq_b" || list[2].Record.KeyPrefix != "cq_c" {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestEndpointLifecycle(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	hash := HashAPIKey("cq_three")

	if _, err := s.Endpoints.Lookup(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup unregistered: %v", err)
	}
	if err := s.Endpoints.CreateEmpty(ctx, hash); err != nil {
		t.Fatalf("CreateEmpty: %v", err)
	}
	reg, err := s.Endpoints.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reg.PublicURL != nil {
		t.Errorf("empty registration has url %q", *reg.PublicURL)
	}
	if _, err := s.Endpoints.Lookup(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup null url: %v, want ErrNotFound", err)
	}

	if err := s.Endpoints.Set(ctx, hash, "https://x.ngrok.app"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	url, err := s.Endpoints.Lookup(ctx, hash)
	if err != nil || url != "https://x.ngrok.app" {
		t.Errorf("Lookup = %q, %v", url, err)
	}
	registered, err := s.Endpoints.Registered(ctx)
	if err != nil || !registered[hash] {
		t.Errorf("Registered = %v, %v", registered, err)
	}

	if err := s.Endpoints.Delete(ctx, hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Endpoints.Delete(ctx, hash); err != nil {
		t.Errorf("Delete absent: %v", err)
	}
	if _, err := s.Endpoints.Get(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}
