package desiredstate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desired.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSpec() domain.Spec {
	return domain.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Resources:  domain.Resources{VCPU: 1, MemMB: 128},
		Lifecycle:  domain.LifecycleService,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "job-1", "tenant-a", testSpec()); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Tenant != "tenant-a" || entry.Spec.Resources.VCPU != 1 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestGetUnknownJobReturnsSentinel(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, backend.ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestPutIsIdempotentUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	spec := testSpec()

	if err := s.Put(ctx, "job-1", "tenant-a", spec); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	spec.Resources.VCPU = 2
	if err := s.Put(ctx, "job-1", "tenant-b", spec); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one entry after re-put, got %d", len(entries))
	}
	if entries[0].Tenant != "tenant-b" || entries[0].Spec.Resources.VCPU != 2 {
		t.Fatalf("expected updated entry, got %+v", entries[0])
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete of unknown job should not error: %v", err)
	}
	if err := s.Put(ctx, "job-1", "tenant-a", testSpec()); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := s.Get(ctx, "job-1"); !errors.Is(err, backend.ErrUnknownJob) {
		t.Fatalf("expected job to be gone, got %v", err)
	}
}

func TestDeleteAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if err := s.Put(ctx, domain.JobId(id), "tenant-a", testSpec()); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if err := s.DeleteAll(ctx); err != nil {
		t.Fatalf("delete_all: %v", err)
	}
	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty store after delete_all, got %d entries", len(entries))
	}
}

func TestBootstrapUpsertsOverLiveState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "job-1", "live-tenant", testSpec()); err != nil {
		t.Fatalf("put: %v", err)
	}

	dir := t.TempDir()
	bootstrapPath := filepath.Join(dir, "desired.yaml")
	contents := `
jobs:
  - job_id: job-1
    tenant: file-tenant
    spec:
      kernel_path: /k
      rootfs_path: /r
      resources:
        vcpu: 1
        mem_mb: 128
      lifecycle: service
`
	writeFile(t, bootstrapPath, contents)

	if err := s.Bootstrap(ctx, bootstrapPath); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	entry, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Tenant != "file-tenant" {
		t.Fatalf("expected bootstrap file to upsert over existing entry, got tenant %s", entry.Tenant)
	}
}

func TestBootstrapMissingFileIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	if err := s.Bootstrap(context.Background(), filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing bootstrap file should be a no-op: %v", err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
