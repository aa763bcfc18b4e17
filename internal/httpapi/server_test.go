package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/vmfleet/fleetd/internal/cache"
	"github.com/vmfleet/fleetd/internal/desiredstate"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/mockdriver"
	"github.com/vmfleet/fleetd/internal/poolmgr"
	"github.com/vmfleet/fleetd/internal/proxy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := desiredstate.Open(filepath.Join(t.TempDir(), "desired.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	pool := poolmgr.New(mockdriver.New(), proxy.NoopRegistrar{})
	return NewServer(store, pool)
}

func specBody(t *testing.T, jobID, tenant string) []byte {
	t.Helper()
	spec := domain.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Resources:  domain.Resources{VCPU: 1, MemMB: 128},
		Lifecycle:  domain.LifecycleService,
	}
	body, err := json.Marshal(createRequest{JobId: jobID, Tenant: tenant, Spec: spec})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestCreateVMWithoutWarmPoolReturnsAccepted(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/vms", bytes.NewReader(specBody(t, "job-1", "tenant-a")))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateVMRejectsInvalidSpec(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(createRequest{JobId: "job-1", Spec: domain.Spec{}})
	req := httptest.NewRequest(http.MethodPost, "/vms", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetUnknownJobReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/vms/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/vms/never-existed", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestStatsReflectsPoolState(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats poolmgr.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Summary.Attached != 0 || stats.Summary.Warm != 0 {
		t.Fatalf("expected empty pool, got %+v", stats.Summary)
	}
	if len(stats.Jobs) != 0 || len(stats.WarmPool) != 0 {
		t.Fatalf("expected no jobs or warm VMs, got %+v", stats)
	}
}

func TestCreateVMWithWarmVMAvailableReturnsCreated(t *testing.T) {
	store, err := desiredstate.Open(filepath.Join(t.TempDir(), "desired.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	pool := poolmgr.New(mockdriver.New(), proxy.NoopRegistrar{})
	srv := NewServer(store, pool)

	spec := domain.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Resources:  domain.Resources{VCPU: 1, MemMB: 128},
		Lifecycle:  domain.LifecycleService,
	}
	if err := pool.EnsureWarmOne(context.Background(), spec); err != nil {
		t.Fatalf("ensure_warm_one: %v", err)
	}

	body, err := json.Marshal(createRequest{JobId: "job-1", Tenant: "tenant-a", Spec: spec})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/vms", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var info domain.VMInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode vm_info: %v", err)
	}
	if info.VMId == "" {
		t.Fatalf("expected a populated vm_info, got %+v", info)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/vms/job-1", nil)
	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on lookup, got %d", getRec.Code)
	}
}

func TestStatsAttemptsCacheReadAndWriteOnEveryRequest(t *testing.T) {
	store, err := desiredstate.Open(filepath.Join(t.TempDir(), "desired.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	pool := poolmgr.New(mockdriver.New(), proxy.NoopRegistrar{})
	rc := &recordingCache{Cache: cache.NoopCache{}}
	srv := NewServerWithCache(store, pool, rc)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rc.gets != 2 || rc.sets != 2 {
		t.Fatalf("expected 2 cache reads and 2 cache writes, got %d and %d", rc.gets, rc.sets)
	}
}

// recordingCache wraps a cache.Cache and records Get/Set call counts,
// without changing behavior (NoopCache always misses, so this only
// verifies handleStats attempts a cache read and write on every request).
type recordingCache struct {
	cache.Cache
	gets int
	sets int
}

func (c *recordingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.Cache.Get(ctx, key)
}

func (c *recordingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.sets++
	return c.Cache.Set(ctx, key, value, ttl)
}
