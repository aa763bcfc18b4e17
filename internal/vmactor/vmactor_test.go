package vmactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/mockdriver"
)

type recordingRegistrar struct {
	mu        sync.Mutex
	registers []domain.Tenant
	deregCount int
}

func (r *recordingRegistrar) Register(_ context.Context, _ string, tenant domain.Tenant, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registers = append(r.registers, tenant)
	return nil
}

func (r *recordingRegistrar) Deregister(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregCount++
	return nil
}

func testSpec() domain.Spec {
	return domain.Spec{
		KernelPath: "/k",
		RootfsPath: "/r",
		Resources:  domain.Resources{VCPU: 1, MemMB: 128},
		Lifecycle:  domain.LifecycleService,
	}
}

func TestActorBootTransitionsToRunningAndRegisters(t *testing.T) {
	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New("vm-1", "FP1", driver, reg)

	info, err := a.Boot(context.Background(), "tenant-a", testSpec())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if info.Status != domain.VMRunning {
		t.Fatalf("expected VMRunning, got %s", info.Status)
	}
	if len(reg.registers) != 1 || reg.registers[0] != "tenant-a" {
		t.Fatalf("expected one registration for tenant-a, got %v", reg.registers)
	}
}

func TestActorWarmUpNeverRegisters(t *testing.T) {
	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New("vm-2", "FP1", driver, reg)

	info, err := a.WarmUp(context.Background(), testSpec())
	if err != nil {
		t.Fatalf("warm_up: %v", err)
	}
	if info.Status != domain.VMWarm {
		t.Fatalf("expected VMWarm, got %s", info.Status)
	}
	if !info.Tenant.IsWarmSentinel() {
		t.Fatalf("expected sentinel tenant while warm, got %s", info.Tenant)
	}
	if len(reg.registers) != 0 {
		t.Fatalf("expected no proxy registration for a warm vm, got %v", reg.registers)
	}
}

func TestActorUpdateTenantRegistersAfterWarm(t *testing.T) {
	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New("vm-3", "FP1", driver, reg)

	if _, err := a.WarmUp(context.Background(), testSpec()); err != nil {
		t.Fatalf("warm_up: %v", err)
	}
	info, err := a.UpdateTenant(context.Background(), "tenant-b")
	if err != nil {
		t.Fatalf("update_tenant: %v", err)
	}
	if info.Status != domain.VMRunning {
		t.Fatalf("expected VMRunning after attach, got %s", info.Status)
	}
	if len(reg.registers) != 1 || reg.registers[0] != "tenant-b" {
		t.Fatalf("expected registration for tenant-b, got %v", reg.registers)
	}
}

func TestActorBootFailureTransitionsToFailed(t *testing.T) {
	driver := mockdriver.New()
	driver.FailBoot = "vm-4"
	a := New("vm-4", "FP1", driver, nil)

	info, err := a.Boot(context.Background(), "tenant-a", testSpec())
	if err == nil {
		t.Fatal("expected boot error")
	}
	if info.Status != domain.VMFailed {
		t.Fatalf("expected VMFailed, got %s", info.Status)
	}
}

func TestActorStopIsIdempotent(t *testing.T) {
	driver := mockdriver.New()
	reg := &recordingRegistrar{}
	a := New("vm-5", "FP1", driver, reg)

	if _, err := a.Boot(context.Background(), "tenant-a", testSpec()); err != nil {
		t.Fatalf("boot: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err == nil {
		t.Fatal("expected an error from Stop on an already-stopped actor")
	}
	if reg.deregCount != 1 {
		t.Fatalf("expected exactly one deregistration, got %d", reg.deregCount)
	}
}
