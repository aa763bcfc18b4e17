// Package mockdriver is an in-memory backend.Driver used by tests and by
// local development when no real hypervisor is available. It never spawns
// a process; boot and warm_up are instantaneous.
package mockdriver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vmfleet/fleetd/internal/domain"
)

type vmRecord struct {
	tenant domain.Tenant
	spec   domain.Spec
	ip     string
	port   int
}

// Driver is a backend.Driver backed entirely by an in-process map.
type Driver struct {
	mu      sync.Mutex
	vms     map[string]*vmRecord
	nextIP  atomic.Uint32
	bootsN  atomic.Int64
	warmsN  atomic.Int64
	stopsN  atomic.Int64

	// FailBoot, when non-empty, causes Boot to fail for any vmID containing
	// this substring — used by tests exercising the Failed transition.
	FailBoot string
}

// New returns a ready-to-use mock driver.
func New() *Driver {
	d := &Driver{vms: make(map[string]*vmRecord)}
	d.nextIP.Store(2)
	return d
}

func (d *Driver) Name() string { return "mock" }

func (d *Driver) Boot(_ context.Context, vmID string, tenant domain.Tenant, spec domain.Spec) (string, int, error) {
	if d.FailBoot != "" && contains(vmID, d.FailBoot) {
		return "", 0, fmt.Errorf("mock boot failure injected for %s", vmID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	octet := d.nextIP.Add(1)
	ip := fmt.Sprintf("127.0.%d.%d", octet/256, octet%256)
	port := 9000 + int(octet)

	d.vms[vmID] = &vmRecord{tenant: tenant, spec: spec, ip: ip, port: port}
	d.bootsN.Add(1)
	return ip, port, nil
}

func (d *Driver) WarmUp(_ context.Context, vmID string, _ domain.Spec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.vms[vmID]; !ok {
		return fmt.Errorf("warm_up: unknown vm %s", vmID)
	}
	d.warmsN.Add(1)
	return nil
}

func (d *Driver) Stop(vmID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.vms, vmID)
	d.stopsN.Add(1)
	return nil
}

// BootCount, WarmCount, and StopCount support VM-creation-counter
// assertions in tests.
func (d *Driver) BootCount() int64 { return d.bootsN.Load() }
func (d *Driver) WarmCount() int64 { return d.warmsN.Load() }
func (d *Driver) StopCount() int64 { return d.stopsN.Load() }

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
