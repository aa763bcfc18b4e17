// Package backend defines the narrow capability interface every hypervisor
// driver implements: boot, warm_up, stop. The core never references a
// concrete driver, so a mock implementation can stand in for tests.
package backend

import (
	"context"

	"github.com/vmfleet/fleetd/internal/domain"
)

// Driver abstracts a hypervisor backend (Firecracker, Cloud Hypervisor, or
// a test mock). Implementations are free to treat Boot and WarmUp as
// blocking, multi-second operations; callers own the timeout.
type Driver interface {
	// Boot starts the VM process for vmID, configures it to run spec, and
	// waits until the guest is healthy. tenant names the workload the VM is
	// booted for; the driver does not register the VM with the proxy.
	// Returns the guest IP and port on success.
	Boot(ctx context.Context, vmID string, tenant domain.Tenant, spec domain.Spec) (ip string, port int, err error)

	// WarmUp performs lifecycle-class-specific pre-warming inside an
	// already booted VM. The VM remains running but is not bound to any
	// tenant workload.
	WarmUp(ctx context.Context, vmID string, spec domain.Spec) error

	// Stop terminates the VM process and releases its host resources.
	// Stop must never fail observably: unreachable processes are logged
	// and reaped, not returned as errors.
	Stop(vmID string) error

	// Name identifies the driver for logging and /stats reporting.
	Name() string
}
