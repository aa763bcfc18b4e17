// Package proxy defines the narrow registration hook the VM Actor calls
// when a VM transitions to serving a real tenant, and again when it stops.
// Load-balancer/ingress wiring itself is out of scope here; this package
// only specifies and logs the contract so a real implementation can be
// dropped in later.
package proxy

import (
	"context"

	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/logging"
)

// Registrar is notified whenever a VM becomes eligible (or ineligible) to
// receive tenant traffic. Implementations must be safe for concurrent use
// and must not block the VM Actor for longer than a few milliseconds.
type Registrar interface {
	Register(ctx context.Context, vmID string, tenant domain.Tenant, ip string, port int) error
	Deregister(ctx context.Context, vmID string) error
}

// NoopRegistrar logs registration events without talking to any external
// load balancer. It is the default until a real ingress hook is wired in.
type NoopRegistrar struct{}

func (NoopRegistrar) Register(_ context.Context, vmID string, tenant domain.Tenant, ip string, port int) error {
	logging.Op().Info("proxy register", "vm_id", vmID, "tenant", string(tenant), "ip", ip, "port", port)
	return nil
}

func (NoopRegistrar) Deregister(_ context.Context, vmID string) error {
	logging.Op().Info("proxy deregister", "vm_id", vmID)
	return nil
}
