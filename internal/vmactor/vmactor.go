// Package vmactor implements the single-VM state machine: one actor per
// VM, with a serial inbox so every operation against that VM's state is
// strictly ordered. No mutable field of Actor is read or written outside
// the goroutine started by New.
package vmactor

import (
	"context"
	"fmt"
	"time"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/logging"
	"github.com/vmfleet/fleetd/internal/proxy"
)

// DefaultBootDeadline bounds how long Boot may run before the actor gives
// up and transitions the VM to Failed.
const DefaultBootDeadline = 60 * time.Second

type opKind int

const (
	opBoot opKind = iota
	opWarmUp
	opUpdateTenant
	opInfo
	opStop
)

type command struct {
	kind   opKind
	tenant domain.Tenant
	spec   domain.Spec
	reply  chan result
}

type result struct {
	info domain.VMInfo
	err  error
}

// Actor owns all mutable state for exactly one VM. Callers interact with it
// only through Boot/WarmUp/UpdateTenant/Info/Stop, which enqueue a command
// and block for its result; the run loop guarantees these never overlap.
type Actor struct {
	id          string
	fingerprint string
	driver      backend.Driver
	registrar   proxy.Registrar
	bootDeadline time.Duration

	inbox chan command
	done  chan struct{}

	status domain.VMStatus
	tenant domain.Tenant
	ip     string
	port   int
}

// New creates an actor for vmID and starts its run loop. The actor begins
// in VMInit and does nothing until Boot or WarmUp is called.
func New(vmID, fingerprint string, driver backend.Driver, registrar proxy.Registrar) *Actor {
	if registrar == nil {
		registrar = proxy.NoopRegistrar{}
	}
	a := &Actor{
		id:           vmID,
		fingerprint:  fingerprint,
		driver:       driver,
		registrar:    registrar,
		bootDeadline: DefaultBootDeadline,
		inbox:        make(chan command, 8),
		done:         make(chan struct{}),
		status:       domain.VMInit,
		tenant:       domain.WarmSentinel,
	}
	go a.run()
	return a
}

func (a *Actor) send(ctx context.Context, c command) (domain.VMInfo, error) {
	select {
	case <-a.done:
		return domain.VMInfo{}, fmt.Errorf("vm actor %s stopped", a.id)
	default:
	}
	select {
	case a.inbox <- c:
	case <-ctx.Done():
		return domain.VMInfo{}, ctx.Err()
	case <-a.done:
		return domain.VMInfo{}, fmt.Errorf("vm actor %s stopped", a.id)
	}
	select {
	case r := <-c.reply:
		return r.info, r.err
	case <-ctx.Done():
		return domain.VMInfo{}, ctx.Err()
	}
}

// Boot starts the VM under tenant; on success the VM is Running and, unless
// tenant is the warm sentinel, registered with the proxy under tenant.
func (a *Actor) Boot(ctx context.Context, tenant domain.Tenant, spec domain.Spec) (domain.VMInfo, error) {
	return a.send(ctx, command{kind: opBoot, tenant: tenant, spec: spec, reply: make(chan result, 1)})
}

// WarmUp boots (if not already booted) and primes the VM, leaving it in
// VMWarm with the sentinel tenant — never registered with the proxy.
func (a *Actor) WarmUp(ctx context.Context, spec domain.Spec) (domain.VMInfo, error) {
	return a.send(ctx, command{kind: opWarmUp, spec: spec, reply: make(chan result, 1)})
}

// UpdateTenant binds a warm or running VM to a real tenant and registers it
// with the proxy. For a VM booted under the warm sentinel, this is the only
// path that triggers proxy registration.
func (a *Actor) UpdateTenant(ctx context.Context, tenant domain.Tenant) (domain.VMInfo, error) {
	return a.send(ctx, command{kind: opUpdateTenant, tenant: tenant, reply: make(chan result, 1)})
}

// Info returns a snapshot of the VM's current state.
func (a *Actor) Info(ctx context.Context) (domain.VMInfo, error) {
	return a.send(ctx, command{kind: opInfo, reply: make(chan result, 1)})
}

// Stop tears the VM down and terminates the actor's run loop. The teardown
// runs once: a second Stop performs no teardown and returns an error
// reporting that the actor is stopped.
func (a *Actor) Stop(ctx context.Context) error {
	_, err := a.send(ctx, command{kind: opStop, reply: make(chan result, 1)})
	return err
}

func (a *Actor) run() {
	log := logging.Op().With("vm_id", a.id)
	for c := range a.inbox {
		switch c.kind {
		case opBoot:
			c.reply <- a.handleBoot(c.tenant, c.spec)
		case opWarmUp:
			c.reply <- a.handleWarmUp(c.spec)
		case opUpdateTenant:
			c.reply <- a.handleUpdateTenant(c.tenant)
		case opInfo:
			c.reply <- result{info: a.snapshot()}
		case opStop:
			c.reply <- a.handleStop()
			close(a.done)
			log.Info("vm actor stopped")
			return
		}
	}
}

func (a *Actor) handleBoot(tenant domain.Tenant, spec domain.Spec) result {
	if a.status != domain.VMInit {
		return result{info: a.snapshot(), err: fmt.Errorf("boot: vm %s already in state %s", a.id, a.status)}
	}
	a.status = domain.VMBooting
	a.tenant = tenant

	ctx, cancel := context.WithTimeout(context.Background(), a.bootDeadline)
	defer cancel()

	ip, port, err := a.driver.Boot(ctx, a.id, tenant, spec)
	if err != nil {
		a.status = domain.VMFailed
		return result{info: a.snapshot(), err: err}
	}
	a.ip, a.port = ip, port
	a.status = domain.VMRunning

	if !tenant.IsWarmSentinel() {
		if err := a.registrar.Register(context.Background(), a.id, tenant, ip, port); err != nil {
			logging.Op().Warn("proxy register failed", "vm_id", a.id, "err", err)
		}
	}
	return result{info: a.snapshot()}
}

func (a *Actor) handleWarmUp(spec domain.Spec) result {
	switch a.status {
	case domain.VMInit:
		boot := a.handleBoot(domain.WarmSentinel, spec)
		if boot.err != nil {
			return boot
		}
	case domain.VMRunning:
		// already booted under the sentinel tenant; proceed to prime.
	default:
		return result{info: a.snapshot(), err: fmt.Errorf("warm_up: vm %s in state %s cannot warm", a.id, a.status)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.driver.WarmUp(ctx, a.id, spec); err != nil {
		a.status = domain.VMFailed
		return result{info: a.snapshot(), err: err}
	}
	a.status = domain.VMWarm
	return result{info: a.snapshot()}
}

func (a *Actor) handleUpdateTenant(tenant domain.Tenant) result {
	if a.status != domain.VMWarm && a.status != domain.VMRunning {
		return result{info: a.snapshot(), err: fmt.Errorf("update_tenant: vm %s in state %s is not attachable", a.id, a.status)}
	}
	a.tenant = tenant
	a.status = domain.VMRunning

	if !tenant.IsWarmSentinel() {
		if err := a.registrar.Register(context.Background(), a.id, tenant, a.ip, a.port); err != nil {
			logging.Op().Warn("proxy register failed", "vm_id", a.id, "err", err)
		}
	}
	return result{info: a.snapshot()}
}

// handleStop runs the idempotent, panic-free cleanup sequence: deregister
// from the proxy (if registered), stop the driver process, mark Stopped.
func (a *Actor) handleStop() result {
	if a.status == domain.VMStopped {
		return result{info: a.snapshot()}
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("vm actor cleanup panic recovered", "vm_id", a.id, "panic", r)
		}
	}()

	if a.status == domain.VMRunning && !a.tenant.IsWarmSentinel() {
		if err := a.registrar.Deregister(context.Background(), a.id); err != nil {
			logging.Op().Warn("proxy deregister failed", "vm_id", a.id, "err", err)
		}
	}

	if err := a.driver.Stop(a.id); err != nil {
		logging.Op().Warn("driver stop failed", "vm_id", a.id, "err", err)
	}

	a.status = domain.VMStopped
	return result{info: a.snapshot()}
}

func (a *Actor) snapshot() domain.VMInfo {
	return domain.VMInfo{
		VMId:        a.id,
		Fingerprint: a.fingerprint,
		Tenant:      a.tenant,
		Status:      a.status,
		IP:          a.ip,
		Port:        a.port,
	}
}
