// Package domain holds the value types shared across the control plane:
// the immutable launch Spec, job/tenant identifiers, and the VM record
// snapshots exposed by the Pool Manager.
package domain

import "fmt"

// Lifecycle classifies a workload and governs warm-up intensity.
type Lifecycle string

const (
	LifecycleService Lifecycle = "service"
	LifecycleDaemon  Lifecycle = "daemon"
	LifecycleJob     Lifecycle = "job"
)

func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleService, LifecycleDaemon, LifecycleJob:
		return true
	}
	return false
}

// Resources describes the vCPU/memory shape of a microVM.
type Resources struct {
	VCPU  int `json:"vcpu" yaml:"vcpu"`
	MemMB int `json:"mem_mb" yaml:"mem_mb"`
}

func (r Resources) Validate() error {
	if r.VCPU <= 0 {
		return fmt.Errorf("resources.vcpu must be positive, got %d", r.VCPU)
	}
	if r.MemMB <= 0 {
		return fmt.Errorf("resources.mem_mb must be positive, got %d", r.MemMB)
	}
	return nil
}

// WarmPool declares how many pre-booted VMs to keep ready for a spec.
type WarmPool struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// Spec is the immutable bundle describing how to launch one microVM.
// Specs are value objects: callers must never mutate one after creation;
// construct a new Spec instead.
type Spec struct {
	KernelPath string            `json:"kernel_path" yaml:"kernel_path"`
	RootfsPath string            `json:"rootfs_path" yaml:"rootfs_path"`
	Cmd        []string          `json:"cmd" yaml:"cmd"`
	Env        map[string]string `json:"env" yaml:"env"`
	Resources  Resources         `json:"resources" yaml:"resources"`
	Lifecycle  Lifecycle         `json:"lifecycle" yaml:"lifecycle"`
	WarmPool   *WarmPool         `json:"warm_pool,omitempty" yaml:"warm_pool,omitempty"`
}

// Validate checks the structural invariants a Spec must satisfy before
// it is accepted into the desired state store.
func (s Spec) Validate() error {
	if s.KernelPath == "" {
		return fmt.Errorf("kernel_path must not be empty")
	}
	if s.RootfsPath == "" {
		return fmt.Errorf("rootfs_path must not be empty")
	}
	if !s.Lifecycle.Valid() {
		return fmt.Errorf("lifecycle %q is not one of service/daemon/job", s.Lifecycle)
	}
	if err := s.Resources.Validate(); err != nil {
		return err
	}
	if s.WarmPool != nil {
		if s.WarmPool.Min < 0 {
			return fmt.Errorf("warm_pool.min must be non-negative, got %d", s.WarmPool.Min)
		}
		if s.WarmPool.Max <= 0 {
			return fmt.Errorf("warm_pool.max must be positive, got %d", s.WarmPool.Max)
		}
	}
	return nil
}

// WantsWarm reports whether the spec declares a non-zero warm pool.
func (s Spec) WantsWarm() bool {
	return s.WarmPool != nil && s.WarmPool.Min > 0
}

// JobId and Tenant are both non-empty strings; JobId is unique across the
// desired set, Tenant defaults to JobId when omitted.
type JobId string
type Tenant string

// WarmSentinel is the tenant value assigned to a VM that has been booted
// and primed but not yet bound to any job. A VM carrying this tenant is
// never registered with the proxy.
const WarmSentinel Tenant = "__warm__"

func (t Tenant) IsWarmSentinel() bool {
	return t == WarmSentinel
}

// DesiredEntry is one row of the desired state store: a job's tenant and
// launch spec.
type DesiredEntry struct {
	JobId  JobId
	Tenant Tenant
	Spec   Spec
}

// VMStatus is the state machine owned by a VM Actor: Init -> Booting ->
// (Running | Warm | Failed) -> Stopped.
type VMStatus string

const (
	VMInit     VMStatus = "init"
	VMBooting  VMStatus = "booting"
	VMRunning  VMStatus = "running"
	VMWarm     VMStatus = "warm"
	VMFailed   VMStatus = "failed"
	VMStopped  VMStatus = "stopped"
)

// VMInfo is the read-only snapshot a VM Actor hands back to observers:
// identity, current status, and the handles an observer may need.
type VMInfo struct {
	VMId        string   `json:"vm_id"`
	Fingerprint string   `json:"fingerprint"`
	Tenant      Tenant   `json:"tenant"`
	Status      VMStatus `json:"status"`
	IP          string   `json:"ip,omitempty"`
	Port        int      `json:"port,omitempty"`
}
