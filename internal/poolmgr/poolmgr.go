// Package poolmgr owns the jobs/warm/vms maps that track which VM serves
// which job and which VMs sit idle in the warm pool.
// Every external call (booting, warming, stopping a VM) happens with the
// manager's lock released; only the map mutations themselves are
// serialized, and golang.org/x/sync/singleflight collapses concurrent
// callers racing for the same job or fingerprint onto a single attempt.
package poolmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/fingerprint"
	"github.com/vmfleet/fleetd/internal/logging"
	"github.com/vmfleet/fleetd/internal/proxy"
	"github.com/vmfleet/fleetd/internal/vmactor"
)

type jobEntry struct {
	vmID        string
	fingerprint string
	tenant      domain.Tenant
}

type warmEntry struct {
	vmID string
	spec domain.Spec
}

// Manager implements attach, detach, ensure_warm_one, lookup, stats,
// has_warm?, and the other read-only snapshot accessors over the
// jobs/warm/vms invariants.
type Manager struct {
	driver    backend.Driver
	registrar proxy.Registrar

	mu     sync.Mutex
	jobs   map[domain.JobId]jobEntry
	warm   map[string]warmEntry // keyed by fingerprint
	actors map[string]*vmactor.Actor

	group singleflight.Group
}

func New(driver backend.Driver, registrar proxy.Registrar) *Manager {
	return &Manager{
		driver:    driver,
		registrar: registrar,
		jobs:      make(map[domain.JobId]jobEntry),
		warm:      make(map[string]warmEntry),
		actors:    make(map[string]*vmactor.Actor),
	}
}

// Attach binds jobID to a VM, promoting a warm VM if one matches spec's
// fingerprint. Idempotent: re-attaching an already-attached job returns its
// existing VM without side effects. If no warm VM is available, Attach
// returns backend.ErrNoWarmVMAvailable — per the resolved open question,
// Attach never cold-boots on the spot; only the reconciler's
// ensure_warm_for_all_specs keeps the warm pool stocked.
func (m *Manager) Attach(ctx context.Context, jobID domain.JobId, tenant domain.Tenant, spec domain.Spec) (domain.VMInfo, error) {
	if info, ok := m.existingJobInfo(ctx, jobID); ok {
		return info, nil
	}

	fp := fingerprint.Of(spec)
	v, err, _ := m.group.Do("attach:"+string(jobID), func() (interface{}, error) {
		if info, ok := m.existingJobInfo(ctx, jobID); ok {
			return info, nil
		}

		m.mu.Lock()
		entry, hasWarm := m.warm[fp]
		if hasWarm {
			delete(m.warm, fp)
		}
		actor := m.actors[entry.vmID]
		m.mu.Unlock()

		if !hasWarm {
			return domain.VMInfo{}, backend.ErrNoWarmVMAvailable
		}

		info, err := actor.UpdateTenant(ctx, tenant)
		if err != nil {
			// the warm VM failed to attach; it is lost, not re-queued.
			m.mu.Lock()
			delete(m.actors, entry.vmID)
			m.mu.Unlock()
			return domain.VMInfo{}, fmt.Errorf("attach %s: %w", jobID, err)
		}

		m.mu.Lock()
		m.jobs[jobID] = jobEntry{vmID: entry.vmID, fingerprint: fp, tenant: tenant}
		m.mu.Unlock()

		go m.ensureWarmOneAsync(fp, spec)

		return info, nil
	})
	if err != nil {
		return domain.VMInfo{}, err
	}
	return v.(domain.VMInfo), nil
}

func (m *Manager) existingJobInfo(ctx context.Context, jobID domain.JobId) (domain.VMInfo, bool) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return domain.VMInfo{}, false
	}
	actor := m.actors[entry.vmID]
	m.mu.Unlock()

	if actor == nil {
		return domain.VMInfo{}, false
	}
	info, err := actor.Info(ctx)
	if err != nil {
		return domain.VMInfo{}, false
	}
	return info, true
}

// Detach stops jobID's VM and removes it from the jobs map. Idempotent.
// Per the resolved open question, detach never re-warms: the VM's spec is
// not retained once the job entry is gone.
func (m *Manager) Detach(ctx context.Context, jobID domain.JobId) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	actor := m.actors[entry.vmID]
	delete(m.jobs, jobID)
	delete(m.actors, entry.vmID)
	m.mu.Unlock()

	if actor == nil {
		return nil
	}
	if err := actor.Stop(ctx); err != nil {
		logging.Op().Warn("detach stop failed", "job_id", string(jobID), "vm_id", entry.vmID, "err", err)
	}
	return nil
}

// EnsureWarmOne guarantees at most one warm VM exists for fingerprint. If
// one is already warm this is a no-op; otherwise it boots and primes a new
// VM and adds it to the warm pool.
func (m *Manager) EnsureWarmOne(ctx context.Context, spec domain.Spec) error {
	fp := fingerprint.Of(spec)
	_, err, _ := m.group.Do("warm:"+fp, func() (interface{}, error) {
		m.mu.Lock()
		_, exists := m.warm[fp]
		m.mu.Unlock()
		if exists {
			return nil, nil
		}

		vmID := uuid.NewString()
		actor := vmactor.New(vmID, fp, m.driver, m.registrar)
		if _, err := actor.WarmUp(ctx, spec); err != nil {
			_ = actor.Stop(context.Background())
			return nil, fmt.Errorf("ensure_warm_one %s: %w", fp, err)
		}

		m.mu.Lock()
		m.actors[vmID] = actor
		m.warm[fp] = warmEntry{vmID: vmID, spec: spec}
		m.mu.Unlock()
		return nil, nil
	})
	return err
}

func (m *Manager) ensureWarmOneAsync(fp string, spec domain.Spec) {
	if err := m.EnsureWarmOne(context.Background(), spec); err != nil {
		logging.Op().Warn("warm pool refill failed", "fingerprint", fp, "err", err)
	}
}

// Jobs returns a snapshot of every attached job's VM info.
func (m *Manager) Jobs(ctx context.Context) []domain.VMInfo {
	m.mu.Lock()
	actors := make([]*vmactor.Actor, 0, len(m.jobs))
	for _, entry := range m.jobs {
		if a := m.actors[entry.vmID]; a != nil {
			actors = append(actors, a)
		}
	}
	m.mu.Unlock()
	return snapshotAll(ctx, actors)
}

// Warm returns a snapshot of every idle warm VM.
func (m *Manager) Warm(ctx context.Context) []domain.VMInfo {
	m.mu.Lock()
	actors := make([]*vmactor.Actor, 0, len(m.warm))
	for _, entry := range m.warm {
		if a := m.actors[entry.vmID]; a != nil {
			actors = append(actors, a)
		}
	}
	m.mu.Unlock()
	return snapshotAll(ctx, actors)
}

// Lookup returns jobID's current VM info, or false if jobID is not
// attached to any VM.
func (m *Manager) Lookup(ctx context.Context, jobID domain.JobId) (domain.VMInfo, bool) {
	return m.existingJobInfo(ctx, jobID)
}

// HasWarm reports whether a warm VM is currently held for fingerprint.
func (m *Manager) HasWarm(fingerprint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.warm[fingerprint]
	return ok
}

// StatsSummary carries the aggregate counts reported alongside the full
// jobs/warm_pool snapshots in Stats.
type StatsSummary struct {
	Attached int `json:"attached"`
	Warm     int `json:"warm"`
}

// Stats is the snapshot handed back by GET /stats: aggregate counts plus
// every attached job's and warm VM's info.
type Stats struct {
	Summary  StatsSummary    `json:"summary"`
	Jobs     []domain.VMInfo `json:"jobs"`
	WarmPool []domain.VMInfo `json:"warm_pool"`
}

// Stats returns a consistent snapshot of the pool: attached jobs, idle warm
// VMs, and their counts.
func (m *Manager) Stats(ctx context.Context) Stats {
	jobs := m.Jobs(ctx)
	warm := m.Warm(ctx)
	return Stats{
		Summary:  StatsSummary{Attached: len(jobs), Warm: len(warm)},
		Jobs:     jobs,
		WarmPool: warm,
	}
}

// AttachedJobIDs returns the set of job_ids currently attached — used by the
// reconciler to compute to_detach against the desired state store.
func (m *Manager) AttachedJobIDs() []domain.JobId {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]domain.JobId, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// WarmFingerprints returns the set of fingerprints currently holding a warm
// VM — used by the reconciler to avoid redundant ensure_warm_one calls.
func (m *Manager) WarmFingerprints() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.warm))
	for fp := range m.warm {
		out[fp] = true
	}
	return out
}

func snapshotAll(ctx context.Context, actors []*vmactor.Actor) []domain.VMInfo {
	infos := make([]domain.VMInfo, 0, len(actors))
	for _, a := range actors {
		if info, err := a.Info(ctx); err == nil {
			infos = append(infos, info)
		}
	}
	return infos
}
