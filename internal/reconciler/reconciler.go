// Package reconciler drives actual state toward desired state on a fixed
// tick: attach missing jobs, detach jobs no longer desired, and keep each
// spec's warm pool stocked. No reconciler error is fatal — a failed attach
// or detach is logged and retried on the next tick.
package reconciler

import (
	"context"
	"time"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/desiredstate"
	"github.com/vmfleet/fleetd/internal/domain"
	"github.com/vmfleet/fleetd/internal/fingerprint"
	"github.com/vmfleet/fleetd/internal/logging"
	"github.com/vmfleet/fleetd/internal/observability"
	"github.com/vmfleet/fleetd/internal/poolmgr"
)

// DefaultInterval is the default reconciler tick period.
const DefaultInterval = 1 * time.Second

type Reconciler struct {
	store    *desiredstate.Store
	pool     *poolmgr.Manager
	interval time.Duration
}

func New(store *desiredstate.Store, pool *poolmgr.Manager, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{store: store, pool: pool, interval: interval}
}

// Run blocks, ticking until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	tickCtx, span := observability.StartSpan(ctx, "reconciler.tick")
	defer span.End()

	desired, err := r.store.List(tickCtx)
	if err != nil {
		logging.Op().Warn("reconciler: list desired state failed", "err", err)
		return
	}

	r.reconcileAttach(tickCtx, desired)
	r.reconcileDetach(tickCtx, desired)
	r.ensureWarmForAllSpecs(tickCtx, desired)
}

// reconcileAttach computes to_attach = desired \ actual and attaches each.
func (r *Reconciler) reconcileAttach(ctx context.Context, desired []domain.DesiredEntry) {
	attached := toSet(r.pool.AttachedJobIDs())
	for _, entry := range desired {
		if attached[entry.JobId] {
			continue
		}
		if _, err := r.pool.Attach(ctx, entry.JobId, entry.Tenant, entry.Spec); err != nil {
			// ErrNoWarmVMAvailable is expected and frequent while a warm
			// VM is still booting; anything else is worth a log line.
			if err != backend.ErrNoWarmVMAvailable {
				logging.Op().Warn("reconciler: attach failed", "job_id", string(entry.JobId), "err", err)
			}
		}
	}
}

// reconcileDetach computes to_detach = actual \ desired and detaches each.
func (r *Reconciler) reconcileDetach(ctx context.Context, desired []domain.DesiredEntry) {
	desiredIDs := make(map[domain.JobId]bool, len(desired))
	for _, entry := range desired {
		desiredIDs[entry.JobId] = true
	}
	for _, jobID := range r.pool.AttachedJobIDs() {
		if desiredIDs[jobID] {
			continue
		}
		if err := r.pool.Detach(ctx, jobID); err != nil {
			logging.Op().Warn("reconciler: detach failed", "job_id", string(jobID), "err", err)
		}
	}
}

// ensureWarmForAllSpecs keeps exactly one warm VM ready for every distinct
// fingerprint among desired specs that declare warm_pool.min > 0. Specs
// that share a fingerprint collapse onto the same warm slot, which is the
// tie-break rule: whichever desired entry is iterated first is irrelevant
// since ensure_warm_one is itself idempotent per fingerprint.
func (r *Reconciler) ensureWarmForAllSpecs(ctx context.Context, desired []domain.DesiredEntry) {
	already := r.pool.WarmFingerprints()
	seen := make(map[string]bool)
	for _, entry := range desired {
		if !entry.Spec.WantsWarm() {
			continue
		}
		fp := fingerprint.Of(entry.Spec)
		if seen[fp] || already[fp] {
			continue
		}
		seen[fp] = true
		if err := r.pool.EnsureWarmOne(ctx, entry.Spec); err != nil {
			logging.Op().Warn("reconciler: ensure_warm_one failed", "fingerprint", fp, "err", err)
		}
	}
}

func toSet(ids []domain.JobId) map[domain.JobId]bool {
	set := make(map[domain.JobId]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
