// Package registry implements the PoolRegistry (C1): the authoritative
// view of known agent-set workers, their URLs, declared capacities, and
// current occupancy.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/metrics"
	"github.com/agenttraffic/core/internal/validate"
)

// State is a worker's liveness state.
type State string

const (
	Known       State = "Known"
	Unreachable State = "Unreachable"
	Draining    State = "Draining"
	Removed     State = "Removed"
)

// UnreachableThreshold is the number of consecutive missing-from-refresh
// observations (K in spec terms) after which a worker transitions from
// Unreachable to Removed.
const UnreachableThreshold = 3

// Worker is a snapshot of one entry in the registry. Values returned from
// listWorkers are copies; mutating them has no effect on the registry.
type Worker struct {
	ID        string
	URL       string
	Capacity  int
	Occupancy int
	State     State

	missedTicks int
}

// Inventory is the part of the external service-registry collaborator's
// worker description the registry keeps: id and url (the component type
// is dropped). Refresh uses it to reconcile the registry against the
// deployed fleet.
type Inventory struct {
	ID  string
	URL string
}

// Registry tracks worker inventory behind a single exclusive lock, per
// spec §4.1's concurrency rule. It is a leaf component: it calls into no
// other component, so Placement invokes it while holding its own lock.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{workers: make(map[string]*Worker)}
}

// Register is idempotent: if workerId is already known with a different
// URL, the URL is updated and the worker is marked Known, but occupancy
// is left untouched.
func (r *Registry) Register(workerID, url string, capacity int) error {
	const op = "registry.register"
	if err := validate.ValidateWorkerURL(url); err != nil {
		return apierrors.Wrap(apierrors.Validation, op, err)
	}
	if capacity <= 0 {
		return apierrors.New(apierrors.Validation, op, "capacity must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[workerID]
	if !exists {
		r.workers[workerID] = &Worker{
			ID:       workerID,
			URL:      url,
			Capacity: capacity,
			State:    Known,
		}
		metrics.WorkersKnown.Inc()
		return nil
	}
	w.URL = url
	w.Capacity = capacity
	w.State = Known
	w.missedTicks = 0
	return nil
}

// Unregister marks a worker Removed. The caller (Placement Engine, via
// the controller's reassignment path) is responsible for reassigning any
// agents mapped to it; Registry itself has no knowledge of placement.
func (r *Registry) Unregister(workerID string) error {
	const op = "registry.unregister"
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("worker %q not known", workerID))
	}
	if w.State != Removed {
		w.State = Removed
		metrics.WorkersKnown.Dec()
	}
	return nil
}

// ListWorkers returns a deep copy of every tracked worker, sorted by ID
// for deterministic iteration. Placement's selection policy takes
// workers in this order; registration order is not recorded.
func (r *Registry) ListWorkers() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AdjustOccupancy is the sole mutator of occupancy (spec's Open Question
// #1 resolution): every increment or decrement, whether from placement,
// release, or reassignment, goes through here. It fails without applying
// any change if a positive delta would push occupancy past capacity, or
// a negative delta would take it below zero.
func (r *Registry) AdjustOccupancy(workerID string, delta int) error {
	const op = "registry.adjustOccupancy"
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("worker %q not known", workerID))
	}
	next := w.Occupancy + delta
	if next < 0 {
		return apierrors.New(apierrors.Internal, op, "occupancy would go negative")
	}
	if next > w.Capacity {
		return apierrors.New(apierrors.NoCapacity, op, fmt.Sprintf("worker %q at capacity %d", workerID, w.Capacity))
	}
	w.Occupancy = next
	return nil
}

// Get returns a copy of one worker's state.
func (r *Registry) Get(workerID string) (Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

// InventoryFetcher fetches the current deployed worker fleet from the
// external service-registry collaborator (spec §6: GET
// /requestComponent?type=AgentSet).
type InventoryFetcher interface {
	FetchWorkers(ctx context.Context) ([]Inventory, error)
}

// Refresh reconciles the registry against the external collaborator.
// Workers present in the inventory but unknown are registered with the
// supplied default capacity; workers known locally but absent from the
// inventory accrue a missed tick and become Unreachable, transitioning
// to Removed after UnreachableThreshold consecutive misses. A fetch
// failure never empties the registry: prior state is retained and the
// error is returned for the caller to log and count.
func (r *Registry) Refresh(ctx context.Context, fetcher InventoryFetcher, defaultCapacity int) error {
	const op = "registry.refresh"
	inv, err := fetcher.FetchWorkers(ctx)
	if err != nil {
		metrics.RegistryRefreshErrorsTotal.Inc()
		return apierrors.Wrap(apierrors.Unreachable, op, err)
	}

	seen := make(map[string]bool, len(inv))
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range inv {
		seen[entry.ID] = true
		if w, ok := r.workers[entry.ID]; ok {
			w.URL = entry.URL
			w.missedTicks = 0
			if w.State == Unreachable {
				w.State = Known
			}
			continue
		}
		r.workers[entry.ID] = &Worker{
			ID:       entry.ID,
			URL:      entry.URL,
			Capacity: defaultCapacity,
			State:    Known,
		}
		metrics.WorkersKnown.Inc()
	}

	for id, w := range r.workers {
		if seen[id] || w.State == Removed {
			continue
		}
		w.missedTicks++
		if w.missedTicks >= UnreachableThreshold {
			w.State = Removed
			metrics.WorkersKnown.Dec()
			metrics.WorkersRemovedTotal.Inc()
		} else {
			w.State = Unreachable
		}
	}
	return nil
}
