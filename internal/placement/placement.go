// Package placement implements the Placement Engine (C2): deciding
// which worker receives a new agent, maintaining the agent→worker
// PlacementMap, and reassigning agents when a worker is lost.
package placement

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/metrics"
	"github.com/agenttraffic/core/internal/registry"
)

// RelocationEvent describes an agent that moved worker during
// reassignment, for the controller to re-send agent state to the new
// worker.
type RelocationEvent struct {
	AgentID     string
	MissionID   string
	OldWorkerID string
	NewWorkerID string
}

type assignment struct {
	workerID  string
	missionID string
}

// Engine owns the PlacementMap behind a single exclusive lock. Its
// methods call into Registry while holding that lock, so Registry's lock
// is always taken inside Engine's; Registry never calls back into Engine.
type Engine struct {
	reg *registry.Registry

	mu          sync.Mutex
	assignments map[string]assignment // agentID -> assignment

	primaryURL      string
	primaryCapacity int
}

// Option configures primary-bootstrap behavior.
type Option func(*Engine)

// WithPrimary configures the canonical primary worker placeholder spec
// §4.2 describes: used to bootstrap placement when the registry is
// otherwise empty or saturated. A zero capacity disables bootstrapping
// entirely (Open Question #2: capacity 0 is a misconfiguration, never a
// valid placeholder).
func WithPrimary(url string, capacity int) Option {
	return func(e *Engine) {
		e.primaryURL = url
		e.primaryCapacity = capacity
	}
}

// New creates an Engine bound to the given Registry.
func New(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		reg:         reg,
		assignments: make(map[string]assignment),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Place selects a worker for agentId per the selection policy (first
// Known worker with occupancy<capacity, taking workers in lexicographic
// workerId order; the registry does not record registration order, so
// that order is not used), atomically increments its
// occupancy, and records the assignment. If no worker has headroom, it
// attempts the primary-bootstrap policy exactly once and retries; if
// still none, fails with NoCapacity.
func (e *Engine) Place(agentID, missionID string) (string, error) {
	const op = "placement.place"

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.assignments[agentID]; exists {
		return "", apierrors.New(apierrors.Conflict, op, fmt.Sprintf("agent %q already placed", agentID))
	}

	workerID, err := e.selectWorker()
	if err != nil {
		if bootstrapped := e.tryBootstrapPrimary(); bootstrapped {
			workerID, err = e.selectWorker()
		}
		if err != nil {
			metrics.PlacementFailuresTotal.WithLabelValues("no_capacity").Inc()
			return "", apierrors.New(apierrors.NoCapacity, op, "no worker has available capacity")
		}
	}

	if err := e.reg.AdjustOccupancy(workerID, 1); err != nil {
		metrics.PlacementFailuresTotal.WithLabelValues("adjust_occupancy").Inc()
		return "", apierrors.Wrap(apierrors.NoCapacity, op, err)
	}

	e.assignments[agentID] = assignment{workerID: workerID, missionID: missionID}
	metrics.AgentsPlaced.Inc()
	return workerID, nil
}

// selectWorker implements the deterministic selection policy. Caller
// must hold e.mu.
func (e *Engine) selectWorker() (string, error) {
	workers := e.reg.ListWorkers()
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })

	for _, w := range workers {
		if w.State != registry.Known {
			continue
		}
		if w.Occupancy >= w.Capacity {
			continue
		}
		return w.ID, nil
	}
	return "", apierrors.New(apierrors.NoCapacity, "placement.selectWorker", "no worker has headroom")
}

// tryBootstrapPrimary registers the canonical primary worker if
// configured and not already present. Returns true if it made a change
// worth retrying selection over. Caller must hold e.mu.
func (e *Engine) tryBootstrapPrimary() bool {
	if e.primaryURL == "" || e.primaryCapacity <= 0 {
		return false
	}
	const primaryID = "primary"
	if _, ok := e.reg.Get(primaryID); ok {
		return false
	}
	if err := e.reg.Register(primaryID, e.primaryURL, e.primaryCapacity); err != nil {
		return false
	}
	return true
}

// Release removes the PlacementMap entry for agentId and decrements its
// worker's occupancy. A no-op (not an error) if agentId has no
// placement, since release is called from multiple terminal-state paths
// that may race.
func (e *Engine) Release(agentID string) error {
	const op = "placement.release"
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.assignments[agentID]
	if !ok {
		return nil
	}
	delete(e.assignments, agentID)
	metrics.AgentsPlaced.Dec()
	if err := e.reg.AdjustOccupancy(a.workerID, -1); err != nil {
		return apierrors.Wrap(apierrors.Internal, op, err)
	}
	return nil
}

// Locate returns the worker hosting agentId, or ok=false if it has no
// placement (pending, released, or never placed).
func (e *Engine) Locate(agentID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.assignments[agentID]
	if !ok {
		return "", false
	}
	return a.workerID, true
}

// Relocate moves agentId to newWorkerId without going through Place's
// capacity-selection path, used when a caller reports an agent now
// lives on a different worker. It transfers occupancy atomically in one
// critical section: the old worker's occupancy decreases by one and
// newWorkerId's increases by one, so sum(occupancy) == |PlacementMap| is
// preserved. A no-op on occupancy when oldWorkerId == newWorkerId.
func (e *Engine) Relocate(agentID, newWorkerID string) error {
	const op = "placement.relocate"
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.assignments[agentID]
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("agent %q has no placement", agentID))
	}
	oldWorkerID := a.workerID
	if oldWorkerID == newWorkerID {
		return nil
	}
	if err := e.reg.AdjustOccupancy(newWorkerID, 1); err != nil {
		return apierrors.Wrap(apierrors.NoCapacity, op, err)
	}
	if err := e.reg.AdjustOccupancy(oldWorkerID, -1); err != nil {
		// newWorkerID's occupancy was already committed above; roll it
		// back so this failure does not leave sum(occupancy) inflated.
		_ = e.reg.AdjustOccupancy(newWorkerID, -1)
		return apierrors.Wrap(apierrors.Internal, op, err)
	}
	a.workerID = newWorkerID
	e.assignments[agentID] = a
	return nil
}

// Reassign relocates every agent mapped to lostWorkerID onto a
// replacement worker chosen by the selection policy, emitting one
// RelocationEvent per agent moved. Agents that cannot be relocated
// (no replacement has headroom) are left mapped to lostWorkerID and get
// no event; their controller records keep their last reported state.
func (e *Engine) Reassign(lostWorkerID string) []RelocationEvent {
	e.mu.Lock()

	var toMove []string
	for agentID, a := range e.assignments {
		if a.workerID == lostWorkerID {
			toMove = append(toMove, agentID)
		}
	}
	sort.Strings(toMove)

	var events []RelocationEvent
	moved := 0
	for _, agentID := range toMove {
		a := e.assignments[agentID]
		newWorkerID, err := e.selectWorker()
		if err != nil || newWorkerID == lostWorkerID {
			continue
		}
		if err := e.reg.AdjustOccupancy(newWorkerID, 1); err != nil {
			continue
		}
		a.workerID = newWorkerID
		e.assignments[agentID] = a
		moved++
		metrics.RelocationsTotal.Inc()
		events = append(events, RelocationEvent{
			AgentID:     agentID,
			MissionID:   a.missionID,
			OldWorkerID: lostWorkerID,
			NewWorkerID: newWorkerID,
		})
	}
	e.mu.Unlock()

	if moved > 0 {
		// The lost worker's occupancy drops by exactly the number of
		// agents that actually moved; any that could not be relocated
		// remain mapped to it and keep their share of its occupancy.
		_ = e.reg.AdjustOccupancy(lostWorkerID, -moved)
	}
	return events
}
