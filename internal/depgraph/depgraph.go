// Package depgraph implements the Dependency Graph (C3): the dynamic
// DAG of agent-to-agent prerequisites whose satisfaction gates agent
// execution.
package depgraph

import (
	"context"
	"sync"

	"github.com/agenttraffic/core/internal/metrics"
)

// LifecycleState mirrors the subset of controller lifecycle states C3
// needs to reason about satisfaction. Defined locally so this package
// has no dependency on the controller (spec §4.3: "avoid any
// reverse-dependency from C3 into C4").
type LifecycleState string

const Completed LifecycleState = "Completed"

// StatusOracle is the single-method capability C3 queries for an
// agent's current lifecycle state. Injected by the controller, backed
// by its AgentRecord store; stubbed directly in tests.
type StatusOracle interface {
	StateOf(ctx context.Context, agentID string) (LifecycleState, bool)
}

// Graph stores dependency edges behind a single exclusive lock, sitting
// above Placement in the lock order (Registry → Placement → Dependency
// → Records).
type Graph struct {
	oracle StatusOracle

	mu           sync.Mutex
	prereqs      map[string][]string // agentID -> prerequisite ids
	dependents   map[string][]string // prerequisite id -> dependent ids
}

// New creates a Graph backed by the given StatusOracle.
func New(oracle StatusOracle) *Graph {
	return &Graph{
		oracle:     oracle,
		prereqs:    make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// Declare replaces any prior declaration for agentID with prereqIDs,
// idempotently (R2): declaring the same set twice leaves the graph
// unchanged beyond the first call.
func (g *Graph) Declare(agentID string, prereqIDs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	old, hadOld := g.prereqs[agentID]
	for _, p := range old {
		g.removeDependent(p, agentID)
	}

	if len(prereqIDs) == 0 {
		if hadOld {
			delete(g.prereqs, agentID)
			metrics.DependencyNodes.Dec()
		}
		return
	}
	if !hadOld {
		metrics.DependencyNodes.Inc()
	}

	cp := make([]string, len(prereqIDs))
	copy(cp, prereqIDs)
	g.prereqs[agentID] = cp
	for _, p := range cp {
		g.dependents[p] = appendUnique(g.dependents[p], agentID)
	}
}

func (g *Graph) removeDependent(prereqID, dependentID string) {
	deps := g.dependents[prereqID]
	for i, d := range deps {
		if d == dependentID {
			g.dependents[prereqID] = append(deps[:i], deps[i+1:]...)
			break
		}
	}
	if len(g.dependents[prereqID]) == 0 {
		delete(g.dependents, prereqID)
	}
}

func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}

// PrerequisitesOf returns the declared prerequisites of agentID.
func (g *Graph) PrerequisitesOf(agentID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneStrings(g.prereqs[agentID])
}

// DependentsOf returns the agents that directly depend on agentID.
func (g *Graph) DependentsOf(agentID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneStrings(g.dependents[agentID])
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Satisfied reports whether every prerequisite of agentID, and
// recursively every transitive prerequisite, is in state Completed. A
// cycle is treated as unsatisfied (never true) and never causes
// unbounded recursion: a visited set is tracked for the duration of one
// evaluation, then discarded (spec: "reads take a snapshot to avoid
// holding the lock across oracle calls").
func (g *Graph) Satisfied(ctx context.Context, agentID string) bool {
	prereqSnapshot := g.snapshot()
	path := make(map[string]bool)
	satisfied, cyclic := evalSatisfied(ctx, agentID, prereqSnapshot, g.oracle, path)
	if cyclic {
		metrics.CyclesDetectedTotal.Inc()
		return false
	}
	return satisfied
}

func (g *Graph) snapshot() map[string][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string][]string, len(g.prereqs))
	for k, v := range g.prereqs {
		out[k] = cloneStrings(v)
	}
	return out
}

// evalSatisfied reports whether every prerequisite of agentID, and
// every transitive prerequisite, is Completed. path tracks only the
// current DFS branch, not every node visited across the whole
// evaluation: a node is added before recursing into it and removed
// before returning, so reaching the same node again via a different
// branch (a shared prerequisite in a diamond, not a cycle) is not
// mistaken for one. A repeat visit within the live path means a genuine
// cycle, reported and treated as unsatisfied rather than recursing
// forever.
func evalSatisfied(ctx context.Context, agentID string, prereqs map[string][]string, oracle StatusOracle, path map[string]bool) (satisfied bool, cyclic bool) {
	if path[agentID] {
		return false, true
	}
	path[agentID] = true
	defer delete(path, agentID)

	for _, p := range prereqs[agentID] {
		state, ok := oracle.StateOf(ctx, p)
		if !ok || state != Completed {
			return false, false
		}
		if _, cyc := evalSatisfied(ctx, p, prereqs, oracle, path); cyc {
			return false, true
		}
	}
	return true, false
}

// OnCompleted returns the immediate dependents of agentID whose
// prerequisites may now be satisfied. The caller must re-check each via
// Satisfied before acting, since a dependent may have other
// not-yet-completed prerequisites.
func (g *Graph) OnCompleted(agentID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneStrings(g.dependents[agentID])
}

// Purge removes agentID's node and all incident edges: its own
// prerequisite declaration and its entry in every prerequisite's
// dependents list, plus its own dependents list.
func (g *Graph) Purge(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prereqs, ok := g.prereqs[agentID]; ok {
		for _, p := range prereqs {
			g.removeDependent(p, agentID)
		}
		delete(g.prereqs, agentID)
		metrics.DependencyNodes.Dec()
	}

	// Strip agentID from every dependent's own prerequisite list so no
	// incoming edge survives the purge (I4), then drop its dependents index.
	for _, dependentID := range g.dependents[agentID] {
		deps := g.prereqs[dependentID]
		for i, p := range deps {
			if p == agentID {
				g.prereqs[dependentID] = append(deps[:i], deps[i+1:]...)
				break
			}
		}
	}
	delete(g.dependents, agentID)
}
