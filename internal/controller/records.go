package controller

import (
	"context"
	"sync"
	"time"

	"github.com/agenttraffic/core/internal/depgraph"
	"github.com/agenttraffic/core/internal/metrics"
)

// LifecycleState is one of the states spec §3 defines for an
// AgentRecord.
type LifecycleState string

const (
	Initializing LifecycleState = "Initializing"
	Pending      LifecycleState = "Pending"
	Running      LifecycleState = "Running"
	Paused       LifecycleState = "Paused"
	Completed    LifecycleState = "Completed"
	Error        LifecycleState = "Error"
	Aborted      LifecycleState = "Aborted"
	Unknown      LifecycleState = "Unknown"
)

// terminal reports whether a state is Completed or Aborted (spec §3:
// "Completed, Aborted are terminal; Error is terminal unless an
// explicit resume request is accepted").
func (s LifecycleState) terminal() bool {
	return s == Completed || s == Aborted
}

// AgentRecord is the controller's view of one agent (spec §3).
type AgentRecord struct {
	AgentID     string
	MissionID   string
	WorkerID    string // may be empty while Pending
	State       LifecycleState
	LastUpdated time.Time
	Statistics  any // opaque to the core
}

// RecordStore holds every live AgentRecord behind a single exclusive
// lock, the last component in the fixed lock order Registry →
// Placement → Dependency → Records.
type RecordStore struct {
	mu      sync.Mutex
	records map[string]*AgentRecord
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]*AgentRecord)}
}

// Put inserts or replaces a record.
func (s *RecordStore) Put(r AgentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.AgentID]; !exists {
		metrics.AgentsByState.WithLabelValues(string(r.State)).Inc()
	} else {
		metrics.AgentsByState.WithLabelValues(string(s.records[r.AgentID].State)).Dec()
		metrics.AgentsByState.WithLabelValues(string(r.State)).Inc()
	}
	cp := r
	s.records[r.AgentID] = &cp
}

// Get returns a copy of one record.
func (s *RecordStore) Get(agentID string) (AgentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[agentID]
	if !ok {
		return AgentRecord{}, false
	}
	return *r, true
}

// SetState updates only the lifecycle state and timestamp of an
// existing record, enforcing spec §3's monotone-toward-terminal rule
// (P6): once Completed or Aborted, no further transition is accepted.
func (s *RecordStore) SetState(agentID string, state LifecycleState, updated time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[agentID]
	if !ok {
		return false
	}
	if r.State.terminal() {
		return false
	}
	metrics.AgentsByState.WithLabelValues(string(r.State)).Dec()
	r.State = state
	r.LastUpdated = updated
	metrics.AgentsByState.WithLabelValues(string(state)).Inc()
	return true
}

// SetWorker updates only the assigned worker id (used on placement and
// reassignment, independent of state transitions).
func (s *RecordStore) SetWorker(agentID, workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[agentID]; ok {
		r.WorkerID = workerID
	}
}

// SetStatistics attaches the last-reported statistics blob.
func (s *RecordStore) SetStatistics(agentID string, stats any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[agentID]; ok {
		r.Statistics = stats
	}
}

// Delete removes a record entirely. The controller's terminal-state
// paths do not call it: records of Completed or Aborted agents stay in
// the store.
func (s *RecordStore) Delete(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[agentID]; ok {
		metrics.AgentsByState.WithLabelValues(string(r.State)).Dec()
		delete(s.records, agentID)
	}
}

// ByMission returns a copy of every record for the given mission.
func (s *RecordStore) ByMission(missionID string) []AgentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AgentRecord
	for _, r := range s.records {
		if r.MissionID == missionID {
			out = append(out, *r)
		}
	}
	return out
}

// StateOf implements depgraph.StatusOracle by reading this store,
// translating the controller's LifecycleState into depgraph's narrower
// view (it only needs to know "Completed or not").
func (s *RecordStore) StateOf(_ context.Context, agentID string) (depgraph.LifecycleState, bool) {
	r, ok := s.Get(agentID)
	if !ok {
		return "", false
	}
	return depgraph.LifecycleState(r.State), true
}
