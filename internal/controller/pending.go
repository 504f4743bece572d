package controller

import "sync"

// pendingPayloadStore holds the original CreateAgentRequest for agents
// parked in Pending, so advancePending can dispatch the addAgent they
// never received once their prerequisites complete.
type pendingPayloadStore struct {
	mu       sync.Mutex
	payloads map[string]CreateAgentRequest
}

func newPendingPayloadStore() *pendingPayloadStore {
	return &pendingPayloadStore{payloads: make(map[string]CreateAgentRequest)}
}

func (s *pendingPayloadStore) store(agentID string, req CreateAgentRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[agentID] = req
}

func (s *pendingPayloadStore) load(agentID string) (CreateAgentRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.payloads[agentID]
	return req, ok
}

func (s *pendingPayloadStore) delete(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, agentID)
}
