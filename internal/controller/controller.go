// Package controller implements the Traffic Controller (C4): the public
// entry point that accepts agent-creation requests, mission-level
// commands, status updates from workers, message forwarding, and
// statistics queries, driving the Placement Engine and Dependency Graph
// and aggregating across the PoolRegistry.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/agenttraffic/core/internal/apierrors"
	"github.com/agenttraffic/core/internal/collaborators"
	"github.com/agenttraffic/core/internal/depgraph"
	"github.com/agenttraffic/core/internal/metrics"
	"github.com/agenttraffic/core/internal/placement"
	"github.com/agenttraffic/core/internal/registry"
	"github.com/agenttraffic/core/internal/timeoutcfg"
	"github.com/agenttraffic/core/internal/util/timefmt"
	"github.com/agenttraffic/core/internal/validate"
	"github.com/agenttraffic/core/internal/workerclient"
)

// CreateAgentRequest is the body of POST /createAgent.
type CreateAgentRequest struct {
	ActionVerb     string         `json:"actionVerb"`
	Inputs         map[string]any `json:"inputs"`
	MissionID      string         `json:"missionId"`
	MissionContext any            `json:"missionContext,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
}

// CreateAgentResult is the body of its 200 response.
type CreateAgentResult struct {
	AgentID string `json:"agentId"`
	Pending bool   `json:"pending"`
}

// Controller wires C1-C3 plus outbound collaborators into the
// operations spec §4.4 names. Its only lock, lastCreateMu, guards the
// per-worker last-create timestamps; every other mutation goes through
// one of its components, each already safe for concurrent use.
type Controller struct {
	Registry       *registry.Registry
	Placement      *placement.Engine
	Depgraph       *depgraph.Graph
	Records        *RecordStore
	Workers        *workerclient.Client
	MissionControl *collaborators.MissionControlClient
	Timeouts       *timeoutcfg.Config

	lastCreateMu    sync.Mutex
	lastCreateAt    map[string]time.Time
	pendingPayloads *pendingPayloadStore
}

// New wires a Controller from its components.
func New(reg *registry.Registry, eng *placement.Engine, graph *depgraph.Graph, records *RecordStore, workers *workerclient.Client, mc *collaborators.MissionControlClient, timeouts *timeoutcfg.Config) *Controller {
	return &Controller{
		Registry:        reg,
		Placement:       eng,
		Depgraph:        graph,
		Records:         records,
		Workers:         workers,
		MissionControl:  mc,
		Timeouts:        timeouts,
		lastCreateAt:    make(map[string]time.Time),
		pendingPayloads: newPendingPayloadStore(),
	}
}

func (c *Controller) markCreate(workerID string) {
	c.lastCreateMu.Lock()
	defer c.lastCreateMu.Unlock()
	c.lastCreateAt[workerID] = time.Now()
}

// LastCreateAt returns when a worker last received a create, or the
// zero time if never.
func (c *Controller) LastCreateAt(workerID string) time.Time {
	c.lastCreateMu.Lock()
	defer c.lastCreateMu.Unlock()
	return c.lastCreateAt[workerID]
}

// CreateAgent implements spec §4.4 CreateAgent.
func (c *Controller) CreateAgent(ctx context.Context, req CreateAgentRequest) (CreateAgentResult, error) {
	const op = "controller.createAgent"
	if err := validate.ValidateMissionID(req.MissionID); err != nil {
		return CreateAgentResult{}, apierrors.Wrap(apierrors.Validation, op, err)
	}

	agentID := uuid.NewString()
	c.Depgraph.Declare(agentID, req.Dependencies)

	satisfied := len(req.Dependencies) == 0 || c.Depgraph.Satisfied(ctx, agentID)
	if !satisfied {
		c.Records.Put(AgentRecord{
			AgentID:     agentID,
			MissionID:   req.MissionID,
			State:       Pending,
			LastUpdated: time.Now(),
			Statistics:  nil,
		})
		c.pendingPayloads.store(agentID, req)
		return CreateAgentResult{AgentID: agentID, Pending: true}, nil
	}

	workerID, err := c.Placement.Place(agentID, req.MissionID)
	if err != nil {
		c.Depgraph.Purge(agentID)
		return CreateAgentResult{}, err
	}

	if err := c.sendAddAgent(ctx, workerID, agentID, req); err != nil {
		_ = c.Placement.Release(agentID)
		c.Depgraph.Purge(agentID)
		return CreateAgentResult{}, apierrors.Wrap(apierrors.KindOf(err), op, err)
	}

	c.markCreate(workerID)
	c.Records.Put(AgentRecord{
		AgentID:     agentID,
		MissionID:   req.MissionID,
		WorkerID:    workerID,
		State:       Initializing,
		LastUpdated: time.Now(),
	})
	return CreateAgentResult{AgentID: agentID, Pending: false}, nil
}

func (c *Controller) sendAddAgent(ctx context.Context, workerID, agentID string, req CreateAgentRequest) error {
	w, ok := c.Registry.Get(workerID)
	if !ok {
		return apierrors.New(apierrors.NotFound, "controller.sendAddAgent", "worker disappeared before dispatch")
	}
	body := map[string]any{
		"agentId":        agentID,
		"actionVerb":     req.ActionVerb,
		"inputs":         req.Inputs,
		"missionId":      req.MissionID,
		"missionContext": req.MissionContext,
	}
	return c.Workers.AddAgent(ctx, w.URL, body)
}

// advancePending re-checks a Pending agent's dependencies and, if now
// satisfied, places it and dispatches its original creation payload —
// the agent never had a worker while Pending, so "resuming" it means
// sending the addAgent it never got, not a worker-side resume call.
func (c *Controller) advancePending(ctx context.Context, agentID string) {
	record, ok := c.Records.Get(agentID)
	if !ok || record.State != Pending {
		return
	}
	if !c.Depgraph.Satisfied(ctx, agentID) {
		return
	}
	req, ok := c.pendingPayloads.load(agentID)
	if !ok {
		slog.Warn("advancePending: no stored creation payload", "agent_id", agentID)
		return
	}

	workerID, err := c.Placement.Place(agentID, record.MissionID)
	if err != nil {
		slog.Warn("advancePending: placement failed", "agent_id", agentID, "error", err)
		return
	}
	if err := c.sendAddAgent(ctx, workerID, agentID, req); err != nil {
		slog.Warn("advancePending: dispatch failed", "agent_id", agentID, "error", err)
		_ = c.Placement.Release(agentID)
		return
	}
	c.markCreate(workerID)
	c.pendingPayloads.delete(agentID)
	c.Records.SetWorker(agentID, workerID)
	c.Records.SetState(agentID, Initializing, time.Now())
}

// MissionCommandOp is one of the three fan-out mission commands.
type MissionCommandOp string

const (
	OpPause  MissionCommandOp = "pause"
	OpAbort  MissionCommandOp = "abort"
	OpResume MissionCommandOp = "resume"
)

// WorkerResult is one worker's outcome within a fan-out response.
type WorkerResult struct {
	WorkerID string `json:"workerId"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// MissionCommandResult is the body spec §6 defines for
// pause/abort/resume responses.
type MissionCommandResult struct {
	Partial   bool           `json:"partial"`
	PerWorker []WorkerResult `json:"perWorker"`
}

// MissionCommand fans op out to every known worker concurrently and
// aggregates the result (spec §4.4).
func (c *Controller) MissionCommand(ctx context.Context, op MissionCommandOp, missionID string) (MissionCommandResult, error) {
	const opName = "controller.missionCommand"
	if err := validate.ValidateMissionID(missionID); err != nil {
		return MissionCommandResult{}, apierrors.Wrap(apierrors.Validation, opName, err)
	}

	fanOutCtx, cancel := context.WithTimeout(ctx, c.Timeouts.FanOutTimeout())
	defer cancel()

	workers := c.Registry.ListWorkers()
	results := make([]WorkerResult, len(workers))

	g, gctx := errgroup.WithContext(fanOutCtx)
	for i, w := range workers {
		i, w := i, w
		if w.State != registry.Known {
			results[i] = WorkerResult{WorkerID: w.ID, OK: true}
			continue
		}
		g.Go(func() error {
			var callErr error
			switch op {
			case OpPause:
				callErr = c.Workers.PauseAgents(gctx, w.URL, missionID)
			case OpAbort:
				callErr = c.Workers.AbortAgents(gctx, w.URL, missionID)
			case OpResume:
				callErr = c.Workers.ResumeAgents(gctx, w.URL, missionID)
			}
			outcome := "ok"
			if callErr != nil {
				outcome = "error"
				results[i] = WorkerResult{WorkerID: w.ID, OK: false, Error: callErr.Error()}
			} else {
				results[i] = WorkerResult{WorkerID: w.ID, OK: true}
			}
			metrics.FanOutRequestsTotal.WithLabelValues(string(op), outcome).Inc()
			return nil // per-worker errors never abort siblings
		})
	}
	_ = g.Wait()

	partial := false
	var errs []error
	for _, r := range results {
		if !r.OK {
			partial = true
			errs = append(errs, fmt.Errorf("%s: %s", r.WorkerID, r.Error))
		}
	}
	if combined := multierr.Combine(errs...); combined != nil {
		slog.Warn("mission command had per-worker failures", "op", op, "mission_id", missionID, "error", combined)
	}

	switch op {
	case OpAbort:
		c.releaseMissionAgents(missionID)
	case OpResume:
		c.reEvaluatePendingForMission(ctx, missionID)
	}

	return MissionCommandResult{Partial: partial, PerWorker: results}, nil
}

func (c *Controller) releaseMissionAgents(missionID string) {
	for _, r := range c.Records.ByMission(missionID) {
		if r.State.terminal() {
			continue
		}
		_ = c.Placement.Release(r.AgentID)
		c.Records.SetState(r.AgentID, Aborted, time.Now())
		c.Depgraph.Purge(r.AgentID)
		c.pendingPayloads.delete(r.AgentID)
	}
}

func (c *Controller) reEvaluatePendingForMission(ctx context.Context, missionID string) {
	for _, r := range c.Records.ByMission(missionID) {
		if r.State == Pending {
			c.advancePending(ctx, r.AgentID)
		}
	}
}

// ResumeAgent implements spec §4.4 ResumeAgent: locate the owning
// worker via C2 and issue a targeted resume.
func (c *Controller) ResumeAgent(ctx context.Context, agentID string) error {
	const op = "controller.resumeAgent"
	if err := validate.ValidateAgentID(agentID); err != nil {
		return apierrors.Wrap(apierrors.Validation, op, err)
	}
	workerID, ok := c.Placement.Locate(agentID)
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("agent %q has no placement", agentID))
	}
	w, ok := c.Registry.Get(workerID)
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("worker %q not known", workerID))
	}
	unaryCtx, cancel := context.WithTimeout(ctx, c.Timeouts.UnaryTimeout())
	defer cancel()
	if err := c.Workers.ResumeAgent(unaryCtx, w.URL, agentID); err != nil {
		return apierrors.Wrap(apierrors.KindOf(err), op, err)
	}
	c.Records.SetState(agentID, Running, time.Now())
	return nil
}

// StatusUpdate is the body inbound from workers (spec §4.4, §6's
// /agentStatisticsUpdate).
type StatusUpdate struct {
	AgentID    string         `json:"agentId"`
	MissionID  string         `json:"missionId"`
	State      LifecycleState `json:"status"`
	Statistics any            `json:"statistics,omitempty"`
}

// StatusUpdate processes an inbound worker report.
func (c *Controller) StatusUpdate(ctx context.Context, msg StatusUpdate) error {
	now := time.Now()
	c.Records.SetState(msg.AgentID, msg.State, now)
	if msg.Statistics != nil {
		c.Records.SetStatistics(msg.AgentID, msg.Statistics)
	}

	c.MissionControl.Forward(ctx, collaborators.StatisticsUpdate{
		AgentID:    msg.AgentID,
		MissionID:  msg.MissionID,
		Status:     string(msg.State),
		Statistics: msg.Statistics,
	})

	switch msg.State {
	case Completed, Aborted:
		_ = c.Placement.Release(msg.AgentID)
		candidates := c.Depgraph.OnCompleted(msg.AgentID)
		for _, dep := range candidates {
			c.advancePending(ctx, dep)
		}
		c.Depgraph.Purge(msg.AgentID)
		c.pendingPayloads.delete(msg.AgentID)
	case Error:
		// Dependents stay Pending; no further notification.
	case Paused, Running:
		// State already recorded above.
	}
	return nil
}

// Forward implements spec §4.4 Forward: route a targeted message to its
// agent's worker, or accept it via the untargeted base path.
func (c *Controller) Forward(ctx context.Context, targetAgentID string, envelope any) error {
	const op = "controller.forward"
	if targetAgentID == "" {
		// Base message-handling path: nothing further is specified for
		// an untargeted envelope beyond accepting it.
		return nil
	}
	workerID, ok := c.Placement.Locate(targetAgentID)
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("agent %q has no placement", targetAgentID))
	}
	w, ok := c.Registry.Get(workerID)
	if !ok {
		return apierrors.New(apierrors.NotFound, op, fmt.Sprintf("worker %q not known", workerID))
	}
	unaryCtx, cancel := context.WithTimeout(ctx, c.Timeouts.UnaryTimeout())
	defer cancel()
	if err := c.Workers.MessageAgent(unaryCtx, w.URL, targetAgentID, envelope); err != nil {
		return apierrors.Wrap(apierrors.KindOf(err), op, err)
	}
	return nil
}

// AgentSummary is one agent's entry in a worker's roster/statistics
// response. The wire shape of worker bodies is otherwise opaque (spec
// §6); this is the minimal shared shape the core needs to aggregate.
type AgentSummary struct {
	AgentID string `json:"agentId"`
	State   string `json:"state"`
}

type workerAgentsResponse struct {
	Agents []AgentSummary `json:"agents"`
}

// StatisticsResult is the aggregate body spec §4.4 Statistics produces.
type StatisticsResult struct {
	TotalAgents          int                       `json:"totalAgents"`
	ParticipatingWorkers int                       `json:"participatingWorkers"`
	ByState              map[string][]AgentSummary `json:"byState"`
	Partial              bool                      `json:"partial,omitempty"`
	RetrievedAt          string                    `json:"retrievedAt"`
}

// Statistics implements spec §4.4 Statistics.
func (c *Controller) Statistics(ctx context.Context, missionID string) (StatisticsResult, error) {
	const op = "controller.statistics"
	if err := validate.ValidateMissionID(missionID); err != nil {
		return StatisticsResult{}, apierrors.Wrap(apierrors.Validation, op, err)
	}

	fanOutCtx, cancel := context.WithTimeout(ctx, c.Timeouts.FanOutTimeout())
	defer cancel()

	workers := knownWorkers(c.Registry)
	perWorker := make([]workerAgentsResponse, len(workers))
	failed := make([]bool, len(workers))

	g, gctx := errgroup.WithContext(fanOutCtx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			var resp workerAgentsResponse
			if err := c.Workers.Statistics(gctx, w.URL, missionID, &resp); err != nil {
				failed[i] = true
				slog.Warn("statistics: worker call failed", "worker_id", w.ID, "error", err)
				return nil
			}
			perWorker[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	result := StatisticsResult{ByState: make(map[string][]AgentSummary)}
	for i, resp := range perWorker {
		if failed[i] {
			result.Partial = true
			continue
		}
		if len(resp.Agents) > 0 {
			result.ParticipatingWorkers++
		}
		for _, a := range resp.Agents {
			result.TotalAgents++
			result.ByState[a.State] = append(result.ByState[a.State], a)
		}
	}
	result.RetrievedAt = timefmt.Format(time.Now())
	return result, nil
}

// Roster implements spec §4.4 Roster: the flat concatenation of
// worker-reported agent records for a mission.
func (c *Controller) Roster(ctx context.Context, missionID string) ([]AgentSummary, error) {
	const op = "controller.roster"
	if err := validate.ValidateMissionID(missionID); err != nil {
		return nil, apierrors.Wrap(apierrors.Validation, op, err)
	}

	fanOutCtx, cancel := context.WithTimeout(ctx, c.Timeouts.FanOutTimeout())
	defer cancel()

	workers := knownWorkers(c.Registry)
	perWorker := make([][]AgentSummary, len(workers))

	g, gctx := errgroup.WithContext(fanOutCtx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			var resp workerAgentsResponse
			if err := c.Workers.MissionAgents(gctx, w.URL, missionID, &resp); err != nil {
				slog.Warn("roster: worker call failed", "worker_id", w.ID, "error", err)
				return nil
			}
			perWorker[i] = resp.Agents
			return nil
		})
	}
	_ = g.Wait()

	var out []AgentSummary
	for _, agents := range perWorker {
		out = append(out, agents...)
	}
	return out, nil
}

func knownWorkers(reg *registry.Registry) []registry.Worker {
	all := reg.ListWorkers()
	out := all[:0:0]
	for _, w := range all {
		if w.State == registry.Known {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
