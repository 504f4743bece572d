package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/agenttraffic/core/internal/registry"
)

// orphanTimeout is the window after which an agent whose state has not
// advanced is probed by the orphan sweep. Spec §4.4 calls this "a
// configured timeout" without naming an environment variable for it, so
// it is fixed here rather than exposed as another knob.
const orphanTimeout = 10 * time.Minute

// emptyWorkerGrace is how long a worker must sit at zero occupancy
// before the empty-set reaper considers it eligible for removal (spec
// §4.4: "no creates in the last 5 minutes").
const emptyWorkerGrace = 5 * time.Minute

// SchedulerDeps are the external collaborators the background tasks
// call out to.
type SchedulerDeps struct {
	InventoryFetcher      registry.InventoryFetcher
	DefaultWorkerCapacity int
}

// RunScheduler starts the three background tasks spec §4.4 describes
// and blocks until ctx is cancelled. Each task runs on its own ticker,
// but ticks are handled one at a time in this loop, so a slow task
// delays the others until it returns.
func (c *Controller) RunScheduler(ctx context.Context, deps SchedulerDeps, refreshInterval, reaperInterval, orphanInterval time.Duration) {
	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()
	reaperTicker := time.NewTicker(reaperInterval)
	defer reaperTicker.Stop()
	orphanTicker := time.NewTicker(orphanInterval)
	defer orphanTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			c.runWorkerRefresh(ctx, deps)
		case <-reaperTicker.C:
			c.runEmptySetReaper(ctx)
		case <-orphanTicker.C:
			c.runOrphanSweep(ctx)
		}
	}
}

func (c *Controller) runWorkerRefresh(ctx context.Context, deps SchedulerDeps) {
	if deps.InventoryFetcher == nil {
		return
	}
	before := c.Registry.ListWorkers()
	if err := c.Registry.Refresh(ctx, deps.InventoryFetcher, deps.DefaultWorkerCapacity); err != nil {
		slog.Warn("worker refresh failed", "error", err)
		return
	}
	for _, w := range before {
		if w.State == registry.Removed {
			continue
		}
		after, ok := c.Registry.Get(w.ID)
		if ok && after.State == registry.Removed {
			c.reassignLostWorker(w.ID)
		}
	}
}

func (c *Controller) reassignLostWorker(workerID string) {
	events := c.Placement.Reassign(workerID)
	for _, ev := range events {
		c.Records.SetWorker(ev.AgentID, ev.NewWorkerID)
		slog.Info("relocated agent after worker loss",
			"agent_id", ev.AgentID, "mission_id", ev.MissionID,
			"old_worker_id", ev.OldWorkerID, "new_worker_id", ev.NewWorkerID)
	}
}

// runEmptySetReaper finds workers sitting at zero occupancy with no
// recent creates and logs them as eligible for removal. Spec §4.4
// requires the external deploy collaborator to confirm before a worker
// is actually removed from C1; §6 defines no contract for that
// collaborator, so this stops at the notification/logging boundary
// rather than calling an invented endpoint.
func (c *Controller) runEmptySetReaper(_ context.Context) {
	now := time.Now()
	for _, w := range c.Registry.ListWorkers() {
		if w.State != registry.Known || w.Occupancy != 0 {
			continue
		}
		last := c.LastCreateAt(w.ID)
		if last.IsZero() || now.Sub(last) >= emptyWorkerGrace {
			slog.Info("worker idle past grace period, eligible for removal pending deploy confirmation",
				"worker_id", w.ID, "last_create", last)
		}
	}
}

// runOrphanSweep probes workers for agents whose state has not advanced
// within orphanTimeout.
func (c *Controller) runOrphanSweep(ctx context.Context) {
	now := time.Now()
	for _, r := range c.allRecords() {
		if r.State.terminal() || now.Sub(r.LastUpdated) < orphanTimeout {
			continue
		}
		w, ok := c.Registry.Get(r.WorkerID)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, c.Timeouts.UnaryTimeout())
		var out any
		err := c.Workers.AgentOutput(probeCtx, w.URL, r.AgentID, &out)
		cancel()
		if err != nil {
			slog.Warn("orphan sweep: probe failed", "agent_id", r.AgentID, "worker_id", r.WorkerID, "error", err)
		}
	}
}

// allRecords is a small helper so the scheduler can iterate every known
// record without RecordStore exposing a direct field.
func (c *Controller) allRecords() []AgentRecord {
	var out []AgentRecord
	for _, missionID := range c.knownMissionIDs() {
		out = append(out, c.Records.ByMission(missionID)...)
	}
	return out
}

func (c *Controller) knownMissionIDs() []string {
	c.Records.mu.Lock()
	defer c.Records.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, r := range c.Records.records {
		if !seen[r.MissionID] {
			seen[r.MissionID] = true
			ids = append(ids, r.MissionID)
		}
	}
	return ids
}
