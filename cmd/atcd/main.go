// Command atcd runs the Agent Traffic Core Traffic Controller: the
// control-plane service that accepts agent-creation requests, routes
// mission-wide commands, and aggregates statistics across a pool of
// agent-set workers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agenttraffic/core/internal/auth"
	"github.com/agenttraffic/core/internal/collaborators"
	"github.com/agenttraffic/core/internal/config"
	"github.com/agenttraffic/core/internal/controller"
	"github.com/agenttraffic/core/internal/depgraph"
	"github.com/agenttraffic/core/internal/logging"
	"github.com/agenttraffic/core/internal/placement"
	"github.com/agenttraffic/core/internal/registry"
	"github.com/agenttraffic/core/internal/server"
	"github.com/agenttraffic/core/internal/timeoutcfg"
	"github.com/agenttraffic/core/internal/workerclient"
)

func main() {
	logging.Setup()

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New()
	timeouts := timeoutcfg.New()
	records := controller.NewRecordStore()
	graph := depgraph.New(records)
	eng := placement.New(reg, placement.WithPrimary(cfg.PrimaryWorkerURL, cfg.PrimaryWorkerCapacity))
	workers := workerclient.New(nil)

	securityClient := collaborators.NewSecurityClient(cfg.SecurityURL, nil)
	missionControl := collaborators.NewMissionControlClient(cfg.MissionControlURL, nil)
	serviceRegistry := collaborators.NewServiceRegistryClient(cfg.PostOfficeURL, nil)

	ctrl := controller.New(reg, eng, graph, records, workers, missionControl, timeouts)

	var verifier auth.Verifier = securityClient
	if cfg.SecurityURL == "" {
		slog.Warn("SECURITY_URL not configured: rejecting all requests until it is set")
	}

	srv, err := server.New(server.Config{
		Addr:     fmt.Sprintf(":%d", cfg.Port),
		Verifier: verifier,
		Timeouts: timeouts,
	}, ctrl)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go ctrl.RunScheduler(ctx, controller.SchedulerDeps{
		InventoryFetcher:      serviceRegistry,
		DefaultWorkerCapacity: cfg.PrimaryWorkerCapacity,
	},
		time.Duration(cfg.WorkerRefreshIntervalSeconds)*time.Second,
		time.Duration(cfg.ReaperIntervalSeconds)*time.Second,
		time.Duration(cfg.OrphanSweepIntervalSeconds)*time.Second,
	)

	return srv.Serve(ctx)
}
