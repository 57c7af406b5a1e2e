// Command orchestrator runs the orchestration service (C8) together with
// its supporting cache (C1), message bus (C2), schema validator (C3), cron
// scheduler (C5), and health reader (C6 consumer). Wiring is explicit
// construction at program start, matching the teacher's cmd/test-analyzer
// and cmd/docgen entrypoints rather than a DI container.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/liranavivi/Design954-sub000/internal/appconfig"
	"github.com/liranavivi/Design954-sub000/pkg/bus"
	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/cronsched"
	"github.com/liranavivi/Design954-sub000/pkg/healthmonitor"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/managerclient"
	"github.com/liranavivi/Design954-sub000/pkg/orchestrator"
	"github.com/liranavivi/Design954-sub000/pkg/schemavalidate"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := logctx.New()

	cfg, err := appconfig.Load("config", []string{".", "/etc/orchestrator"})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	cacheClient, err := cache.New(cfg.Cache, cache.NoOpMetrics())
	if err != nil {
		return fmt.Errorf("construct cache client: %w", err)
	}
	defer cacheClient.Close()

	busClient, err := bus.New(cfg.Bus, bus.NoOpMetrics())
	if err != nil {
		return fmt.Errorf("construct bus client: %w", err)
	}
	defer busClient.Close()

	managerClient, err := managerclient.New(cfg.Manager, managerclient.NoOpMetrics())
	if err != nil {
		return fmt.Errorf("construct manager client: %w", err)
	}

	validator := schemavalidate.New(schemavalidate.NoOpMetrics())
	healthReader := healthmonitor.NewReader(cacheClient, cfg.Health.CacheMapName)

	var svc *orchestrator.Service
	scheduler := cronsched.New(func(ctx context.Context, flowID, correlationID string) error {
		return svc.Start(orchestrator.WithCorrelationID(ctx, correlationID), flowID)
	}, cronsched.NoOpMetrics())

	svc, err = orchestrator.New(cfg.Orchestrator, busClient, managerClient, cacheClient, validator, scheduler, healthReader, logger, orchestrator.NoOpMetrics())
	if err != nil {
		return fmt.Errorf("construct orchestration service: %w", err)
	}

	advancer, err := orchestrator.NewAdvancer(svc)
	if err != nil {
		return fmt.Errorf("construct advancer: %w", err)
	}
	if err := advancer.Start(); err != nil {
		return fmt.Errorf("start advancer: %w", err)
	}
	defer advancer.Stop()

	scheduler.Run()
	defer func() { _ = scheduler.Shutdown(context.Background()) }()

	logger.Infof(logctx.Context{}, "orchestrator started")
	<-ctx.Done()
	logger.Infof(logctx.Context{}, "orchestrator shutting down")
	return nil
}
