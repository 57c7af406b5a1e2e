// Command processor runs one processor runtime instance (C7) together with
// its own health monitor loop (C6). The activity function itself is the one
// piece every real deployment supplies independently; this entrypoint wires
// it as a pass-through that echoes its input back as a single result item,
// the same role the teacher's cmd/docgen plays for its own package: a
// minimal, runnable demonstration of the wiring, not business logic.
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
	"github.com/liranavivi/Design954-sub000/pkg/healthmonitor"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
	"github.com/liranavivi/Design954-sub000/pkg/processor"
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
		fmt.Fprintf(os.Stderr, "processor: %v\n", err)
		os.Exit(1)
	}
}

// passthroughActivity is the placeholder ActivityFunc for this entrypoint:
// it republishes its input data unchanged under the command's own
// identifiers, standing in for whatever business logic a real processor
// would supply.
func passthroughActivity(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error) {
	return []orchestdomain.ResultItem{{SerializedData: inputData}}, nil
}

func run(ctx context.Context) error {
	logger := logctx.New()

	cfg, err := appconfig.Load("config", []string{".", "/etc/processor"})
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

	validator := schemavalidate.New(schemavalidate.NoOpMetrics())

	runtime, err := processor.New(cfg.Processor, busClient, cacheClient, validator, passthroughActivity, logger, processor.NoOpMetrics())
	if err != nil {
		return fmt.Errorf("construct processor runtime: %w", err)
	}

	if err := runtime.Start(ctx); err != nil {
		return fmt.Errorf("start processor runtime: %w", err)
	}
	defer runtime.Stop()

	podID := cfg.Processor.CompositeKey() + "-" + os.Getenv("HOSTNAME")
	monitor, err := healthmonitor.New(cfg.Health, cacheClient, runtime, nil, func() (string, bool) {
		id := runtime.ProcessorID()
		return id, id != ""
	}, logger, healthmonitor.NoOpMetrics(), podID)
	if err != nil {
		return fmt.Errorf("construct health monitor: %w", err)
	}
	go monitor.Run(ctx)
	defer monitor.Stop()

	logger.Infof(logctx.Context{}, "processor %s started", cfg.Processor.CompositeKey())
	<-ctx.Done()
	logger.Infof(logctx.Context{}, "processor shutting down")
	return nil
}
