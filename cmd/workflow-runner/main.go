// Command workflow-runner is the long-running service that hosts the
// Workflow Interpreter, the Consumer Loop, and the Outbox Scheduler: it
// loads Config, opens the database and runs migrations, connects the
// broker Engine, and starts both the durable consumer subscription and the
// cron-driven outbox dispatch/cleanup loops until terminated. Grounded on
// the teacher's cmd/station entrypoint pattern (load config, open DB, run
// migrations, wire services, block on signal) adapted to this repo's own
// component set.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"workflowcore/internal/broker"
	"workflowcore/internal/config"
	"workflowcore/internal/consumer"
	"workflowcore/internal/db"
	"workflowcore/internal/definitions"
	"workflowcore/internal/expr"
	"workflowcore/internal/logging"
	"workflowcore/internal/outbox"
	"workflowcore/internal/runexec"
	"workflowcore/internal/runstate"
	"workflowcore/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars always apply)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("workflow-runner: load config: %v", err)
	}
	logging.Initialize(cfg.Debug)

	if err := run(cfg); err != nil {
		log.Fatalf("workflow-runner: %v", err)
	}
}

func run(cfg *config.Config) error {
	database, err := db.New(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logging.Info("workflow-runner: migrations applied (dialect=%s)", database.Dialect())

	engine, err := broker.NewEngine(broker.Options{
		Enabled:       cfg.Messaging.Enabled,
		URL:           cfg.Messaging.URL,
		Stream:        cfg.Messaging.Stream,
		SubjectPrefix: cfg.Messaging.SubjectPrefix,
		ConsumerName:  cfg.Messaging.ConsumerName,
		Embedded:      cfg.Messaging.Embedded,
		EmbeddedPort:  cfg.Messaging.EmbeddedPort,
	})
	if err != nil {
		return fmt.Errorf("start broker: %w", err)
	}
	defer engine.Close()

	defStore := definitions.NewStore(definitions.NewSQLRepository(database.Conn()))
	outboxStore := outbox.NewSQLStore(database.Conn(), string(database.Dialect()))
	instances := runstate.NewStore(database.Conn())
	dispatcher := &consumer.InstanceDispatcher{Outbox: outboxStore}
	publisher := &consumer.BrokerPublisher{Engine: engine}
	evaluator := expr.NewEvaluator()

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel, err = telemetry.New()
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
	}

	driver := runexec.NewDriver(runexec.Deps{
		Eval:       evaluator,
		Dispatcher: dispatcher,
		Publisher:  publisher,
	})

	loop := &consumer.Loop{
		Defs:      defStore,
		Outbox:    outboxStore,
		Engine:    engine,
		Driver:    driver,
		Instances: instances,
		Eval:      evaluator,
		Telemetry: tel,
	}

	// Two Scheduler instances drive independent cron cadences for wait-type
	// (timer/sub-workflow) resumption and retry-backoff resumption, per
	// spec.md §4.6's "independent timer loops" requirement. Both share the
	// same underlying outbox table and ClaimBatch query — a row is claimed
	// by whichever loop's poll reaches it first, a documented simplification
	// since the schema doesn't partition WAIT/RETRY rows into separate
	// claim pools (see DESIGN.md).
	redeliverer := &consumer.BrokerRedeliverer{Engine: engine}
	waitScheduler := outbox.NewScheduler(outboxStore, redeliverer, outbox.Config{
		DispatchCron:  cfg.Wait.Outbox.Every,
		CleanupCron:   cfg.Wait.Outbox.CleanupEvery,
		BatchSize:     cfg.Wait.Outbox.BatchSize,
		MaxRetries:    cfg.Wait.Outbox.MaxRetries,
		CleanupMaxAge: parseDurationOr(cfg.Wait.Outbox.CleanupMaxAge, 24*time.Hour),
	})
	retryScheduler := outbox.NewScheduler(outboxStore, redeliverer, outbox.Config{
		DispatchCron:  cfg.Retry.Outbox.Every,
		CleanupCron:   cfg.Retry.Outbox.CleanupEvery,
		BatchSize:     cfg.Retry.Outbox.BatchSize,
		MaxRetries:    cfg.Retry.Outbox.MaxRetries,
		CleanupMaxAge: parseDurationOr(cfg.Retry.Outbox.CleanupMaxAge, 24*time.Hour),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subjectPattern := fmt.Sprintf("%s.run.*.schedule", cfg.Messaging.SubjectPrefix)
	if err := loop.Start(ctx, subjectPattern, cfg.Messaging.ConsumerName); err != nil {
		return fmt.Errorf("start consumer loop: %w", err)
	}
	waitScheduler.Start()
	defer waitScheduler.Stop()
	retryScheduler.Start()
	defer retryScheduler.Stop()

	logging.Info("workflow-runner: started (env=%s, broker_enabled=%v)", cfg.Environment, cfg.Messaging.Enabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("workflow-runner: shutting down")
	return nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
