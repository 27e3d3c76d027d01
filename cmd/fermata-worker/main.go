package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/fermata-dev/fermata/pkg/cmd"
	"github.com/fermata-dev/fermata/pkg/executor"
	"github.com/fermata-dev/fermata/pkg/log"
	"github.com/fermata-dev/fermata/pkg/otelhelper"
	"github.com/fermata-dev/fermata/pkg/registry"
)

func main() {
	command := &cli.Command{
		Name:                  "fermata-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes workflows and relays signals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for run persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "mailbox",
				Usage:   "Signal mailbox backend (async, console)",
				Value:   "async",
				Sources: cli.EnvVars("MAILBOX_BACKEND"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing runner plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry tracing",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("fermata-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Fermata worker")

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "fermata-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			// Signal dispatches need to reach every worker, not one consumer
			// out of a shared group; only the worker hosting the paused run
			// has a waiter for the signal. A per-instance consumer group
			// turns the relay subscription into a broadcast.
			signalBus := eventBus

			if command.String("event-bus") == "kafka" {
				signalBus, err = cmd.NewEventBus("kafka", "fermata-worker-"+workerID, logger)
				if err != nil {
					return err
				}

				defer func() {
					if err := signalBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close signal bus", "error", err)
					}
				}()
			}

			store, err := cmd.NewPersistence(ctx, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			mb, err := cmd.NewMailbox(command.String("mailbox"), logger)
			if err != nil {
				return err
			}

			execOpts := []executor.Option{}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "fermata-worker")
				if err != nil {
					return err
				}

				execOpts = append(execOpts, executor.WithTracer(tracer))
			}

			exec := executor.NewExecutor(mb, logger, execOpts...)

			runners := registry.NewRegistry(logger)
			if err := runners.LoadPlugins(command.String("plugins-path")); err != nil {
				logger.WarnContext(ctx, "Failed to load runner plugins", "error", err)
			}

			worker := NewWorkerManager(workerID, exec, eventBus, signalBus, store, runners, logger)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
