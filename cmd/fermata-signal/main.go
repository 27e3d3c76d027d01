// Package main provides a one-shot CLI for publishing signals and execution
// requests onto the event bus, useful for operations and local testing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/fermata-dev/fermata/pkg/cmd"
	"github.com/fermata-dev/fermata/pkg/eventbus"
	"github.com/fermata-dev/fermata/pkg/events"
	"github.com/fermata-dev/fermata/pkg/log"
	"github.com/fermata-dev/fermata/pkg/models"
	"github.com/fermata-dev/fermata/pkg/workflow"
)

func main() {
	logger := log.WithModule("signal")

	command := &cli.Command{
		Name:                  "fermata-signal",
		Usage:                 "Publish signals and execution requests onto the event bus",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "dispatch",
				Usage: "Dispatch a signal to whatever is waiting on it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Signal name; defaults to the resume signal when --run-id is set",
					},
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "Run ID to resume",
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "Signal payload as a JSON document",
					},
					&cli.StringFlag{
						Name:  "workflow-id",
						Usage: "Workflow ID the signal belongs to",
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.Root().String("log-level"))

					name := command.String("name")
					runID := command.String("run-id")

					if name == "" {
						if runID == "" {
							return errors.New("either --name or --run-id is required")
						}

						name = workflow.ResumeSignalName(runID)
					}

					payload, err := parsePayload(command.String("payload"))
					if err != nil {
						return err
					}

					signal := models.Signal{
						Name:       name,
						Payload:    payload,
						WorkflowID: command.String("workflow-id"),
					}

					if runID != "" {
						signal.Metadata = map[string]any{"run_id": runID}
					}

					event := events.SignalDispatched{
						BaseEvent: events.NewBaseEvent(events.SignalDispatchedEvent, signal.WorkflowID),
						Signal:    signal,
					}

					if err := publish(ctx, command, name, event); err != nil {
						return err
					}

					logger.InfoContext(ctx, "Signal dispatched", "signal", name)

					return nil
				},
			},
			{
				Name:  "request",
				Usage: "Request execution of a named workflow",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "workflow",
						Usage:    "Workflow name to execute",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "input",
						Usage: "Run input as a JSON object",
					},
					&cli.StringFlag{
						Name:  "config",
						Usage: "Runner configuration as a JSON object",
					},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.Root().String("log-level"))

					workflowName := command.String("workflow")

					input, err := parseObject(command.String("input"))
					if err != nil {
						return fmt.Errorf("invalid --input: %w", err)
					}

					config, err := parseObject(command.String("config"))
					if err != nil {
						return fmt.Errorf("invalid --config: %w", err)
					}

					event := events.ExecutionRequested{
						BaseEvent:    events.NewBaseEvent(events.WorkflowExecutionRequestedEvent, ""),
						WorkflowName: workflowName,
						Input:        input,
						Config:       config,
					}

					if err := event.Validate(); err != nil {
						return err
					}

					if err := publish(ctx, command, workflowName, event); err != nil {
						return err
					}

					logger.InfoContext(ctx, "Execution requested", "workflow_name", workflowName)

					return nil
				},
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func publish(ctx context.Context, command *cli.Command, key string, event eventbus.Event) error {
	logger := log.WithModule("signal")

	eventBus, err := cmd.NewEventBus(command.Root().String("event-bus"), "fermata-signal", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	return eventBus.Publish(ctx, key, event)
}

func parsePayload(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Not JSON, treat it as a plain string payload.
		return raw, nil
	}

	return payload, nil
}

func parseObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(raw), &object); err != nil {
		return nil, err
	}

	return object, nil
}
