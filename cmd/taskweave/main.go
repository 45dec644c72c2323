// Copyright 2026 © The Taskweave Authors
// SPDX-License-Identifier: Apache-2.0

// Command taskweave runs the skill orchestration engine as an interactive
// chat loop over stdin, or as a one-shot prompt runner.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/taskweave/taskweave/pkg/calendar"
	"github.com/taskweave/taskweave/pkg/capability"
	"github.com/taskweave/taskweave/pkg/config"
	"github.com/taskweave/taskweave/pkg/disclosure"
	"github.com/taskweave/taskweave/pkg/engine"
	"github.com/taskweave/taskweave/pkg/executor"
	"github.com/taskweave/taskweave/pkg/feedback"
	"github.com/taskweave/taskweave/pkg/llm"
	"github.com/taskweave/taskweave/pkg/selector"
	"github.com/taskweave/taskweave/pkg/session"
	"github.com/taskweave/taskweave/pkg/slots"
	"github.com/taskweave/taskweave/pkg/telemetry"
)

const version = "v0.1.0"

type cliFlags struct {
	ConfigArgs  []string
	Prompt      string
	SessionID   string
	UserID      string
	Watch       bool
	NoTelemetry bool
	Help        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if flags.Help {
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(flags.ConfigArgs)
	if err != nil {
		fatal(fmt.Errorf("failed to load config: %w", err))
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if !flags.NoTelemetry && cfg.Telemetry.Exporter != "none" {
		shutdown, err := telemetry.InitWithConfig("taskweave", version, telemetry.Config{
			Exporter:     cfg.Telemetry.Exporter,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		})
		if err != nil {
			fatal(fmt.Errorf("failed to init telemetry: %w", err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
			}
		}()
	}

	eng, sel, slotEngine, sweeper, err := buildEngine(cfg, logger)
	if err != nil {
		fatal(err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Hot-reload tunables when the config file changes.
	var watcher *config.Watcher
	if flags.Watch {
		configPath := findConfigPath(flags.ConfigArgs)
		if configPath == "" {
			fmt.Fprintln(os.Stderr, "Warning: --watch needs --config <path>")
		} else {
			watcher, _, err = config.WatchConfig(ctx, configPath,
				config.WithWatchInterval(1*time.Second),
				config.WithWatchLogger(logger),
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not watch config: %v\n", err)
			} else {
				watcher.OnChange(func(newCfg *config.Config) {
					sel.SetFloorConfidence(newCfg.Selector.FloorConfidence)
					slotEngine.SetThreshold(newCfg.Slots.ConfidenceThreshold)
					logger.Info("config.reloaded",
						"floor_confidence", newCfg.Selector.FloorConfidence,
						"slot_threshold", newCfg.Slots.ConfidenceThreshold)
				})
				fmt.Printf("Watching config: %s\n", configPath)
			}
		}
	}
	defer func() {
		if watcher != nil {
			watcher.Stop()
		}
	}()

	sessionID := flags.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if flags.Prompt != "" {
		runSinglePrompt(ctx, eng, sessionID, flags.UserID, flags.Prompt)
		return
	}
	runREPL(ctx, eng, sessionID, flags.UserID, cfg)
}

// buildEngine assembles the full orchestration stack from config.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, *selector.Selector, *slots.Engine, *session.Sweeper, error) {
	registry := capability.NewRegistry()
	registry.Subscribe(func(ev capability.Event) {
		logger.Debug("registry.event", "type", string(ev.Type), "capability", ev.Capability)
	})

	specs, err := capability.LoadDir(cfg.Capabilities.Dir)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load capability pack %s: %w", cfg.Capabilities.Dir, err)
	}
	for _, spec := range specs {
		if err := registry.Register(spec); err != nil {
			return nil, nil, nil, nil, err
		}
	}
	logger.Info("capabilities.loaded", "dir", cfg.Capabilities.Dir, "count", len(specs))

	provider, err := createProvider(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	cal, err := createCalendarStore(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	sessionStore, err := createSessionStore(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sessions := session.NewManager(sessionStore, session.ManagerConfig{
		MaxHistory:  cfg.Session.MaxHistory,
		IdleTimeout: time.Duration(cfg.Session.IdleTimeoutMinutes) * time.Minute,
	})
	sweeper := session.NewSweeper(sessions,
		time.Duration(cfg.Session.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Session.IdleTimeoutMinutes)*time.Minute)

	dm := disclosure.NewManager()
	slotEngine := slots.NewEngine(slots.Config{
		ConfidenceThreshold: cfg.Slots.ConfidenceThreshold,
		MaxQuestionsPerTurn: cfg.Slots.MaxQuestionsPerTurn,
	})

	sel := selector.New(registry, dm, slotEngine, provider, selector.Config{
		FloorConfidence: cfg.Selector.FloorConfidence,
		LLMDeadline:     time.Duration(cfg.LLM.DeadlineSeconds) * time.Second,
		Model:           cfg.LLM.Model,
	})

	exec := executor.New(registry, executor.DefaultConfig())
	registerHandlers(exec, cal)

	loop := feedback.New(provider, cal, feedback.Config{
		MaxRecoveryAttempts: cfg.Feedback.MaxRecoveryAttempts,
		FreeSlotLimit:       cfg.Feedback.FreeSlotLimit,
		WorkdayStart:        cfg.Feedback.WorkdayStart,
		WorkdayEnd:          cfg.Feedback.WorkdayEnd,
		LLMDeadline:         time.Duration(cfg.LLM.DeadlineSeconds) * time.Second,
	})

	eng := engine.New(registry, sessions, sel, exec, loop, dm, engine.Config{
		TurnTimeout: time.Duration(cfg.Engine.TurnTimeoutSeconds) * time.Second,
	})
	return eng, sel, slotEngine, sweeper, nil
}

func createProvider(cfg *config.Config) (llm.Provider, error) {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "", "ollama":
		return llm.NewResilientProvider(llm.NewOllama(cfg.LLM.BaseURL, cfg.LLM.Model), nil), nil
	case "mock":
		return &llm.MockProvider{Response: "{}"}, nil
	case "none":
		// Deterministic paths only: keyword matching and slot extraction.
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLM.Provider)
	}
}

func createCalendarStore(cfg *config.Config) (calendar.Store, error) {
	switch strings.ToLower(cfg.Calendar.Store) {
	case "", "memory":
		return calendar.NewMemoryStore(), nil
	case "sqlite":
		return calendar.OpenSQLiteStore(cfg.Calendar.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown calendar store: %s", cfg.Calendar.Store)
	}
}

func createSessionStore(cfg *config.Config) (session.Store, error) {
	switch strings.ToLower(cfg.Session.Store) {
	case "", "memory":
		return session.NewInMemoryStore(), nil
	case "sqlite":
		return session.OpenSQLiteStore(cfg.Session.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown session store: %s", cfg.Session.Store)
	}
}

func runSinglePrompt(ctx context.Context, eng *engine.Engine, sessionID, userID, prompt string) {
	res, err := eng.HandleTurn(ctx, engine.TurnRequest{
		SessionID:   sessionID,
		UserID:      userID,
		Input:       prompt,
		CurrentDate: time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(res.Message)
}

func runREPL(ctx context.Context, eng *engine.Engine, sessionID, userID string, cfg *config.Config) {
	fmt.Printf("Taskweave %s\n", version)
	fmt.Printf("LLM: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Printf("Session: %s\n", sessionID)
	fmt.Println("Type 'exit' or Ctrl+C to quit.")
	fmt.Println("---")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}

		res, err := eng.HandleTurn(ctx, engine.TurnRequest{
			SessionID:   sessionID,
			UserID:      userID,
			Input:       input,
			CurrentDate: time.Now(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Println(res.Message)
	}
}

func parseFlags(args []string) (cliFlags, error) {
	var flags cliFlags

	next := func(i int) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("flag %s needs a value", args[i])
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config" || arg == "--profile" || arg == "--env" || arg == "--set":
			v, err := next(i)
			if err != nil {
				return flags, err
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, v)
			i++
		case strings.HasPrefix(arg, "--config=") || strings.HasPrefix(arg, "--profile=") ||
			strings.HasPrefix(arg, "--env=") || strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--prompt" || arg == "-p":
			v, err := next(i)
			if err != nil {
				return flags, err
			}
			flags.Prompt = v
			i++
		case arg == "--session":
			v, err := next(i)
			if err != nil {
				return flags, err
			}
			flags.SessionID = v
			i++
		case arg == "--user":
			v, err := next(i)
			if err != nil {
				return flags, err
			}
			flags.UserID = v
			i++
		case arg == "--watch":
			flags.Watch = true
		case arg == "--no-telemetry":
			flags.NoTelemetry = true
		case arg == "--help" || arg == "-h":
			flags.Help = true
		default:
			return flags, fmt.Errorf("unknown flag %q", arg)
		}
	}

	if flags.UserID == "" {
		flags.UserID = "local"
	}
	return flags, nil
}

func findConfigPath(configArgs []string) string {
	for i, arg := range configArgs {
		if arg == "--config" && i+1 < len(configArgs) {
			return configArgs[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

func printUsage() {
	fmt.Println(`taskweave - conversational skill orchestration engine

Usage:
  taskweave [flags]                 interactive chat
  taskweave --prompt "..."          one-shot prompt

Flags:
  --config <path>      config file (YAML)
  --profile <name>     config profile overlay (config.<name>.yaml)
  --set key=value      config override (repeatable)
  --prompt, -p <text>  run one prompt and exit
  --session <id>       session id (default: random)
  --user <id>          user id (default: local)
  --watch              hot-reload tunables on config change
  --no-telemetry       disable the otel exporters
  --help, -h           this help

Environment:
  TASKWEAVE_*                         config overrides (TASKWEAVE_LLM_PROVIDER, ...)
  TASKWEAVE_API_TOKEN_<CAPABILITY>    bearer token for api-executor capabilities`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "taskweave: %v\n", err)
	os.Exit(1)
}
