package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/valet/internal/agent"
	"github.com/haasonsaas/valet/internal/agent/providers"
	"github.com/haasonsaas/valet/internal/audit"
	"github.com/haasonsaas/valet/internal/config"
	"github.com/haasonsaas/valet/internal/cron"
	"github.com/haasonsaas/valet/internal/gateway"
	"github.com/haasonsaas/valet/internal/multiagent"
	"github.com/haasonsaas/valet/internal/notify"
	"github.com/haasonsaas/valet/internal/sessions"
	"github.com/haasonsaas/valet/internal/tools"
	"github.com/haasonsaas/valet/internal/watcher"
	"github.com/haasonsaas/valet/internal/workflow"
	"github.com/haasonsaas/valet/pkg/models"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Audit, sanitisation, and permissions back the tool registry.
	auditLog, err := audit.NewLogger(filepath.Join(cfg.DataDir, "audit.jsonl"), logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	sanitizer := tools.NewSanitizer(cfg.DataDir)
	perms := tools.NewPermissionManager(nil, cfg.AutoApproveReads, auditLog, logger)
	registry := tools.NewRegistry(perms, sanitizer, auditLog, logger)

	router := buildRouter(cfg, logger)

	// Notification fabric. Transports register their sinks; the log sink is
	// always present so headless runs stay observable.
	var dispatcherOpts []notify.Option
	if cfg.DNDEnabled {
		window, err := notify.ParseWindow(cfg.DNDStart + "-" + cfg.DNDEnd)
		if err != nil {
			return fmt.Errorf("invalid DND window: %w", err)
		}
		window.AllowUrgent = cfg.DNDAllowUrgent
		dispatcherOpts = append(dispatcherOpts, notify.WithWindow(window))
	}
	dispatcher := notify.NewDispatcher(append(dispatcherOpts, notify.WithLogger(logger))...)
	dispatcher.AddSink(func(message string) error {
		logger.Info("notification", "message", message)
		return nil
	})

	sessionMgr := sessions.NewManager(cfg.MaxContextMessages)

	// Sub-agents.
	if cfg.AgentsEnabled {
		loader := multiagent.NewLoader(filepath.Join(cfg.DataDir, "agents"), logger)
		if err := loader.Load(); err != nil {
			return fmt.Errorf("load agents: %w", err)
		}
		runner := multiagent.NewRunner(router, registry, "", logger)
		orchestrator := multiagent.NewOrchestrator(loader, runner, nil, logger)
		orchestrator.RegisterTools(registry)
	}

	// Workflows execute through the registry so permissions and audit apply.
	engine := workflow.NewEngine(workflow.RegistryExecutor(registry, "workflow", nil), nil, logger)
	workflows := workflow.NewManager(filepath.Join(cfg.DataDir, "workflows"), engine, logger)
	if err := workflows.Load(); err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}

	// Scheduler.
	var scheduler *cron.Scheduler
	if cfg.SchedulerEnabled {
		store, err := cron.NewSQLiteStore(filepath.Join(cfg.DataDir, "jobs.db"))
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		defer store.Close()

		scheduler, err = cron.NewScheduler(store,
			cron.WithLogger(logger),
			cron.WithTimezone(cfg.SchedulerTimezone),
			cron.WithMessageSender(cron.MessageSenderFunc(func(ctx context.Context, message string, urgent bool) error {
				dispatcher.Send(message, urgent)
				return nil
			})),
			cron.WithAssistantRunner(assistantRunner(cfg, router, registry, sessionMgr)),
			cron.WithWorkflowRunner(cron.WorkflowRunnerFunc(func(ctx context.Context, name string, workflowCtx map[string]any) (string, error) {
				results, err := workflows.Run(ctx, name, workflowCtx)
				if err != nil {
					return "", err
				}
				return workflow.Summarize(name, results), nil
			})),
		)
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	// File monitor.
	if cfg.WatchdogEnabled && len(cfg.WatchdogPaths) > 0 {
		monitor, err := watcher.NewMonitor(func(message string) {
			dispatcher.Send(message, false)
		}, watcher.WithDebounce(cfg.WatchdogDebounce()), watcher.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("create file monitor: %w", err)
		}
		defer monitor.Close()
		for _, path := range cfg.WatchdogPaths {
			if err := monitor.AddPath(path); err != nil {
				logger.Warn("watch path skipped", "path", path, "error", err)
			}
		}
	}

	// HTTP gateway: health, metrics, webhooks.
	var workflowSvc gateway.WorkflowService
	if cfg.WebhookEnabled {
		workflowSvc = workflows
	}
	server := gateway.NewServer(gateway.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Version:       version,
		WebhookSecret: cfg.WebhookSecret,
	}, workflowSvc, dispatcher, gateway.NewMetrics(), logger)
	if err := server.Start(); err != nil {
		return err
	}

	logger.Info("valet started", "data_dir", cfg.DataDir, "model", cfg.Model)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown error", "error", err)
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler shutdown error", "error", err)
		}
	}
	return nil
}

// buildRouter registers the provider adapters that have credentials present.
func buildRouter(cfg *config.Config, logger *slog.Logger) *agent.Router {
	router := agent.NewRouter("anthropic", cfg.Model, agent.WithRouterLogger(logger))

	apiKey := cfg.AnthropicAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		key := apiKey
		router.RegisterProvider("anthropic", func() (agent.Provider, error) {
			return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key, DefaultModel: cfg.Model})
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		router.RegisterProvider("openai", func() (agent.Provider, error) {
			return providers.NewOpenAIProvider(providers.OpenAIConfig{APIKey: key})
		})
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		router.RegisterProvider("bedrock", func() (agent.Provider, error) {
			return providers.NewBedrockProvider(providers.BedrockConfig{Region: region})
		})
	}
	return router
}

// assistantRunner adapts the router and registry into the scheduler's
// assistant-job contract.
func assistantRunner(cfg *config.Config, router *agent.Router, registry *tools.Registry, sessionMgr *sessions.Manager) cron.AssistantRunner {
	return cron.AssistantRunnerFunc(func(ctx context.Context, sessionID, prompt string) (string, error) {
		sessionMgr.GetOrCreate(sessionID)
		userMsg := models.Message{Role: models.RoleUser, Content: prompt}
		sessionMgr.Append(sessionID, userMsg)

		events, err := router.StreamWithToolLoop(ctx, agent.LoopOptions{
			Model:     cfg.Model,
			Messages:  sessionMgr.History(sessionID),
			Tools:     registry.Specs(),
			Execute:   registry.Executor(sessionID, nil),
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return "", err
		}

		var text strings.Builder
		var response string
		for ev := range events {
			switch ev.Type {
			case agent.EventTextDelta:
				text.WriteString(ev.Text)
			case agent.EventMessageComplete:
				response = ev.Text
			case agent.EventError:
				return "", ev.Err
			}
		}
		if response == "" {
			response = text.String()
		}
		sessionMgr.Append(sessionID, models.Message{Role: models.RoleAssistant, Content: response})
		return response, nil
	})
}
