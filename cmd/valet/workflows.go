package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/valet/internal/audit"
	"github.com/haasonsaas/valet/internal/config"
	"github.com/haasonsaas/valet/internal/tools"
	"github.com/haasonsaas/valet/internal/workflow"
)

func buildWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and run workflows",
	}
	cmd.AddCommand(buildWorkflowsListCmd(), buildWorkflowsRunCmd())
	return cmd
}

func loadWorkflowManager(cfg *config.Config) (*workflow.Manager, error) {
	logger := slog.Default()
	sanitizer := tools.NewSanitizer(cfg.DataDir)
	perms := tools.NewPermissionManager(nil, cfg.AutoApproveReads, audit.Nop(), logger)
	registry := tools.NewRegistry(perms, sanitizer, audit.Nop(), logger)
	engine := workflow.NewEngine(workflow.RegistryExecutor(registry, "workflow", nil), nil, logger)
	manager := workflow.NewManager(filepath.Join(cfg.DataDir, "workflows"), engine, logger)
	if err := manager.Load(); err != nil {
		return nil, err
	}
	return manager, nil
}

func buildWorkflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadWorkflowManager(config.Load())
			if err != nil {
				return err
			}
			defs := manager.List()
			if len(defs) == 0 {
				fmt.Println("no workflows")
				return nil
			}
			for _, def := range defs {
				state := "enabled"
				if !def.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s\t%s\t%d steps\t%s\n", def.Name, state, len(def.Steps), def.Description)
			}
			return nil
		},
	}
}

func buildWorkflowsRunCmd() *cobra.Command {
	var contextJSON string
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a workflow by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadWorkflowManager(config.Load())
			if err != nil {
				return err
			}

			workflowCtx := map[string]any{}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &workflowCtx); err != nil {
					return fmt.Errorf("invalid context: %w", err)
				}
			}

			results, err := manager.Run(cmd.Context(), args[0], workflowCtx)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&contextJSON, "context", "", "Workflow context as JSON")
	return cmd
}
