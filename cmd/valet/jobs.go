package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/valet/internal/config"
	"github.com/haasonsaas/valet/internal/cron"
)

func buildJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage scheduled jobs",
	}
	cmd.AddCommand(buildJobsListCmd(), buildJobsRemoveCmd(), buildJobsAddCmd())
	return cmd
}

func openJobStore() (*cron.SQLiteStore, error) {
	cfg := config.Load()
	return cron.NewSQLiteStore(filepath.Join(cfg.DataDir, "jobs.db"))
}

func buildJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJobStore()
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.List(context.Background())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}
			for _, job := range jobs {
				fmt.Printf("%s\t%s\t%s\t%s\n", job.ID, job.TriggerType, job.JobType, job.Description)
			}
			return nil
		},
	}
}

func buildJobsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJobStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Remove(context.Background(), args[0])
		},
	}
}

func buildJobsAddCmd() *cobra.Command {
	var (
		description string
		triggerType string
		triggerArgs string
		jobType     string
		jobArgs     string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Persist a new scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openJobStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if !json.Valid([]byte(triggerArgs)) || !json.Valid([]byte(jobArgs)) {
				return fmt.Errorf("trigger-args and job-args must be valid JSON")
			}

			scheduler, err := cron.NewScheduler(store)
			if err != nil {
				return err
			}
			job := &cron.Job{
				Description: description,
				TriggerType: cron.TriggerType(triggerType),
				TriggerArgs: json.RawMessage(triggerArgs),
				JobType:     cron.JobType(jobType),
				JobArgs:     json.RawMessage(jobArgs),
			}
			if err := scheduler.AddJob(context.Background(), job); err != nil {
				return err
			}
			fmt.Println(job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Job description")
	cmd.Flags().StringVar(&triggerType, "trigger", "date", "Trigger type: date, cron, or interval")
	cmd.Flags().StringVar(&triggerArgs, "trigger-args", "{}", "Trigger arguments as JSON")
	cmd.Flags().StringVar(&jobType, "type", "notification", "Job type: notification, assistant, or workflow")
	cmd.Flags().StringVar(&jobArgs, "job-args", "{}", "Job arguments as JSON")
	return cmd
}
