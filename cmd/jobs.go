package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/database/postgres"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage persisted generation jobs",
	Long: `List, inspect, resume and prune the generation jobs stored in PostgreSQL.
All subcommands require DATABASE_URL.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show the state and milestones of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Run an interrupted or failed job from where it stopped",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResume,
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runJobsPrune,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsResumeCmd)
	jobsCmd.AddCommand(jobsPruneCmd)

	jobsListCmd.Flags().Int("limit", 20, "Number of jobs to list")

	jobsResumeCmd.Flags().String("photos", "", "Local photo directory (default: PhotoPrism)")
	jobsResumeCmd.Flags().String("provider", "", "AI provider: openai, gemini, ollama, none (default from AI_PROVIDER)")
	jobsResumeCmd.Flags().String("out", "", "Also write the document to this path")

	jobsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete done and failed jobs not updated for this long")
}

func requireJobStore(cfg *config.Config) (database.JobWriter, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	return openJobStore(cfg, newLogger(cfg))
}

func runJobsList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	store, err := requireJobStore(cfg)
	if err != nil {
		return err
	}
	jobs, err := store.ListJobs(context.Background(), mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}
	fmt.Printf("%-36s  %-20s  %-18s  %4s  %s\n", "ID", "THEME", "STATE", "%", "UPDATED")
	for _, j := range jobs {
		fmt.Printf("%-36s  %-20s  %-18s  %4d  %s\n", j.ID, j.ThemeID, j.State, j.Percent, j.UpdatedAt.Format(time.DateTime))
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	store, err := requireJobStore(cfg)
	if err != nil {
		return err
	}
	stored, err := store.GetJob(context.Background(), args[0])
	if err != nil {
		return err
	}
	job, err := compositor.JobFromStored(stored)
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("Theme: %s\n", job.Request.ThemeID)
	fmt.Printf("State: %s (%d%%)\n", job.State, job.Percent())
	fmt.Printf("Created: %s\n", job.CreatedAt.Format(time.DateTime))
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	if len(job.SelectedIDs) > 0 {
		fmt.Printf("Photos: %v\n", job.SelectedIDs)
	}
	if len(job.Milestones) > 0 {
		fmt.Println("\nMilestones:")
		for _, m := range job.Milestones {
			fmt.Printf("  %s  %3d%%  %-18s %s\n", m.At.Format(time.TimeOnly), m.Percent, m.State, m.Message)
		}
	}
	printJobResult(job, nil)
	return nil
}

func runJobsResume(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	logger := newLogger(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, cfg, buildOptions{
		photoDir: mustGetString(cmd, "photos"),
		provider: mustGetString(cmd, "provider"),
	}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bar := newMilestoneBar()
	job, arts, err := a.engine.Resume(ctx, args[0], milestoneProgress(bar))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	if out := mustGetString(cmd, "out"); out != "" {
		if err := writeArtifacts(out, arts, job.Request.Format); err != nil {
			return err
		}
	}
	printJobResult(job, a.provider)
	return nil
}

func runJobsPrune(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if _, err := requireJobStore(cfg); err != nil {
		return err
	}
	olderThan := mustGetDuration(cmd, "older-than")
	repo := postgres.NewJobRepository(postgres.GetGlobalPool())
	n, err := repo.DeleteFinishedBefore(context.Background(), time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d jobs\n", n)
	return nil
}
