package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/web"
	"github.com/kozaktomas/memorybook/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the render server",
	Long: `Start the memorybook HTTP API.
Clients create generation jobs, follow their milestones over SSE and download
the finished documents. Jobs are persisted when DATABASE_URL is set, so they
can be listed and resumed after a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (default from WEB_PORT, 8080)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from WEB_HOST, 0.0.0.0)")
	serveCmd.Flags().String("photos", "", "Local photo directory (default: PhotoPrism)")
	serveCmd.Flags().String("provider", "", "AI provider: openai, gemini, ollama, none (default from AI_PROVIDER)")
}

// applyServeFlags lets explicit flags override the WEB_* settings.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyServeFlags(cmd, cfg)
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, buildOptions{
		photoDir: mustGetString(cmd, "photos"),
		provider: mustGetString(cmd, "provider"),
	}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.jobs != nil {
		fmt.Printf("Job persistence enabled (PostgreSQL)\n")
	} else {
		fmt.Printf("Job persistence disabled, jobs live until restart\n")
	}
	switch {
	case a.provider != nil:
		fmt.Printf("AI provider: %s\n", a.provider.Name())
	case !cfg.HasAI():
		fmt.Printf("No AI credentials configured, selection and stories use fallbacks\n")
	}
	if cfg.Web.APIToken == "" {
		fmt.Printf("Warning: WEB_API_TOKEN is not set, the API is open\n")
	}

	jobManager := handlers.NewJobManager(a.engine, a.jobs, logger)
	server := web.NewServer(cfg, jobManager, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting memorybook server on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
