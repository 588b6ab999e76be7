package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/memorybook/internal/ai"
	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/theme"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a memory book page set from photos",
	Long: `Select photos, lay them out with a theme and write the finished document.

Photos come from PhotoPrism (PHOTOPRISM_URL) or, with --photos, from a local
directory. The theme is a built-in theme ID or a YAML/JSON theme file.

Examples:
  # Three photos from a PhotoPrism album on the classic A4 page
  memorybook render --theme classic-a4 --album aqx1b2c3 --out book.pdf

  # Local photos on a postcard, also flattened to PNG
  memorybook render --theme polaroid-postcard --photos ./holiday --flatten --out card.pdf

  # A grid of 24 photos with a fixed story
  memorybook render --theme grid-a4 --photos ./holiday --count 24 --story "Summer 2025" --out grid.pdf`,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().String("theme", "", "Built-in theme ID or theme file (required)")
	renderCmd.Flags().String("photos", "", "Local photo directory (default: PhotoPrism)")
	renderCmd.Flags().String("album", "", "Album UID, or a subdirectory with --photos")
	renderCmd.Flags().String("query", "", "Search query narrowing the candidates")
	renderCmd.Flags().StringSlice("ids", nil, "Use exactly these photos (skips AI selection)")
	renderCmd.Flags().Int("count", 0, "Number of photos for grid themes (0 = fill one page)")
	renderCmd.Flags().String("story", "", "Fixed story text (skips AI story generation)")
	renderCmd.Flags().String("story-prompt", "", "Extra instructions for the AI story")
	renderCmd.Flags().Bool("flatten", false, "Also write the page as a single image")
	renderCmd.Flags().String("format", "png", "Flattened image format: png, jpeg")
	renderCmd.Flags().String("provider", "", "AI provider: openai, gemini, ollama, none (default from AI_PROVIDER)")
	renderCmd.Flags().Bool("no-faces", false, "Crop without face detection")
	renderCmd.Flags().String("out", "", "Output document path (required)")
	_ = renderCmd.MarkFlagRequired("theme")
	_ = renderCmd.MarkFlagRequired("out")
}

// resolveTheme turns a --theme value into request fields. Built-in themes
// are referenced by ID; files are sent inline.
func resolveTheme(req *compositor.Request, ref string) error {
	if _, ok := theme.Lookup(ref); ok {
		req.ThemeID = ref
		return nil
	}
	t, err := theme.Load(ref)
	if err != nil {
		return err
	}
	req.ThemeID = t.ID
	req.Theme = t
	return nil
}

func buildRenderRequest(cmd *cobra.Command) (compositor.Request, error) {
	req := compositor.Request{
		Count:       mustGetInt(cmd, "count"),
		Album:       mustGetString(cmd, "album"),
		Query:       mustGetString(cmd, "query"),
		PhotoIDs:    mustGetStringSlice(cmd, "ids"),
		Story:       mustGetString(cmd, "story"),
		StoryPrompt: mustGetString(cmd, "story-prompt"),
		Flatten:     mustGetBool(cmd, "flatten"),
	}
	if req.Count < 0 {
		return req, errors.New("--count must not be negative")
	}
	format, err := convert.ParseFormat(mustGetString(cmd, "format"))
	if err != nil {
		return req, err
	}
	req.Format = format
	if err := resolveTheme(&req, mustGetString(cmd, "theme")); err != nil {
		return req, err
	}
	return req, nil
}

// imagePath places the flattened image next to the document.
func imagePath(out string, format convert.Format) string {
	return strings.TrimSuffix(out, filepath.Ext(out)) + format.Extension()
}

// newMilestoneBar reports job milestones as a 0-100 bar.
func newMilestoneBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionFullWidth(),
	)
}

func milestoneProgress(bar *progressbar.ProgressBar) func(compositor.Milestone) {
	return func(m compositor.Milestone) {
		bar.Describe(m.Message)
		_ = bar.Set(m.Percent)
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	req, err := buildRenderRequest(cmd)
	if err != nil {
		return err
	}
	out := mustGetString(cmd, "out")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, cfg, buildOptions{
		photoDir: mustGetString(cmd, "photos"),
		provider: mustGetString(cmd, "provider"),
		noFaces:  mustGetBool(cmd, "no-faces"),
	}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	job := compositor.NewJob(req)
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("Theme: %s\n", req.ThemeID)
	if a.provider != nil {
		fmt.Printf("Provider: %s\n", a.provider.Name())
	} else {
		fmt.Println("Provider: none (first photos, no story)")
	}
	fmt.Println()

	bar := newMilestoneBar()
	arts, err := a.engine.Run(ctx, job, milestoneProgress(bar))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("rendering failed: %w", err)
	}

	if err := writeArtifacts(out, arts, req.Format); err != nil {
		return err
	}
	printJobResult(job, a.provider)
	return nil
}

func writeArtifacts(out string, arts *compositor.Artifacts, format convert.Format) error {
	if err := os.WriteFile(out, arts.Document, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	fmt.Printf("Document: %s\n", out)
	if arts.Image != nil {
		path := imagePath(out, format)
		if err := os.WriteFile(path, arts.Image, 0o644); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		fmt.Printf("Image: %s\n", path)
	}
	return nil
}

// printJobResult prints the export report and the AI cost.
func printJobResult(job *compositor.GenerationJob, provider ai.Provider) {
	if job.DocumentURL != "" {
		fmt.Printf("Published: %s\n", job.DocumentURL)
	}
	if job.ImageURL != "" {
		fmt.Printf("Published image: %s\n", job.ImageURL)
	}
	if job.SelectionReasoning != "" {
		fmt.Printf("\nSelection: %s\n", job.SelectionReasoning)
	}

	if rep := job.Report; rep != nil {
		fmt.Printf("\nPages: %d\n", rep.Pages)
		for _, s := range rep.Slots {
			fmt.Printf("  %s\n", describeSlot(s))
		}
		if len(rep.Warnings) > 0 {
			fmt.Println("\nWarnings:")
			for _, w := range rep.Warnings {
				fmt.Printf("  - %s\n", w)
			}
		}
	}

	if provider != nil {
		usage := provider.GetUsage()
		fmt.Printf("\nAI usage: %d input tokens, %d output tokens, $%.4f\n",
			usage.InputTokens, usage.OutputTokens, usage.TotalCost)
	}
}

func describeSlot(s compositor.SlotResult) string {
	prefix := fmt.Sprintf("page %d slot %d:", s.Page, s.Slot+1)
	switch {
	case s.Empty:
		return prefix + " empty"
	case s.Placeholder:
		return fmt.Sprintf("%s placeholder (%s)", prefix, s.Error)
	}
	line := fmt.Sprintf("%s %s %s/%s, %d faces, %.0f dpi", prefix, s.PhotoID, s.Strategy, s.Shape, s.Faces, s.EffectiveDPI)
	if s.LowRes {
		line += " LOW RES"
	}
	return line
}
