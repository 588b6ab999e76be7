package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/faces"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Detect faces in candidate photos",
	Long: `Run the face detectors over the photos a render would consider and report
how many faces each source finds. Useful to check the PhotoPrism markers,
the PhotoPrism database and the embedding service before rendering.

Examples:
  # Faces in a PhotoPrism album (5 concurrent workers)
  memorybook faces --album aqx1b2c3

  # Local photos, print every box
  memorybook faces --photos ./holiday --verbose`,
	RunE: runFaces,
}

func init() {
	rootCmd.AddCommand(facesCmd)

	facesCmd.Flags().String("photos", "", "Local photo directory (default: PhotoPrism)")
	facesCmd.Flags().String("album", "", "Album UID, or a subdirectory with --photos")
	facesCmd.Flags().String("query", "", "Search query narrowing the photos")
	facesCmd.Flags().Int("limit", 50, "Limit number of photos to process")
	facesCmd.Flags().Int("concurrency", 5, "Number of parallel workers")
	facesCmd.Flags().Bool("verbose", false, "Print every face box")
}

type faceReport struct {
	photo compositor.PhotoAsset
	boxes []smartcrop.FaceBox
	err   error
}

func runFaces(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger(cfg)
	concurrency := mustGetInt(cmd, "concurrency")
	verbose := mustGetBool(cmd, "verbose")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := buildApp(ctx, cfg, buildOptions{photoDir: mustGetString(cmd, "photos"), provider: "none"}, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.faces == nil {
		return errors.New("no face source configured: set PHOTOPRISM_URL or EMBEDDING_URL")
	}

	photos, err := a.assets.List(ctx, compositor.AssetQuery{
		Album: mustGetString(cmd, "album"),
		Query: mustGetString(cmd, "query"),
		Limit: mustGetInt(cmd, "limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to list photos: %w", err)
	}
	if len(photos) == 0 {
		fmt.Println("No photos found")
		return nil
	}
	fmt.Printf("Photos to process: %d\n\n", len(photos))

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	// pixels are only needed when the embedding service is in the chain
	needPixels := cfg.Embedding.URL != ""
	reports := make([]faceReport, len(photos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency))
	for i, photo := range photos {
		g.Go(func() error {
			boxes, err := detectFaces(gctx, a, photo, needPixels)
			reports[i] = faceReport{photo: photo, boxes: boxes, err: err}
			_ = bar.Add(1)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println()

	var withFaces, total, failed int
	for _, r := range reports {
		switch {
		case r.err != nil:
			failed++
			fmt.Printf("  %s: error: %v\n", r.photo.ID, r.err)
		case len(r.boxes) > 0:
			withFaces++
			total += len(r.boxes)
			if verbose {
				fmt.Printf("  %s: %d faces\n", r.photo.ID, len(r.boxes))
				for _, b := range r.boxes {
					fmt.Printf("    x=%.3f y=%.3f w=%.3f h=%.3f confidence=%.2f\n", b.X, b.Y, b.W, b.H, b.Confidence)
				}
			}
		}
	}
	fmt.Printf("\nCompleted: %d photos, %d with faces, %d errors\n", len(photos), withFaces, failed)
	fmt.Printf("Faces detected: %d\n", total)
	return nil
}

func detectFaces(ctx context.Context, a *app, photo compositor.PhotoAsset, needPixels bool) ([]smartcrop.FaceBox, error) {
	ref := faces.Ref{ID: photo.ID}
	if needPixels {
		data, err := a.assets.Load(ctx, photo.ID)
		if err != nil {
			return nil, err
		}
		img, _, err := smartcrop.Decode(data)
		if err != nil {
			return nil, err
		}
		ref.Image = img
	}
	return a.faces.Detect(ctx, ref)
}
