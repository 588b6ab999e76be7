package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/faces"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

var cropCmd = &cobra.Command{
	Use:   "crop",
	Short: "Crop a single photo around its faces",
	Long: `Crop one image file to an exact pixel size, keeping every detected face
in frame with headroom above the topmost face. JPEG output keeps the EXIF
metadata of the source.

Examples:
  # Square avatar, faces from the embedding service (EMBEDDING_URL)
  memorybook crop --in family.jpg --width 600 --height 600 --out avatar.jpg

  # Plain center crop
  memorybook crop --in family.jpg --width 1200 --height 800 --faces none --out wide.png`,
	RunE: runCrop,
}

func init() {
	rootCmd.AddCommand(cropCmd)

	cropCmd.Flags().String("in", "", "Source image (required)")
	cropCmd.Flags().Int("width", 0, "Target width in pixels (required)")
	cropCmd.Flags().Int("height", 0, "Target height in pixels (required)")
	cropCmd.Flags().String("faces", "auto", "Face detection: auto, none")
	cropCmd.Flags().String("out", "", "Output image, .jpg or .png (required)")
	_ = cropCmd.MarkFlagRequired("in")
	_ = cropCmd.MarkFlagRequired("width")
	_ = cropCmd.MarkFlagRequired("height")
	_ = cropCmd.MarkFlagRequired("out")
}

func runCrop(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	width := mustGetInt(cmd, "width")
	height := mustGetInt(cmd, "height")
	if width <= 0 || height <= 0 {
		return errors.New("--width and --height must be positive")
	}
	mode := mustGetString(cmd, "faces")
	if mode != "auto" && mode != "none" {
		return fmt.Errorf("unknown --faces mode %q (supported: auto, none)", mode)
	}
	out := mustGetString(cmd, "out")
	format, err := convert.ParseFormat(out)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(mustGetString(cmd, "in"))
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, meta, err := smartcrop.Decode(data)
	if err != nil {
		return err
	}

	var boxes []smartcrop.FaceBox
	if mode == "auto" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Render.CollaboratorTimeout)
		detector := faces.MinConfidence{
			Next:      faces.NewEmbeddingDetector(cfg.Embedding.URL, &http.Client{}),
			Threshold: minFaceConfidence,
		}
		boxes, err = detector.Detect(ctx, faces.Ref{ID: mustGetString(cmd, "in"), Image: img})
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("face detection failed, cropping without faces")
		}
	}
	fmt.Printf("Faces: %d\n", len(boxes))

	cropper := smartcrop.NewCropper(logger)
	cropper.Params = cropParams(cfg.Crop)
	res, err := cropper.Crop(img, width, height, boxes)
	if err != nil {
		return fmt.Errorf("crop: %w", err)
	}

	var encoded []byte
	if format == convert.FormatJPEG {
		var buf bytes.Buffer
		if err := smartcrop.EncodeJPEG(&buf, res.Image, meta, 92); err != nil {
			return err
		}
		encoded = buf.Bytes()
	} else {
		encoded, err = convert.Encode(res.Image, format, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		if err != nil {
			return err
		}
	}
	if err := os.WriteFile(out, encoded, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	b := img.Bounds()
	fmt.Printf("Source: %dx%d\n", b.Dx(), b.Dy())
	fmt.Printf("Strategy: %s\n", res.Strategy)
	if res.Strategy != smartcrop.StrategyFill {
		c := res.Plan.Crop
		fmt.Printf("Crop: x=%d y=%d w=%d h=%d", c.X, c.Y, c.W, c.H)
		if c.Extended {
			fmt.Printf(" (extended to %dx%d)", c.CanvasW, c.CanvasH)
		}
		if res.Plan.Lenient {
			fmt.Print(" lenient")
		}
		fmt.Println()
	}
	fmt.Printf("Output: %s (%dx%d)\n", out, width, height)
	return nil
}
