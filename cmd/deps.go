package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/ai"
	"github.com/kozaktomas/memorybook/internal/assets"
	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/database/mariadb"
	"github.com/kozaktomas/memorybook/internal/database/postgres"
	"github.com/kozaktomas/memorybook/internal/faces"
	"github.com/kozaktomas/memorybook/internal/latex"
	"github.com/kozaktomas/memorybook/internal/photoprism"
	"github.com/kozaktomas/memorybook/internal/shape"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
	"github.com/kozaktomas/memorybook/internal/storage"
	"github.com/kozaktomas/memorybook/internal/textfit"
)

const (
	// minFaceConfidence drops marker boxes PhotoPrism itself is unsure about.
	minFaceConfidence = 0.3
	// collaboratorCacheTTL bounds how long face and shape answers are reused.
	collaboratorCacheTTL = 30 * time.Minute
)

// providerNames lists the supported AI providers in preference order.
var providerNames = []string{"openai", "gemini", "ollama"}

// resolveProvider picks the provider: the flag, then AI_PROVIDER, then the
// first one with credentials. Empty means no AI.
func resolveProvider(cfg *config.Config, flag string) string {
	if name := strings.ToLower(strings.TrimSpace(flag)); name != "" {
		return name
	}
	if cfg.AI.Provider != "" {
		return cfg.AI.Provider
	}
	switch {
	case cfg.OpenAI.Token != "":
		return "openai"
	case cfg.Gemini.APIKey != "":
		return "gemini"
	case cfg.Ollama.URL != "":
		return "ollama"
	}
	return ""
}

func standardPricing(cfg *config.Config, model string) ai.RequestPricing {
	p := cfg.GetModelPricing(model)
	return ai.RequestPricing{Input: p.Standard.Input, Output: p.Standard.Output}
}

// newProvider creates the named AI provider. "none" and "" disable AI.
func newProvider(ctx context.Context, cfg *config.Config, name string) (ai.Provider, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		return ai.NewOpenAIProvider(cfg.OpenAI.Token, standardPricing(cfg, "gpt-4.1-mini")), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		p, err := ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey,
			standardPricing(cfg, "gemini-2.5-flash"),
			standardPricing(cfg, "gemini-2.5-flash-image"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return p, nil
	case "ollama":
		if cfg.Ollama.URL == "" {
			return nil, errors.New("OLLAMA_URL environment variable is required")
		}
		return ai.NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: %s, none)", name, strings.Join(providerNames, ", "))
	}
}

// cropParams maps the CROP_* settings onto the cropper parameters.
func cropParams(c config.CropConfig) smartcrop.Params {
	return smartcrop.Params{
		FacePadding:         c.FacePadding,
		MismatchThreshold:   c.MismatchThreshold,
		LenientTolerance:    c.LenientTolerance,
		TopBufferRatio:      c.TopBufferRatio,
		MinTopBufferPx:      c.MinTopBufferPx,
		TopHalfBoost:        c.TopHalfBoost,
		MaxSideBufferPx:     c.MaxSideBufferPx,
		SmallTargetPx:       c.SmallTargetPx,
		SmallTopMarginRatio: c.SmallTopMarginRatio,
		SmallTopMarginMinPx: c.SmallTopMarginMinPx,
	}
}

func engineOptions(cfg *config.Config) compositor.Options {
	opts := compositor.DefaultOptions()
	opts.DPI = cfg.Render.DPI
	opts.Workers = cfg.Render.Workers
	opts.CollaboratorRPS = cfg.Render.CollaboratorRPS
	opts.CollaboratorTimeout = cfg.Render.CollaboratorTimeout
	opts.JobTimeout = cfg.Render.JobTimeout
	opts.LowResDPI = cfg.Render.LowResDPI
	if !cfg.Render.SkipDuplicates {
		opts.DuplicateDistance = -1
	}
	opts.Crop = cropParams(cfg.Crop)
	return opts
}

// loadFont returns the first TTF file of dir, or nil for the Go fonts.
func loadFont(dir string) ([]byte, error) {
	if dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.ttf"))
	if err != nil {
		return nil, fmt.Errorf("font directory: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no .ttf file in %s", dir)
	}
	slices.Sort(matches)
	return os.ReadFile(matches[0])
}

// app holds the wired collaborators of one command run.
type app struct {
	engine   *compositor.Engine
	assets   compositor.AssetLoader
	faces    faces.Detector
	provider ai.Provider
	pp       *photoprism.PhotoPrism
	jobs     database.JobWriter
	closers  []func()
}

func (rt *app) Close() {
	for _, c := range slices.Backward(rt.closers) {
		c()
	}
}

// buildOptions select the sources of an app.
type buildOptions struct {
	photoDir string // local photo directory, PhotoPrism when empty
	provider string
	noFaces  bool
}

// buildApp wires the engine from the environment. The caller must
// Close the returned app.
func buildApp(ctx context.Context, cfg *config.Config, opts buildOptions, logger zerolog.Logger) (*app, error) {
	rt := &app{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	deps := compositor.Deps{}

	loader, err := rt.newAssets(ctx, cfg, opts.photoDir)
	if err != nil {
		return nil, err
	}
	deps.Assets = loader
	rt.assets = loader

	provider, err := newProvider(ctx, cfg, resolveProvider(cfg, opts.provider))
	if err != nil {
		return nil, err
	}
	if provider != nil {
		rt.provider = provider
		deps.Selector = provider
		deps.Stories = provider
		deps.Recommender = shape.NewCachedRecommender(provider, collaboratorCacheTTL)
		if bg, isBG := provider.(compositor.BackgroundGenerator); isBG {
			deps.Backgrounds = bg
		}
		logger.Debug().Str("provider", provider.Name()).Msg("AI provider ready")
	}

	if !opts.noFaces {
		rt.faces = rt.newFaceDetector(cfg, logger)
		if rt.faces != nil {
			deps.Faces = rt.faces
		}
	}

	deps.Writer = latex.NewWriter(cfg.Render.LatexBinary, logger)

	ttf, err := loadFont(cfg.Render.FontDir)
	if err != nil {
		return nil, err
	}
	text, err := textfit.NewRenderer(ttf, cfg.Render.Supersample)
	if err != nil {
		return nil, err
	}
	deps.Flattener = convert.NewRasterizer(cfg.Render.DPI, text, logger)

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("artifact storage: %w", err)
	}
	deps.Store = store

	if cfg.Database.URL != "" {
		jobs, err := openJobStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		rt.jobs = jobs
		deps.Jobs = jobs
	}

	engine, err := compositor.New(deps, engineOptions(cfg), logger)
	if err != nil {
		return nil, err
	}
	rt.engine = engine
	ok = true
	return rt, nil
}

func (rt *app) newAssets(ctx context.Context, cfg *config.Config, dir string) (compositor.AssetLoader, error) {
	if dir != "" {
		return assets.NewDir(dir)
	}
	if cfg.PhotoPrism.URL == "" {
		return nil, errors.New("PHOTOPRISM_URL environment variable is required (or pass a photo directory)")
	}
	pp, err := photoprism.NewPhotoPrism(ctx, cfg.PhotoPrism.URL, cfg.PhotoPrism.Username, cfg.PhotoPrism.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to PhotoPrism: %w", compositor.ErrCredentials, err)
	}
	rt.pp = pp
	rt.closers = append(rt.closers, func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pp.Logout(logoutCtx)
	})
	return assets.NewPhotoPrism(pp), nil
}

// newFaceDetector chains the face sources from cheapest to most expensive:
// the PhotoPrism index database, PhotoPrism markers, then the embedding
// service.
func (rt *app) newFaceDetector(cfg *config.Config, logger zerolog.Logger) faces.Detector {
	var chain faces.Chain
	if rt.pp != nil && cfg.PhotoPrism.DatabaseURL != "" {
		pool, err := mariadb.NewPool(cfg.PhotoPrism.DatabaseURL)
		if err != nil {
			logger.Warn().Err(err).Msg("PhotoPrism database unavailable, using the API for face markers")
		} else {
			rt.closers = append(rt.closers, func() { _ = pool.Close() })
			chain = append(chain, faces.DatabaseDetector{Store: pool})
		}
	}
	if rt.pp != nil {
		chain = append(chain, faces.PhotoPrismDetector{Source: rt.pp})
	}
	if cfg.Embedding.URL != "" {
		client := &http.Client{Timeout: cfg.Render.CollaboratorTimeout}
		chain = append(chain, faces.NewEmbeddingDetector(cfg.Embedding.URL, client))
	}
	if len(chain) == 0 {
		return nil
	}
	filtered := faces.MinConfidence{Next: faces.Dedupe{Next: chain}, Threshold: minFaceConfidence}
	return faces.NewCached(filtered, collaboratorCacheTTL)
}

// openJobStore connects PostgreSQL, runs the migrations and returns the
// job repository.
func openJobStore(cfg *config.Config, logger zerolog.Logger) (database.JobWriter, error) {
	if !database.IsInitialized() {
		if err := postgres.Initialize(&cfg.Database, logger); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
	}
	return database.GetJobWriter(context.Background())
}
