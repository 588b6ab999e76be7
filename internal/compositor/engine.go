package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/document"
	"github.com/kozaktomas/memorybook/internal/faces"
	"github.com/kozaktomas/memorybook/internal/fingerprint"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/shape"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
	"github.com/kozaktomas/memorybook/internal/storage"
	"github.com/kozaktomas/memorybook/internal/theme"
)

// ErrJobFinished is returned when a finished job is run again.
var ErrJobFinished = errors.New("job already finished")

// Options tune the pipeline. Zero values take the defaults.
type Options struct {
	DPI                 float64
	Workers             int
	CollaboratorRPS     float64
	CollaboratorTimeout time.Duration
	JobTimeout          time.Duration
	LowResDPI           float64
	StoryWords          int
	CandidateLimit      int
	SelectorThumbnails  int // thumbnails sent to the selector, 0 disables them
	DuplicateDistance   int // hash distance of near-duplicate thumbnails, negative disables
	Crop                smartcrop.Params
}

// DefaultOptions returns print-quality settings.
func DefaultOptions() Options {
	return Options{
		DPI:                 300,
		Workers:             4,
		CollaboratorRPS:     4,
		CollaboratorTimeout: 30 * time.Second,
		JobTimeout:          10 * time.Minute,
		LowResDPI:           200,
		StoryWords:          120,
		CandidateLimit:      200,
		SelectorThumbnails:  24,
		DuplicateDistance:   fingerprint.DefaultThreshold,
		Crop:                smartcrop.DefaultParams(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.DPI <= 0 {
		o.DPI = def.DPI
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.CollaboratorRPS <= 0 {
		o.CollaboratorRPS = def.CollaboratorRPS
	}
	if o.CollaboratorTimeout <= 0 {
		o.CollaboratorTimeout = def.CollaboratorTimeout
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = def.JobTimeout
	}
	if o.LowResDPI <= 0 {
		o.LowResDPI = def.LowResDPI
	}
	if o.StoryWords <= 0 {
		o.StoryWords = def.StoryWords
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = def.CandidateLimit
	}
	if o.DuplicateDistance == 0 {
		o.DuplicateDistance = def.DuplicateDistance
	}
	if o.Crop == (smartcrop.Params{}) {
		o.Crop = def.Crop
	}
	return o
}

// Deps are the collaborators of the engine. Only Assets and Writer are
// required; every other collaborator is skipped when nil.
type Deps struct {
	Assets      AssetLoader
	Selector    PhotoSelector
	Stories     StoryGenerator
	Backgrounds BackgroundGenerator
	Faces       faces.Detector
	Recommender shape.Recommender
	Writer      DocumentWriter
	Flattener   Flattener
	Store       storage.Store
	Jobs        database.JobWriter
}

// Engine runs generation jobs. It is safe for concurrent use; all jobs
// share one collaborator rate limit.
type Engine struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	shaper  *shape.Processor
	logger  zerolog.Logger
}

// Artifacts are the serialized outputs of a finished job.
type Artifacts struct {
	Document     []byte
	DocumentType string
	Image        []byte
	ImageType    string
}

func New(deps Deps, opts Options, logger zerolog.Logger) (*Engine, error) {
	if deps.Assets == nil {
		return nil, errors.New("compositor: asset loader is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("compositor: document writer is required")
	}
	opts = opts.withDefaults()
	e := &Engine{
		deps:    deps,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.CollaboratorRPS), max(1, int(opts.CollaboratorRPS))),
		logger:  logger.With().Str("component", "compositor").Logger(),
	}
	var rec shape.Recommender
	if deps.Recommender != nil {
		rec = limitedRecommender{next: deps.Recommender, engine: e}
	}
	e.shaper = shape.NewProcessor(rec, e.logger)
	return e, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// call runs fn under the shared rate limit and the per-call timeout.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, e.opts.CollaboratorTimeout)
	defer cancel()
	return fn(cctx)
}

// Resume loads a persisted job and runs it from where it stopped.
func (e *Engine) Resume(ctx context.Context, id string, progress func(Milestone)) (*GenerationJob, *Artifacts, error) {
	if e.deps.Jobs == nil {
		return nil, nil, errors.New("no job store configured")
	}
	stored, err := e.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	job, err := JobFromStored(stored)
	if err != nil {
		return nil, nil, err
	}
	arts, err := e.Run(ctx, job, progress)
	return job, arts, err
}

// Run drives job through every remaining state. progress, when set, is
// called once per completed state from the calling goroutine. On failure
// the job ends in StateFailed with its error recorded.
func (e *Engine) Run(ctx context.Context, job *GenerationJob, progress func(Milestone)) (*Artifacts, error) {
	if job.State == StateDone {
		return nil, fmt.Errorf("%w: %s", ErrJobFinished, job.ID)
	}
	if job.State == StateFailed || job.State == "" {
		job.State = StateSelectingPhotos
		job.Error = ""
		job.Milestones = slices.DeleteFunc(job.Milestones, func(m Milestone) bool { return m.State == StateFailed })
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.JobTimeout)
	defer cancel()

	r := &run{
		engine:   e,
		job:      job,
		progress: progress,
		logger:   e.logger.With().Str("job", job.ID).Logger(),
	}
	arts, err := r.execute(ctx)
	if err != nil {
		r.fail(ctx, err)
		return nil, err
	}
	return arts, nil
}

type stage struct {
	state State
	run   func(ctx context.Context) (string, error)
}

// run is the state of one Run call.
type run struct {
	engine   *Engine
	job      *GenerationJob
	progress func(Milestone)
	logger   zerolog.Logger

	theme      *theme.Theme
	page       layout.PageSize
	selected   []PhotoAsset
	slots      []slotOutput
	warnings   []string
	background image.Image // nil for flat fills
	doc        *document.Document
}

func (r *run) execute(ctx context.Context) (*Artifacts, error) {
	if err := r.prepare(ctx); err != nil {
		return nil, err
	}

	var arts *Artifacts
	stages := []stage{
		{StateSelectingPhotos, r.selectPhotos},
		{StateGeneratingStory, r.generateStory},
		{StatePreparingBackground, r.prepareBackground},
		{StateRenderingSlots, r.renderSlots},
		{StateAssemblingPages, r.assemblePages},
		{StateFinalizing, func(ctx context.Context) (string, error) {
			var msg string
			var err error
			arts, msg, err = r.finalize(ctx)
			return msg, err
		}},
	}
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", st.state, err)
		}
		r.job.State = st.state
		msg, err := st.run(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.state, err)
		}
		r.complete(ctx, st.state, msg)
	}
	r.job.State = StateDone
	r.complete(ctx, StateDone, "book ready")
	return arts, nil
}

// prepare resolves the theme and the candidate pool.
func (r *run) prepare(ctx context.Context) error {
	t, err := r.resolveTheme()
	if err != nil {
		return err
	}
	r.theme = t
	if r.page, err = t.Page(); err != nil {
		return fmt.Errorf("%w: %w", ErrLayout, err)
	}
	r.job.RequiredCount = r.requiredCount()
	if r.job.RequiredCount == 0 {
		return fmt.Errorf("%w: theme %q has no photo slots", ErrLayout, t.ID)
	}

	if len(r.job.Candidates) > 0 {
		return nil
	}
	q := AssetQuery{
		Album: r.job.Request.Album,
		Query: r.job.Request.Query,
		Limit: max(r.engine.opts.CandidateLimit, r.job.RequiredCount),
	}
	switch {
	case len(r.job.Request.PhotoIDs) > 0:
		q.IDs = r.job.Request.PhotoIDs
	case len(r.job.SelectedIDs) > 0:
		// a resumed job only needs the photos it already picked
		q.IDs = r.job.SelectedIDs
	}
	candidates, err := r.engine.deps.Assets.List(ctx, q)
	if err != nil {
		if errors.Is(err, ErrCredentials) {
			return err
		}
		return fmt.Errorf("%w: list photos: %w", ErrNoAssets, err)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: the photo source returned no candidates", ErrNoAssets)
	}
	r.job.Candidates = candidates
	return nil
}

func (r *run) resolveTheme() (*theme.Theme, error) {
	if t := r.job.Request.Theme; t != nil {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLayout, err)
		}
		return t, nil
	}
	t, err := theme.Load(r.job.Request.ThemeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLayout, err)
	}
	return t, nil
}

// requiredCount is the slot count of a themed layout, or the requested
// photo count of a grid capped at MaxGridPages pages.
func (r *run) requiredCount() int {
	if !r.theme.IsGrid() {
		return len(r.theme.Slots)
	}
	perPage := r.gridConfig().PerPage()
	want := r.job.Request.Count
	if want <= 0 {
		want = perPage
	}
	limit := perPage * layout.MaxGridPages
	if want > limit {
		r.warnings = append(r.warnings, fmt.Sprintf("requested %d photos, grid is capped at %d", want, limit))
		want = limit
	}
	return want
}

func (r *run) gridConfig() layout.GridConfig {
	return r.theme.Grid.Config(r.theme.FooterHeight())
}

// complete records the milestone of a finished state. States completed by
// an earlier run are not reported again.
func (r *run) complete(ctx context.Context, state State, msg string) {
	for _, m := range r.job.Milestones {
		if m.State == state {
			return
		}
	}
	m := Milestone{State: state, Percent: state.Percent(), Message: msg, At: time.Now()}
	r.emit(ctx, m)
}

func (r *run) emit(ctx context.Context, m Milestone) {
	r.job.Milestones = append(r.job.Milestones, m)
	r.logger.Info().Str("state", string(m.State)).Int("percent", m.Percent).Msg(m.Message)
	if r.progress != nil {
		r.progress(m)
	}
	r.save(ctx)
}

// fail moves the job to StateFailed at the percent it had reached.
func (r *run) fail(ctx context.Context, err error) {
	ctx = context.WithoutCancel(ctx)
	r.job.State = StateFailed
	r.job.Error = err.Error()
	r.logger.Error().Err(err).Msg("job failed")
	r.emit(ctx, Milestone{State: StateFailed, Percent: r.job.Percent(), Message: err.Error(), At: time.Now()})
}

// save persists the job. Persistence errors do not stop the pipeline.
func (r *run) save(ctx context.Context) {
	if r.engine.deps.Jobs == nil {
		return
	}
	stored, err := r.job.Stored()
	if err == nil {
		err = r.engine.deps.Jobs.SaveJob(ctx, stored)
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to persist job")
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Warn().Msg(msg)
	r.warnings = append(r.warnings, msg)
}
