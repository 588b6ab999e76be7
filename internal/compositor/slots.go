package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/memorybook/internal/faces"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/matcher"
	"github.com/kozaktomas/memorybook/internal/shape"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
	"github.com/kozaktomas/memorybook/internal/textfit"
	"github.com/kozaktomas/memorybook/internal/theme"
)

// slotTask is one photo placement. Boxes are in layout space.
type slotTask struct {
	page     int // 0-based
	slot     int // slot index on the page
	outer    layout.Box
	inner    layout.Box
	caption  layout.Box // zero when the slot has no caption
	rotation float64
	shape    theme.Shape
	radius   float64
	border   float64 // px at 96 per inch
	borderC  theme.Color
	frame    theme.Color
	padded   bool
	photo    *PhotoAsset
}

// slotOutput is a rendered slot: the outer-box bitmap, or nothing for
// placeholders and empty slots.
type slotOutput struct {
	task   slotTask
	image  *image.NRGBA
	result SlotResult
}

// planSlots pairs the selected photos with slots.
func (r *run) planSlots() ([]slotTask, error) {
	if r.theme.IsGrid() {
		return r.planGrid(), nil
	}

	photoRatios := make([]float64, len(r.selected))
	for i, p := range r.selected {
		photoRatios[i] = matcher.AspectRatio(p.Width, p.Height, p.Orientation)
	}
	slotRatios := make([]float64, len(r.theme.Slots))
	for i, s := range r.theme.Slots {
		slotRatios[i] = s.AspectRatio()
	}
	pairs, err := matcher.Match(photoRatios, slotRatios)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAssets, err)
	}
	photoFor := make(map[int]int, len(pairs))
	for _, p := range pairs {
		photoFor[p.SlotIndex] = p.PhotoIndex
	}

	tasks := make([]slotTask, len(r.theme.Slots))
	for i, s := range r.theme.Slots {
		t := slotTask{
			slot:     i,
			outer:    s.OuterBox(),
			inner:    s.InnerBox(),
			rotation: s.Rotation,
			shape:    s.Shape,
			radius:   s.BorderRadiusPercent,
			border:   s.BorderWidth,
			borderC:  s.BorderColor.Or("#ffffff"),
			frame:    s.FrameColor.Or("#ffffff"),
			padded:   !s.FramePadding.IsZero(),
		}
		if s.Caption && s.FramePadding.Bottom > 0 {
			t.caption = layout.Box{X: t.outer.X, Y: t.inner.Y + t.inner.H, W: t.outer.W, H: s.FramePadding.Bottom}
		}
		if pi, ok := photoFor[i]; ok {
			t.photo = &r.selected[pi]
		}
		tasks[i] = t
	}
	return tasks, nil
}

// planGrid fills grid cells in order, page after page.
func (r *run) planGrid() []slotTask {
	cfg := r.gridConfig()
	cells := cfg.Cells(r.page)
	pages := layout.PageCount(len(r.selected), cfg.PerPage())
	captionH := 0.0
	if r.theme.Grid.Caption {
		captionH = r.captionBandMM()
	}

	var tasks []slotTask
	for i := range r.selected {
		page, idx := i/len(cells), i%len(cells)
		if page >= pages {
			break
		}
		cell := cells[idx]
		t := slotTask{
			page:  page,
			slot:  idx,
			outer: cell,
			inner: cell,
			shape: r.theme.Grid.Shape,
			photo: &r.selected[i],
		}
		if captionH > 0 && captionH < cell.H {
			t.inner.H -= captionH
			t.outer = t.inner
			t.caption = layout.Box{X: cell.X, Y: cell.Y + t.inner.H, W: cell.W, H: captionH}
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// captionBandMM is the height of a single caption line with padding.
func (r *run) captionBandMM() float64 {
	fs := r.theme.Font(theme.RoleCaption)
	px := layout.PtToPx(fs.Size)*fs.LineHeight + 2*textfit.CaptionProfile.Padding
	return layout.PxToMM(px) * 1.5
}

// renderSlots renders every slot on a bounded worker pool. A slot that
// fails becomes a placeholder; the job fails only when no photo could be
// placed at all.
func (r *run) renderSlots(ctx context.Context) (string, error) {
	tasks, err := r.planSlots()
	if err != nil {
		return "", err
	}

	outputs := make([]slotOutput, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.opts.Workers)
	for i, t := range tasks {
		g.Go(func() error {
			outputs[i] = r.renderSlot(gctx, t)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.slots = outputs

	var placed, placeholders, empty int
	for _, o := range outputs {
		switch {
		case o.result.Empty:
			empty++
		case o.result.Placeholder:
			placeholders++
			r.warn("slot %d on page %d: %s", o.result.Slot+1, o.result.Page, o.result.Error)
		default:
			placed++
			if o.result.LowRes {
				r.warn("slot %d on page %d: photo %s prints at %.0f dpi", o.result.Slot+1, o.result.Page, o.result.PhotoID, o.result.EffectiveDPI)
			}
		}
	}
	if placed == 0 {
		return "", fmt.Errorf("%w: no photo could be rendered (%d placeholders)", ErrNoAssets, placeholders)
	}
	msg := fmt.Sprintf("rendered %d slots", placed)
	if placeholders > 0 {
		msg += fmt.Sprintf(", %d placeholders", placeholders)
	}
	if empty > 0 {
		msg += fmt.Sprintf(", %d left empty", empty)
	}
	return msg, nil
}

func (r *run) renderSlot(ctx context.Context, t slotTask) slotOutput {
	out := slotOutput{task: t, result: SlotResult{Page: t.page + 1, Slot: t.slot}}
	if t.photo == nil {
		out.result.Empty = true
		return out
	}
	out.result.PhotoID = t.photo.ID

	img, res, err := r.shapePhoto(ctx, t, &out.result)
	if err != nil {
		r.logger.Warn().Err(err).Str("photo", t.photo.ID).Int("slot", t.slot).Msg("slot rendering failed, using a placeholder")
		out.result.Placeholder = true
		out.result.Error = err.Error()
		return out
	}
	out.result.Shape = res.Shape.String()
	out.image = r.frame(t, img)
	return out
}

// shapePhoto loads, crops and shapes the photo of t at the inner box size.
func (r *run) shapePhoto(ctx context.Context, t slotTask, result *SlotResult) (*image.NRGBA, shape.Result, error) {
	dpi := r.engine.opts.DPI
	var data []byte
	err := r.engine.call(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.engine.deps.Assets.Load(ctx, t.photo.ID)
		return err
	})
	if err != nil {
		return nil, shape.Result{}, fmt.Errorf("load photo %s: %w", t.photo.ID, err)
	}
	src, _, err := smartcrop.Decode(data)
	if err != nil {
		return nil, shape.Result{}, fmt.Errorf("decode photo %s: %w", t.photo.ID, err)
	}

	boxes := r.detectFaces(ctx, t.photo, src)
	result.Faces = len(boxes)

	w, h := layout.MMToDots(t.inner.W, dpi), layout.MMToDots(t.inner.H, dpi)
	cropper := &smartcrop.Cropper{Params: r.engine.opts.Crop, Fill: r.fill(), Logger: r.logger}
	cropped, err := cropper.Crop(src, w, h, boxes)
	if err != nil {
		return nil, shape.Result{}, fmt.Errorf("crop photo %s: %w", t.photo.ID, err)
	}
	result.Strategy = cropped.Strategy
	if cw := cropped.Plan.Crop.W; cw > 0 {
		result.EffectiveDPI = math.Round(layout.EffectiveDPI(cw, t.inner.W))
		result.LowRes = result.EffectiveDPI < r.engine.opts.LowResDPI
	}

	shaped, err := r.engine.shaper.Process(ctx, shape.Request{
		Ref:           t.photo.ID,
		Source:        src,
		Cropped:       cropped.Image,
		Shape:         t.shape,
		Width:         w,
		Height:        h,
		RadiusPercent: t.radius,
		BorderPx:      int(math.Round(t.border * dpi / layout.PixelsPerInch)),
		BorderColor:   t.borderC.NRGBA(1),
	})
	if err != nil {
		return nil, shape.Result{}, fmt.Errorf("shape photo %s: %w", t.photo.ID, err)
	}
	return shaped.Image, shaped, nil
}

// detectFaces prefers faces known from the asset source. Detector errors
// degrade to a crop without faces.
func (r *run) detectFaces(ctx context.Context, p *PhotoAsset, img image.Image) []smartcrop.FaceBox {
	if len(p.Faces) > 0 {
		return p.Faces
	}
	det := r.engine.deps.Faces
	if det == nil {
		return nil
	}
	var boxes []smartcrop.FaceBox
	err := r.engine.call(ctx, func(ctx context.Context) error {
		var err error
		boxes, err = det.Detect(ctx, faces.Ref{ID: p.ID, Image: img})
		return err
	})
	if err != nil {
		r.logger.Debug().Err(err).Str("photo", p.ID).Msg("face detection failed, cropping without faces")
		return nil
	}
	return boxes
}

// frame places the shaped photo on the frame of a padded slot.
func (r *run) frame(t slotTask, photo *image.NRGBA) *image.NRGBA {
	if !t.padded {
		return photo
	}
	dpi := r.engine.opts.DPI
	w, h := layout.MMToDots(t.outer.W, dpi), layout.MMToDots(t.outer.H, dpi)
	canvas := imaging.New(w, h, t.frame.NRGBA(1))
	pos := image.Pt(layout.MMToDots(t.inner.X-t.outer.X, dpi), layout.MMToDots(t.inner.Y-t.outer.Y, dpi))
	return imaging.Overlay(canvas, photo, pos, 1)
}

// fill is the opaque page color used for crop extensions.
func (r *run) fill() color.NRGBA {
	bg := r.theme.Background
	return bg.Fill().Opaque(bg.Alpha())
}

// limitedRecommender puts shape recommendations under the engine's rate
// limit and per-call timeout.
type limitedRecommender struct {
	next   shape.Recommender
	engine *Engine
}

func (l limitedRecommender) Recommend(ctx context.Context, req shape.RecommendRequest) (*shape.Recommendation, error) {
	var rec *shape.Recommendation
	err := l.engine.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = l.next.Recommend(ctx, req)
		return err
	})
	return rec, err
}
