package compositor

import (
	"context"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/document"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/textfit"
	"github.com/kozaktomas/memorybook/internal/theme"
)

var (
	placeholderFill   = color.NRGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff}
	placeholderStroke = color.NRGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
)

const (
	placeholderLabel    = "photo unavailable"
	placeholderStrokeMM = 0.3
)

// assemblePages builds the display list. Items on a page are drawn in this
// order: background image, border, slots, captions, story, footer.
func (r *run) assemblePages(_ context.Context) (string, error) {
	pageCount := 1
	if r.theme.IsGrid() {
		pageCount = max(1, layout.PageCount(len(r.selected), r.gridConfig().PerPage()))
	}

	bg := r.theme.Background
	doc := &document.Document{Title: r.theme.Name}
	for n := range pageCount {
		p := document.NewPage(n+1, r.page, bg.Fill().Opaque(bg.Alpha()))
		if r.background != nil {
			p.Add(document.Image(layout.Box{W: r.page.W, H: r.page.H}, r.background, 0, color.NRGBA{}, -1))
		}
		if b := r.theme.Border; b.Width > 0 {
			box := layout.Box{X: b.Offset, Y: b.Offset, W: r.page.W - 2*b.Offset, H: r.page.H - 2*b.Offset}
			p.Add(document.Outline(box, b.Color.Or("#000000").NRGBA(1), b.Width))
		}
		doc.Pages = append(doc.Pages, p)
	}

	for _, o := range r.slots {
		if o.task.page < len(doc.Pages) {
			doc.Pages[o.task.page].Add(r.slotItems(o)...)
		}
	}
	for _, o := range r.slots {
		if o.task.page >= len(doc.Pages) || o.result.Empty {
			continue
		}
		if it, ok := r.captionItem(o); ok {
			doc.Pages[o.task.page].Add(it)
		}
	}
	if r.theme.Story != nil && r.job.Story != "" {
		if it, ok := r.textItem(r.theme.Story.Box(), r.job.Story, theme.RoleStory, textfit.StoryProfile, textfit.AlignLeft); ok {
			doc.Pages[0].Add(it)
		}
	}
	if r.theme.Footer.Enabled() {
		for _, p := range doc.Pages {
			if it, ok := r.textItem(r.footerBox(), r.footerText(p.Number), theme.RoleFooter, textfit.CaptionProfile, textfit.AlignCenter); ok {
				p.Add(it)
			}
		}
	}

	r.doc = doc
	items := 0
	for _, p := range doc.Pages {
		items += len(p.Items)
	}
	return fmt.Sprintf("assembled %d pages with %d items", len(doc.Pages), items), nil
}

// slotItems draws a rendered slot or its placeholder.
func (r *run) slotItems(o slotOutput) []document.Item {
	t := o.task
	switch {
	case o.result.Empty:
		return nil
	case o.image != nil:
		return []document.Item{document.Image(t.outer, o.image, t.rotation, r.corner(), t.slot)}
	}

	fill := document.Rect(t.outer, placeholderFill)
	fill.Rotation = t.rotation
	fill.Slot = t.slot
	stroke := document.Outline(t.outer, placeholderStroke, placeholderStrokeMM)
	stroke.Rotation = t.rotation
	stroke.Slot = t.slot
	items := []document.Item{fill, stroke}
	if label, ok := r.textItem(t.outer, placeholderLabel, theme.RoleCaption, textfit.CaptionProfile, textfit.AlignCenter); ok {
		label.Color = placeholderStroke
		items = append(items, label)
	}
	return items
}

// captionItem places the photo text in the caption band of the slot,
// turned with the slot around the slot center.
func (r *run) captionItem(o slotOutput) (document.Item, bool) {
	t := o.task
	if t.caption == (layout.Box{}) || t.photo == nil {
		return document.Item{}, false
	}
	it, ok := r.textItem(t.caption, t.photo.Text(), theme.RoleCaption, textfit.CaptionProfile, textfit.AlignCenter)
	if !ok {
		return it, false
	}
	if t.rotation != 0 {
		cx, cy := t.outer.Center()
		it.Box = rotateAbout(it.Box, cx, cy, t.rotation)
		it.Rotation = t.rotation
	}
	return it, true
}

// textItem fits text into box with the theme font of role. Sizes in the
// theme are points; the fitter works in px.
func (r *run) textItem(box layout.Box, text string, role theme.Role, base textfit.Profile, align textfit.Align) (document.Item, bool) {
	if strings.TrimSpace(text) == "" || box.W <= 0 || box.H <= 0 {
		return document.Item{}, false
	}
	fs := r.theme.Font(role)
	prof := base.WithStart(layout.PtToPx(fs.Size), fs.LineHeight)
	block := prof.Fit(text, layout.MMToPx(box.W), layout.MMToPx(box.H))
	if len(block.Lines) == 0 {
		return document.Item{}, false
	}
	pad := layout.PxToMM(prof.Padding)
	inner := box.Inset(layout.Insets{Top: pad, Right: pad, Bottom: pad, Left: pad})
	return document.Text(inner, &block, fs.Color.NRGBA(1), align), true
}

// footerBox is the footer band: the grid footer zone, or a band above the
// bottom edge inside the border offset.
func (r *run) footerBox() layout.Box {
	if r.theme.IsGrid() {
		return r.gridConfig().FooterBox(r.page)
	}
	h := r.theme.FooterHeight()
	off := r.theme.Border.Offset
	return layout.Box{X: off, Y: r.page.H - off - h, W: r.page.W - 2*off, H: h}
}

func (r *run) footerText(page int) string {
	f := r.theme.Footer
	var parts []string
	if f.Text != "" {
		parts = append(parts, f.Text)
	}
	if f.PageNumbers {
		parts = append(parts, strconv.Itoa(page))
	}
	return strings.Join(parts, " - ")
}

// corner is the fill of corners exposed by pre-rotation: the page color on
// flat pages, transparent over a background image.
func (r *run) corner() color.NRGBA {
	if r.background != nil {
		return color.NRGBA{}
	}
	return r.fill()
}

// rotateAbout moves b so its center turns deg clockwise around (cx, cy).
// Layout space grows downwards, so clockwise keeps the usual matrix.
func rotateAbout(b layout.Box, cx, cy, deg float64) layout.Box {
	bx, by := b.Center()
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	dx, dy := bx-cx, by-cy
	nx := cx + dx*cos - dy*sin
	ny := cy + dx*sin + dy*cos
	return layout.Box{X: nx - b.W/2, Y: ny - b.H/2, W: b.W, H: b.H}
}

// finalize serializes the document, flattens single pages on request and
// publishes the artifacts.
func (r *run) finalize(ctx context.Context) (*Artifacts, string, error) {
	w := r.engine.deps.Writer
	data, err := w.Write(ctx, r.doc)
	if err != nil {
		return nil, "", fmt.Errorf("write document: %w", err)
	}
	arts := &Artifacts{Document: data, DocumentType: w.ContentType()}

	format := r.job.Request.Format
	if format == "" {
		format = convert.FormatPNG
	}
	if r.job.Request.Flatten {
		r.flatten(ctx, arts, format)
	}
	r.job.Report = r.report()

	if err := r.publish(ctx, arts, w.Extension(), format); err != nil {
		return nil, "", err
	}
	msg := fmt.Sprintf("%d page document written", len(r.doc.Pages))
	if arts.Image != nil {
		msg += " with a flattened image"
	}
	return arts, msg, nil
}

// flatten renders the single page into an image. It is skipped with a
// warning for multi-page documents.
func (r *run) flatten(ctx context.Context, arts *Artifacts, format convert.Format) {
	if n := len(r.doc.Pages); n != 1 {
		r.warn("flattening needs a single page, the document has %d", n)
		return
	}
	if r.engine.deps.Flattener == nil {
		r.warn("no flattener configured, skipping the flattened image")
		return
	}
	img, err := r.engine.deps.Flattener.Flatten(ctx, r.doc.Pages[0], format)
	if err != nil {
		r.warn("flattening failed: %v", err)
		return
	}
	arts.Image = img
	arts.ImageType = format.ContentType()
}

func (r *run) publish(ctx context.Context, arts *Artifacts, docExt string, format convert.Format) error {
	store := r.engine.deps.Store
	if store == nil {
		return nil
	}
	url, err := store.Put(ctx, fmt.Sprintf("jobs/%s/book%s", r.job.ID, docExt), arts.Document, arts.DocumentType)
	if err != nil {
		return fmt.Errorf("publish document: %w", err)
	}
	r.job.DocumentURL = url
	if arts.Image != nil {
		url, err := store.Put(ctx, fmt.Sprintf("jobs/%s/page%s", r.job.ID, format.Extension()), arts.Image, arts.ImageType)
		if err != nil {
			return fmt.Errorf("publish image: %w", err)
		}
		r.job.ImageURL = url
	}
	return nil
}

func (r *run) report() *Report {
	rep := &Report{Pages: len(r.doc.Pages), Warnings: r.warnings}
	for _, o := range r.slots {
		rep.Slots = append(rep.Slots, o.result)
	}
	return rep
}
