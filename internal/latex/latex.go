// Package latex serializes composed pages into a TikZ picture per page and
// compiles them to PDF with lualatex.
package latex

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/document"
	"github.com/kozaktomas/memorybook/internal/layout"
	"github.com/kozaktomas/memorybook/internal/textfit"
	"github.com/rs/zerolog"
)

//go:embed templates/page.tex
var templateFS embed.FS

// TemplateItem is a display-list item in TikZ coordinates: mm from the page
// bottom-left corner.
type TemplateItem struct {
	Kind       string
	X, Y, W, H float64
	CX, CY     float64
	Rotated    bool
	Angle      float64 // counter-clockwise, TikZ convention

	Fill        string
	FillOpacity float64 // 0 when opaque
	Stroke      string
	StrokeMM    float64
	// Stroke rectangle, inset by half the line width so the outline stays
	// inside the box.
	StrokeX, StrokeY, StrokeW, StrokeH float64

	FilePath string

	Lines     []string // escaped
	FontPt    float64
	LeadingPt float64
	Color     string
	Align     string
}

// TemplatePage holds the items of one page.
type TemplatePage struct {
	Number     int
	Background string
	Items      []TemplateItem
}

// TemplateData is the root data passed to the LaTeX template.
type TemplateData struct {
	Title string
	PageW float64
	PageH float64
	Pages []TemplatePage
}

const (
	defaultBinary = "lualatex"
	texName       = "memorybook.tex"
	pdfName       = "memorybook.pdf"
)

// Writer compiles documents with lualatex. TikZ rotates every primitive
// natively about its center, so items are never pre-rotated here.
type Writer struct {
	Binary string
	Logger zerolog.Logger
}

func NewWriter(binary string, logger zerolog.Logger) *Writer {
	if binary == "" {
		binary = defaultBinary
	}
	return &Writer{Binary: binary, Logger: logger}
}

func (w *Writer) ContentType() string { return "application/pdf" }

func (w *Writer) Extension() string { return ".pdf" }

// Write serializes doc and returns the PDF bytes.
func (w *Writer) Write(ctx context.Context, doc *document.Document) ([]byte, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return nil, errors.New("document has no pages")
	}
	tmpDir, err := os.MkdirTemp("", "memorybook-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	data, err := BuildTemplateData(doc, tmpDir)
	if err != nil {
		return nil, err
	}
	src, err := Render(data)
	if err != nil {
		return nil, err
	}
	w.Logger.Debug().Int("pages", len(data.Pages)).Int("bytes", len(src)).Msg("compiling document")
	return w.compile(ctx, src, tmpDir)
}

// BuildTemplateData converts the display list. Image items are written as
// PNG files into dir.
func BuildTemplateData(doc *document.Document, dir string) (TemplateData, error) {
	data := TemplateData{Title: latexEscape(doc.Title)}
	for pi, page := range doc.Pages {
		if pi == 0 {
			data.PageW, data.PageH = page.Size.W, page.Size.H
		}
		tp := TemplatePage{Number: page.Number, Background: tikzColor(opaque(page.Background))}
		for ii, it := range page.Items {
			ti, err := buildItem(it, page.Size.H)
			if err != nil {
				return TemplateData{}, fmt.Errorf("page %d item %d: %w", page.Number, ii, err)
			}
			if it.Kind == document.KindImage {
				path := filepath.Join(dir, fmt.Sprintf("p%03d-i%03d.png", pi+1, ii))
				if err := imaging.Save(it.Image, path); err != nil {
					return TemplateData{}, fmt.Errorf("failed to write image: %w", err)
				}
				ti.FilePath = path
			}
			tp.Items = append(tp.Items, ti)
		}
		data.Pages = append(data.Pages, tp)
	}
	return data, nil
}

func buildItem(it document.Item, pageH float64) (TemplateItem, error) {
	r := layout.ToRender(it.Box, pageH)
	ti := TemplateItem{
		Kind:    it.Kind.String(),
		X:       r.X,
		Y:       r.Y,
		W:       r.W,
		H:       r.H,
		CX:      r.X + r.W/2,
		CY:      r.Y + r.H/2,
		Rotated: it.Rotated(),
		Angle:   -it.Rotation,
	}

	switch it.Kind {
	case document.KindRect:
		if it.Fill.A > 0 {
			ti.Fill = tikzColor(it.Fill)
			if it.Fill.A < 255 {
				ti.FillOpacity = float64(it.Fill.A) / 255
			}
		}
		if it.StrokeMM > 0 && it.Stroke.A > 0 {
			half := it.StrokeMM / 2
			ti.Stroke = tikzColor(it.Stroke)
			ti.StrokeMM = it.StrokeMM
			ti.StrokeX, ti.StrokeY = r.X+half, r.Y+half
			ti.StrokeW, ti.StrokeH = math.Max(0, r.W-it.StrokeMM), math.Max(0, r.H-it.StrokeMM)
		}
	case document.KindImage:
		if it.Image == nil {
			return ti, errors.New("image item without image")
		}
	case document.KindText:
		if it.Text == nil {
			return ti, errors.New("text item without text")
		}
		ti.FontPt = layout.PxToPt(it.Text.FontSize)
		ti.LeadingPt = ti.FontPt * it.Text.LineHeight
		ti.Color = tikzColor(opaque(it.Color))
		ti.Align = "center"
		if it.Align != textfit.AlignCenter {
			ti.Align = "left"
		}
		for _, line := range it.Text.Lines {
			ti.Lines = append(ti.Lines, latexEscape(line))
		}
	default:
		return ti, fmt.Errorf("unknown item kind %s", it.Kind)
	}
	return ti, nil
}

func opaque(c color.NRGBA) color.NRGBA {
	c.A = 255
	return c
}

// tikzColor formats an xcolor RGB specification usable in TikZ options.
func tikzColor(c color.NRGBA) string {
	return fmt.Sprintf("{rgb,255:red,%d;green,%d;blue,%d}", c.R, c.G, c.B)
}

// formatMM prints a coordinate with at most three decimals.
func formatMM(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

// Render executes the page template.
func Render(data TemplateData) ([]byte, error) {
	funcMap := template.FuncMap{
		"mm":   formatMM,
		"join": func(lines []string) string { return strings.Join(lines, `\\`) },
	}
	tmpl, err := template.New("page.tex").Delims("<<", ">>").Funcs(funcMap).ParseFS(templateFS, "templates/page.tex")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// latexEscape escapes special LaTeX characters in user text.
func latexEscape(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\textbackslash{}`,
		`{`, `\{`,
		`}`, `\}`,
		`%`, `\%`,
		`&`, `\&`,
		`#`, `\#`,
		`$`, `\$`,
		`_`, `\_`,
		`^`, `\textasciicircum{}`,
		`~`, `\textasciitilde{}`,
	)
	return replacer.Replace(s)
}

// compile writes the source and runs lualatex, returning the PDF bytes.
func (w *Writer) compile(ctx context.Context, src []byte, tmpDir string) ([]byte, error) {
	texPath := filepath.Join(tmpDir, texName)
	if err := os.WriteFile(texPath, src, 0600); err != nil {
		return nil, fmt.Errorf("failed to write tex file: %w", err)
	}

	// Two passes: the second resolves remember picture positions.
	for pass := range 2 {
		cmd := exec.CommandContext(ctx, w.Binary, //nolint:gosec
			"-interaction=nonstopmode",
			"-output-directory="+tmpDir,
			texPath,
		)
		cmd.Dir = tmpDir
		output, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("%s pass %d failed: %w\n%s", w.Binary, pass+1, err, string(output))
		}
	}

	pdfData, err := os.ReadFile(filepath.Join(tmpDir, pdfName)) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	return pdfData, nil
}
