// Package theme loads declarative page layouts: page size, background,
// borders, fonts and the slots photos are placed into. All spatial fields
// are in millimeters with the origin at the top-left of the page.
package theme

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/kozaktomas/memorybook/internal/layout"
	"gopkg.in/yaml.v3"
)

// Role names a text style.
type Role string

const (
	RoleStory   Role = "story"
	RoleCaption Role = "caption"
	RoleFooter  Role = "footer"
)

// BackgroundType selects how the page background is produced.
type BackgroundType string

const (
	BackgroundSolid     BackgroundType = "solid"
	BackgroundWhite     BackgroundType = "white"
	BackgroundFlat      BackgroundType = "flat"
	BackgroundGenerated BackgroundType = "generated"
)

// NeedsImage reports whether the background is an image from the background
// generator rather than a flat fill.
func (t BackgroundType) NeedsImage() bool {
	return t == BackgroundGenerated
}

type Theme struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	PageSize    string             `yaml:"pageSize" json:"pageSize"`
	Orientation string             `yaml:"orientation,omitempty" json:"orientation,omitempty"`
	Background  Background         `yaml:"background" json:"background"`
	Border      Border             `yaml:"border,omitempty" json:"border,omitempty"`
	Fonts       map[Role]FontStyle `yaml:"fonts,omitempty" json:"fonts,omitempty"`
	Slots       []Slot             `yaml:"slots,omitempty" json:"slots,omitempty"`
	Story       *Region            `yaml:"story,omitempty" json:"story,omitempty"`
	Grid        *Grid              `yaml:"grid,omitempty" json:"grid,omitempty"`
	Footer      Footer             `yaml:"footer,omitempty" json:"footer,omitempty"`
}

type Background struct {
	Color   Color          `yaml:"color" json:"color"`
	Opacity *float64       `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Type    BackgroundType `yaml:"type,omitempty" json:"type,omitempty"`
	Prompt  string         `yaml:"prompt,omitempty" json:"prompt,omitempty"` // extra hint for generated backgrounds
}

// Alpha returns the declared opacity, 1 when unset.
func (b Background) Alpha() float64 {
	if b.Opacity == nil {
		return 1
	}
	return *b.Opacity
}

// Fill returns the opaque color used for flat fills, rotation corners and
// flattening transparent shapes.
func (b Background) Fill() Color {
	if b.Type == BackgroundWhite {
		return "#ffffff"
	}
	return b.Color.Or("#ffffff")
}

// Border is a page frame drawn Offset mm inside the page edge.
type Border struct {
	Width  float64 `yaml:"width" json:"width"`
	Offset float64 `yaml:"offset" json:"offset"`
	Color  Color   `yaml:"color,omitempty" json:"color,omitempty"`
}

// FontStyle sizes are in points.
type FontStyle struct {
	Size       float64 `yaml:"size" json:"size"`
	Color      Color   `yaml:"color,omitempty" json:"color,omitempty"`
	LineHeight float64 `yaml:"lineHeight,omitempty" json:"lineHeight,omitempty"`
}

type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

type Size struct {
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// Slot is a region that receives one photo. Size is the inner content size;
// Position is the top-left corner of the outer box (content plus padding).
type Slot struct {
	Position            Point         `yaml:"position" json:"position"`
	Size                Size          `yaml:"size" json:"size"`
	Rotation            float64       `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	FramePadding        layout.Insets `yaml:"framePadding,omitempty" json:"framePadding,omitempty"`
	FrameColor          Color         `yaml:"frameColor,omitempty" json:"frameColor,omitempty"`
	Shape               Shape         `yaml:"shape,omitempty" json:"shape,omitempty"`
	BorderRadiusPercent float64       `yaml:"borderRadiusPercent,omitempty" json:"borderRadiusPercent,omitempty"`
	BorderWidth         float64       `yaml:"borderWidth,omitempty" json:"borderWidth,omitempty"` // px at render resolution
	BorderColor         Color         `yaml:"borderColor,omitempty" json:"borderColor,omitempty"`
	Caption             bool          `yaml:"caption,omitempty" json:"caption,omitempty"`
}

// OuterBox returns the slot's outer box in layout space.
func (s Slot) OuterBox() layout.Box {
	return layout.OuterBox(s.Position.X, s.Position.Y, s.Size.W, s.Size.H, s.FramePadding)
}

// InnerBox returns the photo content box in layout space.
func (s Slot) InnerBox() layout.Box {
	return s.OuterBox().Inset(s.FramePadding)
}

// AspectRatio of the content box.
func (s Slot) AspectRatio() float64 {
	if s.Size.H <= 0 {
		return 0
	}
	return s.Size.W / s.Size.H
}

// Region is a text area on the page.
type Region struct {
	Position Point `yaml:"position" json:"position"`
	Size     Size  `yaml:"size" json:"size"`
}

func (r Region) Box() layout.Box {
	return layout.Box{X: r.Position.X, Y: r.Position.Y, W: r.Size.W, H: r.Size.H}
}

// Grid turns the theme into a grid layout: photos fill cells in order over
// as many pages as needed.
type Grid struct {
	Columns int     `yaml:"columns" json:"columns"`
	Rows    int     `yaml:"rows" json:"rows"`
	Gap     float64 `yaml:"gap,omitempty" json:"gap,omitempty"`
	Margin  float64 `yaml:"margin,omitempty" json:"margin,omitempty"`
	Shape   Shape   `yaml:"shape,omitempty" json:"shape,omitempty"`
	Caption bool    `yaml:"caption,omitempty" json:"caption,omitempty"`
}

// Config converts the grid into the layout grid model.
func (g Grid) Config(footerMM float64) layout.GridConfig {
	cfg := layout.DefaultGridConfig()
	cfg.Columns = g.Columns
	cfg.Rows = g.Rows
	if g.Gap > 0 {
		cfg.GapMM = g.Gap
	}
	if g.Margin > 0 {
		cfg.MarginMM = g.Margin
	}
	cfg.FooterMM = footerMM
	return cfg
}

type Footer struct {
	Text        string  `yaml:"text,omitempty" json:"text,omitempty"`
	PageNumbers bool    `yaml:"pageNumbers,omitempty" json:"pageNumbers,omitempty"`
	Height      float64 `yaml:"height,omitempty" json:"height,omitempty"`
}

// Enabled reports whether anything is drawn in the footer.
func (f Footer) Enabled() bool {
	return f.Text != "" || f.PageNumbers
}

var defaultFonts = map[Role]FontStyle{
	RoleStory:   {Size: 14, Color: "#222222", LineHeight: 1.3},
	RoleCaption: {Size: 9, Color: "#333333", LineHeight: 1.2},
	RoleFooter:  {Size: 8, Color: "#666666", LineHeight: 1.2},
}

// Font returns the style for a role, filling unset fields with defaults.
func (t *Theme) Font(role Role) FontStyle {
	def := defaultFonts[role]
	fs, ok := t.Fonts[role]
	if !ok {
		return def
	}
	if fs.Size <= 0 {
		fs.Size = def.Size
	}
	if fs.LineHeight <= 0 {
		fs.LineHeight = def.LineHeight
	}
	fs.Color = fs.Color.Or(def.Color)
	return fs
}

// Page resolves the theme's page size.
func (t *Theme) Page() (layout.PageSize, error) {
	return layout.ParsePageSize(t.PageSize, t.Orientation)
}

// IsGrid reports whether photos are laid out on a grid instead of slots.
func (t *Theme) IsGrid() bool {
	return t.Grid != nil && len(t.Slots) == 0
}

// FooterHeight returns the footer zone height in mm.
func (t *Theme) FooterHeight() float64 {
	if !t.Footer.Enabled() {
		return 0
	}
	if t.Footer.Height > 0 {
		return t.Footer.Height
	}
	return 8
}

// ErrParse is wrapped by every error returned from Parse, validation
// failures included.
var ErrParse = errors.New("unparseable theme")

// Parse decodes a theme document. YAML and JSON are both accepted. Unknown
// fields are rejected so typos surface instead of silently defaulting.
func Parse(data []byte) (*Theme, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Theme
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrParse)
		}
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
