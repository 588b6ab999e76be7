package theme

import (
	"fmt"
	"strings"

	"github.com/kozaktomas/memorybook/internal/layout"
)

// Problem is one issue found while validating a theme.
type Problem struct {
	SlotIndex int // -1 for page-level problems
	Message   string
	Severity  string // "error" or "warning"
}

func (p Problem) String() string {
	if p.SlotIndex >= 0 {
		return fmt.Sprintf("%s: slot %d: %s", p.Severity, p.SlotIndex, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Severity, p.Message)
}

// ValidationError lists the error-severity problems of a theme.
type ValidationError struct {
	ThemeID  string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return fmt.Sprintf("invalid theme %q: %s", e.ThemeID, strings.Join(msgs, "; "))
}

// Unwrap makes errors.Is(err, ErrParse) true for validation failures.
func (e *ValidationError) Unwrap() error { return ErrParse }

// Validate returns a *ValidationError if the theme has error-severity problems.
func (t *Theme) Validate() error {
	var errs []Problem
	for _, p := range t.Check() {
		if p.Severity == "error" {
			errs = append(errs, p)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{ThemeID: t.ID, Problems: errs}
	}
	return nil
}

// Check inspects the theme and returns every problem found, warnings included.
func (t *Theme) Check() []Problem {
	var problems []Problem
	add := func(slot int, severity, format string, args ...any) {
		problems = append(problems, Problem{SlotIndex: slot, Severity: severity, Message: fmt.Sprintf(format, args...)})
	}
	const eps = 0.01

	page, err := t.Page()
	if err != nil {
		add(-1, "error", "%v", err)
	}

	if t.Background.Color != "" {
		if _, err := t.Background.Color.Parse(); err != nil {
			add(-1, "error", "background: %v", err)
		}
	}
	if a := t.Background.Alpha(); a < 0 || a > 1 {
		add(-1, "error", "background opacity %.2f outside [0,1]", a)
	}
	switch t.Background.Type {
	case "", BackgroundSolid, BackgroundWhite, BackgroundFlat, BackgroundGenerated:
	default:
		add(-1, "error", "unknown background type %q", t.Background.Type)
	}
	if t.Border.Width < 0 || t.Border.Offset < 0 {
		add(-1, "error", "border width and offset must not be negative")
	}
	if t.Border.Color != "" {
		if _, err := t.Border.Color.Parse(); err != nil {
			add(-1, "error", "border: %v", err)
		}
	}
	for role, fs := range t.Fonts {
		if fs.Size < 0 {
			add(-1, "error", "font %s: negative size", role)
		}
		if fs.Color != "" {
			if _, err := fs.Color.Parse(); err != nil {
				add(-1, "error", "font %s: %v", role, err)
			}
		}
	}

	if len(t.Slots) == 0 && t.Grid == nil {
		add(-1, "error", "theme has neither slots nor a grid")
	}
	if t.Grid != nil && len(t.Slots) > 0 {
		add(-1, "warning", "grid is ignored because slots are defined")
	}
	if t.Grid != nil && (t.Grid.Columns <= 0 || t.Grid.Rows <= 0) {
		add(-1, "error", "grid needs positive columns and rows, got %dx%d", t.Grid.Columns, t.Grid.Rows)
	}

	for i, s := range t.Slots {
		if s.Size.W <= 0 || s.Size.H <= 0 {
			add(i, "error", "size %.2fx%.2f must be positive", s.Size.W, s.Size.H)
			continue
		}
		p := s.FramePadding
		if p.Top < 0 || p.Right < 0 || p.Bottom < 0 || p.Left < 0 {
			add(i, "error", "frame padding must not be negative")
		}
		if s.BorderRadiusPercent < 0 || s.BorderRadiusPercent > 50 {
			add(i, "error", "border radius %.1f%% outside [0,50]", s.BorderRadiusPercent)
		}
		if s.BorderWidth < 0 {
			add(i, "error", "border width must not be negative")
		}
		for _, c := range []Color{s.FrameColor, s.BorderColor} {
			if c == "" {
				continue
			}
			if _, err := c.Parse(); err != nil {
				add(i, "error", "%v", err)
			}
		}
		if s.Caption && p.Bottom <= 0 {
			add(i, "warning", "caption requested but there is no bottom frame padding to hold it")
		}
		if err != nil {
			continue
		}
		outer := s.OuterBox()
		if outer.X < -eps || outer.Y < -eps || outer.X+outer.W > page.W+eps || outer.Y+outer.H > page.H+eps {
			add(i, "warning", "outer box (%.1f,%.1f %.1fx%.1f) extends past the page (%.1fx%.1f)",
				outer.X, outer.Y, outer.W, outer.H, page.W, page.H)
		}
		if s.Rotation != 0 {
			w, h := layout.RotatedBounds(outer.W, outer.H, s.Rotation)
			if w > page.W || h > page.H {
				add(i, "warning", "rotated slot is larger than the page")
			}
		}
	}

	if t.Story != nil && err == nil {
		b := t.Story.Box()
		if b.W <= 0 || b.H <= 0 {
			add(-1, "error", "story region size must be positive")
		} else if b.X < -eps || b.Y < -eps || b.X+b.W > page.W+eps || b.Y+b.H > page.H+eps {
			add(-1, "warning", "story region extends past the page")
		}
	}

	return problems
}
