package theme

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
id: sample
name: Sample
pageSize: a5
orientation: landscape
background:
  color: "#336699"
  opacity: 0.5
  type: solid
border: {width: 1, offset: 4, color: "#000"}
fonts:
  story: {size: 12}
slots:
  - position: {x: 10, y: 10}
    size: {w: 80, h: 60}
    rotation: -5
    framePadding: {top: 2, right: 2, bottom: 8, left: 2}
    shape: circle
    caption: true
  - position: {x: 110, y: 10}
    size: {w: 50, h: 70}
    shape: rounded
    borderRadiusPercent: 20
story:
  position: {x: 10, y: 90}
  size: {w: 150, h: 40}
`

func TestParse_YAML(t *testing.T) {
	th, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if th.ID != "sample" || len(th.Slots) != 2 {
		t.Fatalf("unexpected theme: id=%q slots=%d", th.ID, len(th.Slots))
	}
	if th.Slots[0].Shape != ShapeRound {
		t.Errorf("circle alias: got %v, want round", th.Slots[0].Shape)
	}
	if th.Slots[1].Shape != ShapeRounded {
		t.Errorf("got %v, want rounded", th.Slots[1].Shape)
	}
	if th.Background.Alpha() != 0.5 {
		t.Errorf("opacity = %f, want 0.5", th.Background.Alpha())
	}

	page, err := th.Page()
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if page.W != 210 || page.H != 148 {
		t.Errorf("page = %vx%v, want 210x148", page.W, page.H)
	}

	outer := th.Slots[0].OuterBox()
	if outer.W != 84 || outer.H != 70 {
		t.Errorf("outer = %vx%v, want 84x70", outer.W, outer.H)
	}
	inner := th.Slots[0].InnerBox()
	if inner.X != 12 || inner.Y != 12 || inner.W != 80 || inner.H != 60 {
		t.Errorf("inner = %+v", inner)
	}
}

func TestParse_JSON(t *testing.T) {
	th, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	data, err := json.Marshal(th)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"shape":"round"`) {
		t.Errorf("expected shape serialized by name, got %s", data)
	}

	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(JSON): %v", err)
	}
	if len(back.Slots) != 2 || back.Slots[0].Rotation != -5 || back.Slots[0].FramePadding.Bottom != 8 {
		t.Errorf("JSON document did not decode the same slots: %+v", back.Slots)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty document"},
		{"not yaml", "{{{", "unparseable"},
		{"unknown field", "id: x\npageSize: a4\nslotz: []\n", "slotz"},
		{"unknown page", "id: x\npageSize: b7\ngrid: {columns: 1, rows: 1}\n", "unknown page size"},
		{"no slots", "id: x\npageSize: a4\n", "neither slots nor a grid"},
		{"bad shape", "id: x\npageSize: a4\nslots:\n  - {position: {x: 0, y: 0}, size: {w: 10, h: 10}, shape: hexagon}\n", "hexagon"},
		{"bad size", "id: x\npageSize: a4\nslots:\n  - {position: {x: 0, y: 0}, size: {w: 0, h: 10}}\n", "must be positive"},
		{"bad radius", "id: x\npageSize: a4\nslots:\n  - {position: {x: 0, y: 0}, size: {w: 10, h: 10}, borderRadiusPercent: 80}\n", "border radius"},
		{"bad color", "id: x\npageSize: a4\nbackground: {color: notacolor}\ngrid: {columns: 1, rows: 1}\n", "invalid color"},
		{"bad opacity", "id: x\npageSize: a4\nbackground: {color: white, opacity: 2}\ngrid: {columns: 1, rows: 1}\n", "opacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrParse) {
				t.Errorf("error %v does not wrap ErrParse", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidationError_Type(t *testing.T) {
	_, err := Parse([]byte("id: broken\npageSize: a4\n"))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.ThemeID != "broken" || len(verr.Problems) == 0 {
		t.Errorf("unexpected validation error: %+v", verr)
	}
}

func TestCheck_Warnings(t *testing.T) {
	th := &Theme{
		ID:       "w",
		PageSize: "a6",
		Slots: []Slot{
			{Position: Point{X: 90, Y: 10}, Size: Size{W: 40, H: 40}, Caption: true},
		},
	}
	problems := th.Check()
	var warnings int
	for _, p := range problems {
		if p.Severity == "error" {
			t.Errorf("unexpected error: %s", p)
		}
		if p.Severity == "warning" {
			warnings++
		}
	}
	// off-page slot, caption without bottom padding
	if warnings != 2 {
		t.Errorf("got %d warnings, want 2: %v", warnings, problems)
	}
	if err := th.Validate(); err != nil {
		t.Errorf("warnings must not fail validation: %v", err)
	}
}

func TestFontDefaults(t *testing.T) {
	th := &Theme{Fonts: map[Role]FontStyle{RoleStory: {Size: 20}}}

	story := th.Font(RoleStory)
	if story.Size != 20 || story.LineHeight != 1.3 || story.Color == "" {
		t.Errorf("story font = %+v", story)
	}
	caption := th.Font(RoleCaption)
	if caption.Size >= story.Size {
		t.Errorf("caption font (%v) should be smaller than story (%v)", caption.Size, story.Size)
	}
}

func TestColor(t *testing.T) {
	tests := []struct {
		in      Color
		wantHex string
		wantErr bool
	}{
		{"#ff0000", "#ff0000", false},
		{"#0F0", "#00ff00", false},
		{"white", "#ffffff", false},
		{"Black", "#000000", false},
		{"red", "", true},
		{"#zzzzzz", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			col, err := tt.in.Parse()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && col.Hex() != tt.wantHex {
				t.Errorf("hex = %s, want %s", col.Hex(), tt.wantHex)
			}
		})
	}
}

func TestColor_OpaqueBlendsOverWhite(t *testing.T) {
	c := Color("#000000").Opaque(0.5)
	if c.A != 255 {
		t.Errorf("alpha = %d, want 255", c.A)
	}
	if c.R < 120 || c.R > 135 {
		t.Errorf("50%% black over white should be mid grey, got %d", c.R)
	}
	// Bad colors never become black.
	if bad := Color("nope").Opaque(1); bad.R != 255 || bad.G != 255 || bad.B != 255 {
		t.Errorf("invalid color should fall back to white, got %+v", bad)
	}
}

func TestBackgroundFill(t *testing.T) {
	if got := (Background{Type: BackgroundWhite, Color: "#123456"}).Fill(); got != "#ffffff" {
		t.Errorf("white background fill = %s", got)
	}
	if got := (Background{}).Fill(); got != "#ffffff" {
		t.Errorf("empty background fill = %s", got)
	}
	if got := (Background{Color: "#123456"}).Fill(); got != "#123456" {
		t.Errorf("solid background fill = %s", got)
	}
}

func TestShapeParse(t *testing.T) {
	for s := ShapeOriginal; s <= ShapeMagic; s++ {
		got, err := ParseShape(s.String())
		if err != nil || got != s {
			t.Errorf("ParseShape(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseShape("triangle"); err == nil {
		t.Error("expected error for unknown shape")
	}
}

func TestBuiltin(t *testing.T) {
	themes, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin: %v", err)
	}
	if len(themes) < 4 {
		t.Fatalf("expected at least 4 built-in themes, got %d", len(themes))
	}
	for i := 1; i < len(themes); i++ {
		if themes[i-1].ID >= themes[i].ID {
			t.Errorf("themes not sorted: %s before %s", themes[i-1].ID, themes[i].ID)
		}
	}
	for _, th := range themes {
		for _, p := range th.Check() {
			if p.Severity == "error" {
				t.Errorf("%s: %s", th.ID, p)
			}
		}
	}

	grid, ok := Lookup("grid-a4")
	if !ok || !grid.IsGrid() {
		t.Fatalf("grid-a4 should be a grid theme")
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	a, ok := Lookup("classic-a4")
	if !ok {
		t.Fatal("classic-a4 missing")
	}
	a.Slots[0].Rotation = 45
	b, _ := Lookup("classic-a4")
	if b.Slots[0].Rotation == 45 {
		t.Error("Lookup must return an independent copy")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(p, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	th, err := Load(p)
	if err != nil {
		t.Fatalf("Load(file): %v", err)
	}
	if th.ID != "sample" {
		t.Errorf("id = %q", th.ID)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, ErrParse) {
		t.Errorf("missing theme should wrap ErrParse, got %v", err)
	}
}
