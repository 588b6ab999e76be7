package theme

import (
	"embed"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
)

//go:embed themes/*.yaml
var builtinFS embed.FS

var (
	builtinOnce   sync.Once
	builtinThemes map[string]*Theme
	builtinErr    error
)

func loadBuiltin() {
	builtinThemes = make(map[string]*Theme)
	entries, err := builtinFS.ReadDir("themes")
	if err != nil {
		builtinErr = fmt.Errorf("read embedded themes: %w", err)
		return
	}
	for _, e := range entries {
		data, err := builtinFS.ReadFile(path.Join("themes", e.Name()))
		if err != nil {
			builtinErr = fmt.Errorf("read embedded theme %s: %w", e.Name(), err)
			return
		}
		t, err := Parse(data)
		if err != nil {
			builtinErr = fmt.Errorf("embedded theme %s: %w", e.Name(), err)
			return
		}
		builtinThemes[t.ID] = t
	}
}

// Builtin returns the embedded themes sorted by ID.
func Builtin() ([]*Theme, error) {
	builtinOnce.Do(loadBuiltin)
	if builtinErr != nil {
		return nil, builtinErr
	}
	out := make([]*Theme, 0, len(builtinThemes))
	for _, t := range builtinThemes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lookup returns an embedded theme by ID. The returned theme is a copy and
// may be modified by the caller.
func Lookup(id string) (*Theme, bool) {
	builtinOnce.Do(loadBuiltin)
	t, ok := builtinThemes[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Load resolves ref as an embedded theme ID first, then as a file path.
func Load(ref string) (*Theme, error) {
	if t, ok := Lookup(ref); ok {
		return t, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no built-in theme or file named %q", ErrParse, ref)
		}
		return nil, fmt.Errorf("read theme %s: %w", ref, err)
	}
	return Parse(data)
}

// Clone returns a deep copy of the theme.
func (t *Theme) Clone() *Theme {
	c := *t
	c.Slots = append([]Slot(nil), t.Slots...)
	if t.Fonts != nil {
		c.Fonts = make(map[Role]FontStyle, len(t.Fonts))
		for k, v := range t.Fonts {
			c.Fonts[k] = v
		}
	}
	if t.Story != nil {
		s := *t.Story
		c.Story = &s
	}
	if t.Grid != nil {
		g := *t.Grid
		c.Grid = &g
	}
	if t.Background.Opacity != nil {
		o := *t.Background.Opacity
		c.Background.Opacity = &o
	}
	return &c
}
