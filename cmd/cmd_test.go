package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
	"github.com/kozaktomas/memorybook/internal/theme"
)

func TestResolveProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		flag string
		want string
	}{
		{name: "nothing configured", want: ""},
		{name: "flag wins", cfg: config.Config{AI: config.AIConfig{Provider: "gemini"}}, flag: " OpenAI ", want: "openai"},
		{name: "AI_PROVIDER", cfg: config.Config{AI: config.AIConfig{Provider: "gemini"}, OpenAI: config.OpenAIConfig{Token: "x"}}, want: "gemini"},
		{name: "first with credentials", cfg: config.Config{Gemini: config.GeminiConfig{APIKey: "k"}, Ollama: config.OllamaConfig{URL: "http://o"}}, want: "gemini"},
		{name: "ollama only", cfg: config.Config{Ollama: config.OllamaConfig{URL: "http://o"}}, want: "ollama"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveProvider(&tt.cfg, tt.flag); got != tt.want {
				t.Errorf("resolveProvider() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		provider string
		wantNil  bool
		wantErr  string
	}{
		{name: "disabled", provider: "none", wantNil: true},
		{name: "empty", provider: "", wantNil: true},
		{name: "openai without token", provider: "openai", wantErr: "OPENAI_TOKEN"},
		{name: "gemini without key", provider: "gemini", wantErr: "GEMINI_API_KEY"},
		{name: "ollama without url", provider: "ollama", wantErr: "OLLAMA_URL"},
		{name: "unknown", provider: "claude", wantErr: "unknown provider"},
		{name: "openai", provider: "openai", cfg: config.Config{OpenAI: config.OpenAIConfig{Token: "sk-test"}}},
		{name: "ollama", provider: "ollama", cfg: config.Config{Ollama: config.OllamaConfig{URL: "http://localhost:11434"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newProvider(context.Background(), &tt.cfg, tt.provider)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("provider nil = %v, want %v", p == nil, tt.wantNil)
			}
		})
	}
}

func TestCropParams_MatchDefaults(t *testing.T) {
	t.Setenv("CROP_FACE_PADDING", "")
	cfg := config.Load()
	if got := cropParams(cfg.Crop); got != smartcrop.DefaultParams() {
		t.Errorf("cropParams(defaults) = %+v, want %+v", got, smartcrop.DefaultParams())
	}

	t.Setenv("CROP_FACE_PADDING", "0.5")
	cfg = config.Load()
	if got := cropParams(cfg.Crop).FacePadding; got != 0.5 {
		t.Errorf("FacePadding = %v, want 0.5", got)
	}
}

func TestEngineOptions(t *testing.T) {
	cfg := config.Load()
	cfg.Render.DPI = 150
	cfg.Render.Workers = 2

	opts := engineOptions(cfg)
	if opts.DPI != 150 || opts.Workers != 2 {
		t.Errorf("engineOptions() DPI=%v Workers=%d, want 150 and 2", opts.DPI, opts.Workers)
	}
	if opts.StoryWords != compositor.DefaultOptions().StoryWords {
		t.Errorf("StoryWords = %d, want the default", opts.StoryWords)
	}

	cfg.Render.SkipDuplicates = false
	if got := engineOptions(cfg).DuplicateDistance; got >= 0 {
		t.Errorf("DuplicateDistance = %d, want disabled", got)
	}
}

func TestImagePath(t *testing.T) {
	tests := []struct {
		out    string
		format convert.Format
		want   string
	}{
		{"book.pdf", convert.FormatPNG, "book.png"},
		{"out/card.pdf", convert.FormatJPEG, "out/card.jpg"},
		{"noext", convert.FormatPNG, "noext.png"},
	}
	for _, tt := range tests {
		t.Run(tt.out, func(t *testing.T) {
			if got := imagePath(tt.out, tt.format); got != tt.want {
				t.Errorf("imagePath(%q) = %q, want %q", tt.out, got, tt.want)
			}
		})
	}
}

func TestResolveTheme(t *testing.T) {
	t.Run("built-in by id", func(t *testing.T) {
		var req compositor.Request
		if err := resolveTheme(&req, "classic-a4"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.ThemeID != "classic-a4" || req.Theme != nil {
			t.Errorf("got ThemeID=%q inline=%v, want built-in reference", req.ThemeID, req.Theme != nil)
		}
	})

	t.Run("file is sent inline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yaml")
		doc := `id: custom
name: Custom
pageSize: A5
slots:
  - position: {x: 10, y: 10}
    size: {w: 100, h: 80}
`
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}
		var req compositor.Request
		if err := resolveTheme(&req, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.ThemeID != "custom" || req.Theme == nil {
			t.Errorf("got ThemeID=%q inline=%v, want inline custom theme", req.ThemeID, req.Theme != nil)
		}
	})

	t.Run("missing", func(t *testing.T) {
		var req compositor.Request
		err := resolveTheme(&req, filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, theme.ErrParse) {
			t.Errorf("expected ErrParse, got %v", err)
		}
	})
}

func TestDescribeSlot(t *testing.T) {
	tests := []struct {
		name string
		slot compositor.SlotResult
		want string
	}{
		{name: "empty", slot: compositor.SlotResult{Page: 1, Slot: 2, Empty: true}, want: "page 1 slot 3: empty"},
		{name: "placeholder", slot: compositor.SlotResult{Page: 1, Placeholder: true, Error: "decode failed"}, want: "page 1 slot 1: placeholder (decode failed)"},
		{
			name: "low res",
			slot: compositor.SlotResult{Page: 2, PhotoID: "p1", Strategy: "face-aware", Shape: "circle", Faces: 2, EffectiveDPI: 150, LowRes: true},
			want: "page 2 slot 1: p1 face-aware/circle, 2 faces, 150 dpi LOW RES",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeSlot(tt.slot); got != tt.want {
				t.Errorf("describeSlot() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadFont(t *testing.T) {
	if data, err := loadFont(""); err != nil || data != nil {
		t.Errorf("loadFont(\"\") = %v, %v; want nil, nil", data, err)
	}

	dir := t.TempDir()
	if _, err := loadFont(dir); err == nil {
		t.Error("expected error for a directory without fonts")
	}

	for _, name := range []string{"b.ttf", "a.ttf", "c.otf"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	data, err := loadFont(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "a.ttf" {
		t.Errorf("loadFont() read %q, want a.ttf", data)
	}
}

func TestApplyServeFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{}
		c.Flags().Int("port", 0, "")
		c.Flags().String("host", "", "")
		return c
	}

	cfg := &config.Config{Web: config.WebConfig{Host: "0.0.0.0", Port: 8080}}
	applyServeFlags(newCmd(), cfg)
	if cfg.Web.Host != "0.0.0.0" || cfg.Web.Port != 8080 {
		t.Errorf("unset flags changed config: %+v", cfg.Web)
	}

	c := newCmd()
	_ = c.Flags().Set("port", "9090")
	_ = c.Flags().Set("host", "127.0.0.1")
	applyServeFlags(c, cfg)
	if cfg.Web.Host != "127.0.0.1" || cfg.Web.Port != 9090 {
		t.Errorf("flags not applied: %+v", cfg.Web)
	}
}
