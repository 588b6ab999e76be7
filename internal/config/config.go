package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

type Config struct {
	PhotoPrism PhotoPrismConfig
	OpenAI     OpenAIConfig
	Gemini     GeminiConfig
	Ollama     OllamaConfig
	AI         AIConfig
	Embedding  EmbeddingConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Render     RenderConfig
	Crop       CropConfig
	Web        WebConfig
	LogLevel   string
	Prices     PricesConfig
}

type PhotoPrismConfig struct {
	URL         string
	Username    string
	Password    string
	DatabaseURL string // MariaDB DSN for reading face markers directly (e.g., photoprism:photoprism@tcp(mariadb:3306)/photoprism)
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string // e.g. http://localhost:11434; empty disables the provider
	Model string
}

// AIConfig picks the provider used when several have credentials.
type AIConfig struct {
	Provider string // "openai", "gemini", "ollama" or empty for the first configured
}

type EmbeddingConfig struct {
	URL string // face detection service, defaults to http://localhost:8000
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// StorageConfig selects where finished artifacts are published.
type StorageConfig struct {
	Backend       string // "local" (default) or "minio"
	Dir           string // local backend output directory
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string // prefix used to build public artifact URLs
}

// RenderConfig controls the composition pipeline.
type RenderConfig struct {
	DPI                 float64       // raster resolution for slot bitmaps and flattened output
	Workers             int           // bounded slot worker pool size
	CollaboratorRPS     float64       // rate limit for external collaborator calls
	CollaboratorTimeout time.Duration // per-call timeout for AI / face services
	JobTimeout          time.Duration
	Supersample         int     // text rasterization factor
	LowResDPI           float64 // effective DPI below which a slot is reported as low-res
	SkipDuplicates      bool    // drop near-duplicate candidates before photo selection
	LatexBinary         string
	FontDir             string // optional directory with TTF files overriding the Go fonts
}

// WebConfig configures the HTTP API of the serve command.
type WebConfig struct {
	Host           string
	Port           int
	APIToken       string   // bearer token for /api/v1, empty leaves the API open
	AllowedOrigins []string // CORS origins besides localhost
}

// CropConfig mirrors smartcrop.Params so the empirically tuned constants can be overridden.
type CropConfig struct {
	FacePadding         float64
	MismatchThreshold   float64
	LenientTolerance    float64
	TopBufferRatio      float64
	MinTopBufferPx      float64
	TopHalfBoost        float64
	MaxSideBufferPx     float64
	SmallTargetPx       int
	SmallTopMarginRatio float64
	SmallTopMarginMinPx float64
}

type PricesConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

type ModelPricing struct {
	Standard RequestPricing `yaml:"standard"`
	Batch    RequestPricing `yaml:"batch"`
}

type RequestPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float environment variable.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration string (e.g. "30s", "10m").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	return &Config{
		PhotoPrism: PhotoPrismConfig{
			URL:         os.Getenv("PHOTOPRISM_URL"),
			Username:    os.Getenv("PHOTOPRISM_USERNAME"),
			Password:    os.Getenv("PHOTOPRISM_PASSWORD"),
			DatabaseURL: os.Getenv("PHOTOPRISM_DATABASE_URL"),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		AI: AIConfig{
			Provider: strings.ToLower(os.Getenv("AI_PROVIDER")),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Storage: StorageConfig{
			Backend:       envString("STORAGE_BACKEND", "local"),
			Dir:           envString("STORAGE_DIR", "./artifacts"),
			Endpoint:      os.Getenv("STORAGE_ENDPOINT"),
			AccessKey:     os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:     os.Getenv("STORAGE_SECRET_KEY"),
			Bucket:        envString("STORAGE_BUCKET", "memorybook"),
			Region:        os.Getenv("STORAGE_REGION"),
			UseSSL:        envBool("STORAGE_USE_SSL", false),
			PublicBaseURL: os.Getenv("STORAGE_PUBLIC_BASE_URL"),
		},
		Render: RenderConfig{
			DPI:                 envFloat("RENDER_DPI", 300),
			Workers:             envInt("RENDER_WORKERS", 4),
			CollaboratorRPS:     envFloat("COLLABORATOR_RPS", 4),
			CollaboratorTimeout: envDuration("COLLABORATOR_TIMEOUT", 30*time.Second),
			JobTimeout:          envDuration("JOB_TIMEOUT", 10*time.Minute),
			Supersample:         envInt("TEXT_SUPERSAMPLE", 3),
			LowResDPI:           envFloat("LOW_RES_DPI", 200),
			SkipDuplicates:      envBool("SKIP_DUPLICATES", true),
			LatexBinary:         envString("LATEX_BINARY", "lualatex"),
			FontDir:             os.Getenv("FONT_DIR"),
		},
		Crop: CropConfig{
			FacePadding:         envFloat("CROP_FACE_PADDING", 0.30),
			MismatchThreshold:   envFloat("CROP_MISMATCH_THRESHOLD", 0.30),
			LenientTolerance:    envFloat("CROP_LENIENT_TOLERANCE", 0.20),
			TopBufferRatio:      envFloat("CROP_TOP_BUFFER_RATIO", 0.50),
			MinTopBufferPx:      envFloat("CROP_MIN_TOP_BUFFER_PX", 100),
			TopHalfBoost:        envFloat("CROP_TOP_HALF_BOOST", 1.5),
			MaxSideBufferPx:     envFloat("CROP_MAX_SIDE_BUFFER_PX", 50),
			SmallTargetPx:       envInt("CROP_SMALL_TARGET_PX", 250),
			SmallTopMarginRatio: envFloat("CROP_SMALL_TOP_MARGIN_RATIO", 0.15),
			SmallTopMarginMinPx: envFloat("CROP_SMALL_TOP_MARGIN_MIN_PX", 150),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		LogLevel: envString("LOG_LEVEL", "info"),
		Prices:   prices,
	}
}

// GetModelPricing returns pricing for a specific model, with fallback defaults
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	// Return zero pricing if model not found
	return ModelPricing{}
}

// HasAI reports whether at least one AI provider has credentials.
func (c *Config) HasAI() bool {
	return c.OpenAI.Token != "" || c.Gemini.APIKey != "" || c.Ollama.URL != ""
}
