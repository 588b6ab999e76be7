package handlers

import (
	"net/http"

	"github.com/kozaktomas/memorybook/internal/config"
	"github.com/kozaktomas/memorybook/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Providers      []ProviderInfo `json:"providers"`
	AIProvider     string         `json:"ai_provider,omitempty"`
	PhotoSource    string         `json:"photo_source"`
	StorageBackend string         `json:"storage_backend"`
	JobsPersisted  bool           `json:"jobs_persisted"`
	DPI            float64        `json:"dpi"`
}

// ProviderInfo represents information about an AI provider
type ProviderInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the available configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	providers := []ProviderInfo{
		{
			Name:      "openai",
			Available: h.config.OpenAI.Token != "",
		},
		{
			Name:      "gemini",
			Available: h.config.Gemini.APIKey != "",
		},
		{
			Name:      "ollama",
			Available: h.config.Ollama.URL != "",
		},
	}

	source := "directory"
	if h.config.PhotoPrism.URL != "" {
		source = "photoprism"
	}
	backend := h.config.Storage.Backend
	if backend == "" {
		backend = "local"
	}

	response := ConfigResponse{
		Providers:      providers,
		AIProvider:     h.config.AI.Provider,
		PhotoSource:    source,
		StorageBackend: backend,
		JobsPersisted:  database.IsInitialized(),
		DPI:            h.config.Render.DPI,
	}

	respondJSON(w, http.StatusOK, response)
}
