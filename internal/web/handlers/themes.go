package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/memorybook/internal/theme"
)

// ThemesHandler serves the embedded themes and validates custom ones.
type ThemesHandler struct{}

// NewThemesHandler creates a new themes handler.
func NewThemesHandler() *ThemesHandler {
	return &ThemesHandler{}
}

// ThemeSummary is the list form of a theme.
type ThemeSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PageSize    string `json:"page_size"`
	Orientation string `json:"orientation,omitempty"`
	Slots       int    `json:"slots"`
	Grid        bool   `json:"grid"`
	Story       bool   `json:"story"`
	Background  string `json:"background,omitempty"`
}

// ProblemInfo is a validation problem.
type ProblemInfo struct {
	Slot     *int   `json:"slot,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// ValidateResponse is the result of a theme validation.
type ValidateResponse struct {
	Valid    bool          `json:"valid"`
	ID       string        `json:"id,omitempty"`
	Problems []ProblemInfo `json:"problems"`
}

// List returns the embedded themes.
func (h *ThemesHandler) List(w http.ResponseWriter, r *http.Request) {
	themes, err := theme.Builtin()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ThemeSummary, len(themes))
	for i, t := range themes {
		out[i] = ThemeSummary{
			ID:          t.ID,
			Name:        t.Name,
			PageSize:    t.PageSize,
			Orientation: t.Orientation,
			Slots:       len(t.Slots),
			Grid:        t.IsGrid(),
			Story:       t.Story != nil,
			Background:  string(t.Background.Type),
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns a full embedded theme.
func (h *ThemesHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := theme.Lookup(chi.URLParam(r, "themeId"))
	if !ok {
		respondError(w, http.StatusNotFound, "theme not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Validate checks a YAML or JSON theme document and lists its problems,
// warnings included.
func (h *ThemesHandler) Validate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	t, err := theme.Parse(data)
	var verr *theme.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusUnprocessableEntity, ValidateResponse{
			ID:       verr.ThemeID,
			Problems: problemInfos(verr.Problems),
		})
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondJSON(w, http.StatusOK, ValidateResponse{
			Valid:    true,
			ID:       t.ID,
			Problems: problemInfos(t.Check()),
		})
	}
}

func problemInfos(problems []theme.Problem) []ProblemInfo {
	out := make([]ProblemInfo, 0, len(problems))
	for _, p := range problems {
		info := ProblemInfo{Severity: p.Severity, Message: p.Message}
		if p.SlotIndex >= 0 {
			slot := p.SlotIndex
			info.Slot = &slot
		}
		out = append(out, info)
	}
	return out
}
