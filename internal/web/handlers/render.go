package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/convert"
	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/theme"
)

const (
	defaultJobListLimit = 100
	maxJobListLimit     = 1000
)

// JobsHandler handles the generation job endpoints.
type JobsHandler struct {
	jobs   *JobManager
	logger zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jm *JobManager, logger zerolog.Logger) *JobsHandler {
	return &JobsHandler{jobs: jm, logger: logger}
}

// Create starts a new generation job.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req compositor.Request
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if status, msg := validateRequest(&req); status != 0 {
		respondError(w, status, msg)
		return
	}

	job, err := h.jobs.Start(req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view := job.View()
	h.logger.Info().Str("job", view.ID).Str("theme", sanitizeForLog(req.ThemeID)).Msg("job accepted")

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   view.ID,
		"theme_id": req.ThemeID,
		"state":    string(view.State),
	})
}

// validateRequest rejects requests that cannot produce a layout. It returns
// a zero status for valid requests.
func validateRequest(req *compositor.Request) (int, string) {
	switch {
	case req.Theme != nil:
		if err := req.Theme.Validate(); err != nil {
			return http.StatusUnprocessableEntity, err.Error()
		}
		if req.ThemeID == "" {
			req.ThemeID = req.Theme.ID
		}
	case req.ThemeID == "":
		return http.StatusBadRequest, "themeId or theme is required"
	default:
		// only embedded themes, IDs are never read as file paths here
		if _, ok := theme.Lookup(req.ThemeID); !ok {
			return http.StatusBadRequest, fmt.Sprintf("unknown theme %q", req.ThemeID)
		}
	}
	if req.Format != "" {
		f, err := convert.ParseFormat(string(req.Format))
		if err != nil {
			return http.StatusBadRequest, err.Error()
		}
		req.Format = f
	}
	if req.Count < 0 {
		return http.StatusBadRequest, "count must not be negative"
	}
	return 0, ""
}

// List returns the most recent jobs.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := min(queryInt(r, "limit", defaultJobListLimit), maxJobListLimit)
	views, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing jobs failed")
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// Get returns a single job.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.jobs.Lookup(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.respondJobError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// Events streams job milestones via SSE.
func (h *JobsHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobs.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(job SSEJob) any {
			return job.(*RenderJob).View()
		},
	)
}

// Artifact serves the document or, with ?kind=image, the flattened page.
// Jobs of earlier server runs redirect to their published URL.
func (h *JobsHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	image := r.URL.Query().Get("kind") == "image"

	if job := h.jobs.GetJob(jobID); job != nil {
		if arts := job.Artifacts(); arts != nil {
			data, contentType := arts.Document, arts.DocumentType
			if image {
				data, contentType = arts.Image, arts.ImageType
			}
			if data != nil {
				w.Header().Set("Content-Type", contentType)
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(data)
				return
			}
		}
	}

	view, err := h.jobs.Lookup(r.Context(), jobID)
	if err != nil {
		h.respondJobError(w, err)
		return
	}
	url := view.DocumentURL
	if image {
		url = view.ImageURL
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	respondError(w, http.StatusNotFound, "artifact not available")
}

// Delete cancels a running job, or removes a stopped one.
func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if job := h.jobs.GetJob(jobID); job != nil && job.Cancel() {
		respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
		return
	}
	if err := h.jobs.DeleteJob(r.Context(), jobID); err != nil {
		h.respondJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume runs a stopped job again from its last completed state.
func (h *JobsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Resume(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.respondJobError(w, err)
		return
	}
	view := job.View()
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": view.ID,
		"state":  string(view.State),
	})
}

func (h *JobsHandler) respondJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ErrJobRunning), errors.Is(err, compositor.ErrJobFinished):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("job request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
