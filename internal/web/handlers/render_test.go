package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/database/mock"
)

func createJob(t *testing.T, h *JobsHandler, body string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	h.Create(recorder, req)
	assertStatusCode(t, recorder, http.StatusAccepted)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["job_id"] == "" {
		t.Fatalf("no job_id in response: %s", recorder.Body.String())
	}
	return result["job_id"]
}

func jobRequest(method, path, jobID string) *http.Request {
	return requestWithChiParams(httptest.NewRequest(method, path, nil), map[string]string{"jobId": jobID})
}

func TestJobsHandler_CreateAndComplete(t *testing.T) {
	jm := newTestManager(t, newFakeAssets(t, 6), nil)
	h := NewJobsHandler(jm, zerolog.Nop())

	id := createJob(t, h, `{"themeId": "classic-a4"}`)
	waitDone(t, jm.GetJob(id))

	recorder := httptest.NewRecorder()
	h.Get(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/"+id, id))
	assertStatusCode(t, recorder, http.StatusOK)

	var view JobView
	parseJSONResponse(t, recorder, &view)
	if view.State != compositor.StateDone {
		t.Fatalf("expected state done, got %s (error %q)", view.State, view.Error)
	}
	if view.Percent != 100 {
		t.Errorf("expected percent 100, got %d", view.Percent)
	}
	if view.Running {
		t.Error("finished job reported as running")
	}
	if view.Report == nil || view.Report.Pages != 1 {
		t.Errorf("expected a one page report, got %+v", view.Report)
	}

	recorder = httptest.NewRecorder()
	h.Artifact(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/"+id+"/artifact", id))
	assertStatusCode(t, recorder, http.StatusOK)
	if ct := recorder.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if !strings.HasPrefix(recorder.Body.String(), "%PDF") {
		t.Errorf("unexpected artifact body %q", recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	h.Artifact(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/"+id+"/artifact?kind=image", id))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "artifact not available")
}

func TestJobsHandler_CreateValidation(t *testing.T) {
	jm := newTestManager(t, newFakeAssets(t, 1), nil)
	h := NewJobsHandler(jm, zerolog.Nop())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"invalid json", `{`, http.StatusBadRequest, errInvalidRequestBody},
		{"unknown field", `{"themeId": "classic-a4", "colour": "red"}`, http.StatusBadRequest, errInvalidRequestBody},
		{"no theme", `{}`, http.StatusBadRequest, "themeId or theme is required"},
		{"unknown theme", `{"themeId": "/etc/passwd"}`, http.StatusBadRequest, `unknown theme "/etc/passwd"`},
		{"negative count", `{"themeId": "classic-a4", "count": -1}`, http.StatusBadRequest, "count must not be negative"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tc.body))
			recorder := httptest.NewRecorder()
			h.Create(recorder, req)

			assertStatusCode(t, recorder, tc.wantStatus)
			assertJSONError(t, recorder, tc.wantError)
		})
	}

	t.Run("bad format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"themeId": "classic-a4", "format": "gif"}`))
		recorder := httptest.NewRecorder()
		h.Create(recorder, req)
		assertStatusCode(t, recorder, http.StatusBadRequest)
	})

	t.Run("invalid inline theme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"theme": {"id": "broken", "pageSize": "a4"}}`))
		recorder := httptest.NewRecorder()
		h.Create(recorder, req)
		assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
	})

	if jobs, _ := jm.ListJobs(t.Context(), 10); len(jobs) != 0 {
		t.Errorf("rejected requests created %d jobs", len(jobs))
	}
}

func TestJobsHandler_CancelAndDelete(t *testing.T) {
	assets := newFakeAssets(t, 4)
	assets.gate = make(chan struct{})
	jm := newTestManager(t, assets, nil)
	h := NewJobsHandler(jm, zerolog.Nop())

	id := createJob(t, h, `{"themeId": "classic-a4"}`)

	// deleting a running job cancels it
	recorder := httptest.NewRecorder()
	h.Delete(recorder, jobRequest(http.MethodDelete, "/api/v1/jobs/"+id, id))
	assertStatusCode(t, recorder, http.StatusAccepted)
	waitDone(t, jm.GetJob(id))

	view := jm.GetJob(id).View()
	if view.State != compositor.StateFailed || !view.Cancelled {
		t.Errorf("expected a cancelled failed job, got state %s cancelled %v", view.State, view.Cancelled)
	}

	recorder = httptest.NewRecorder()
	h.Delete(recorder, jobRequest(http.MethodDelete, "/api/v1/jobs/"+id, id))
	assertStatusCode(t, recorder, http.StatusNoContent)

	recorder = httptest.NewRecorder()
	h.Get(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/"+id, id))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestJobsHandler_ResumeConflicts(t *testing.T) {
	assets := newFakeAssets(t, 4)
	assets.gate = make(chan struct{})
	jm := newTestManager(t, assets, nil)
	h := NewJobsHandler(jm, zerolog.Nop())

	id := createJob(t, h, `{"themeId": "classic-a4"}`)

	recorder := httptest.NewRecorder()
	h.Resume(recorder, jobRequest(http.MethodPost, "/api/v1/jobs/"+id+"/resume", id))
	assertStatusCode(t, recorder, http.StatusConflict)

	job := jm.GetJob(id)
	job.Cancel()
	waitDone(t, job)
	close(assets.gate)

	recorder = httptest.NewRecorder()
	h.Resume(recorder, jobRequest(http.MethodPost, "/api/v1/jobs/"+id+"/resume", id))
	assertStatusCode(t, recorder, http.StatusAccepted)
	waitDone(t, job)

	if view := job.View(); view.State != compositor.StateDone || view.Cancelled {
		t.Fatalf("expected resumed job to finish, got state %s error %q", view.State, view.Error)
	}

	recorder = httptest.NewRecorder()
	h.Resume(recorder, jobRequest(http.MethodPost, "/api/v1/jobs/"+id+"/resume", id))
	assertStatusCode(t, recorder, http.StatusConflict)
}

func TestJobsHandler_UnknownJob(t *testing.T) {
	jm := newTestManager(t, newFakeAssets(t, 1), mock.NewMockJobRepository())
	h := NewJobsHandler(jm, zerolog.Nop())

	tests := []struct {
		name    string
		method  string
		handler http.HandlerFunc
	}{
		{"get", http.MethodGet, h.Get},
		{"delete", http.MethodDelete, h.Delete},
		{"resume", http.MethodPost, h.Resume},
		{"artifact", http.MethodGet, h.Artifact},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			tc.handler(recorder, jobRequest(tc.method, "/api/v1/jobs/missing", "missing"))
			assertStatusCode(t, recorder, http.StatusNotFound)
			assertJSONError(t, recorder, "job not found")
		})
	}
}

func TestJobsHandler_ListMergesStoredJobs(t *testing.T) {
	repo := mock.NewMockJobRepository()
	repo.AddJob(database.StoredJob{
		ID:          "old-job",
		ThemeID:     "classic-a4",
		State:       database.JobStateDone,
		Percent:     100,
		DocumentURL: "https://cdn.example/jobs/old-job/book.pdf",
		CreatedAt:   time.Now().Add(-time.Hour),
	})
	jm := newTestManager(t, newFakeAssets(t, 4), repo)
	h := NewJobsHandler(jm, zerolog.Nop())

	id := createJob(t, h, `{"themeId": "classic-a4"}`)
	waitDone(t, jm.GetJob(id))

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var views []JobView
	parseJSONResponse(t, recorder, &views)
	if len(views) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(views))
	}
	if views[0].ID != id || views[1].ID != "old-job" {
		t.Errorf("expected newest first, got %s then %s", views[0].ID, views[1].ID)
	}

	recorder = httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?limit=1", nil))
	parseJSONResponse(t, recorder, &views)
	if len(views) != 1 {
		t.Errorf("expected limit 1 to return 1 job, got %d", len(views))
	}

	// stored jobs without bytes in memory redirect to the published URL
	recorder = httptest.NewRecorder()
	h.Artifact(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/old-job/artifact", "old-job"))
	assertStatusCode(t, recorder, http.StatusFound)
	if loc := recorder.Header().Get("Location"); loc != "https://cdn.example/jobs/old-job/book.pdf" {
		t.Errorf("unexpected redirect %q", loc)
	}
}

func TestJobsHandler_ResumeStoredJob(t *testing.T) {
	repo := mock.NewMockJobRepository()
	repo.AddJob(database.StoredJob{
		ID:        "interrupted",
		ThemeID:   "classic-a4",
		State:     string(compositor.StateRenderingSlots),
		Percent:   35,
		Request:   json.RawMessage(`{"themeId": "classic-a4"}`),
		CreatedAt: time.Now(),
	})
	jm := newTestManager(t, newFakeAssets(t, 4), repo)
	h := NewJobsHandler(jm, zerolog.Nop())

	recorder := httptest.NewRecorder()
	h.Resume(recorder, jobRequest(http.MethodPost, "/api/v1/jobs/interrupted/resume", "interrupted"))
	assertStatusCode(t, recorder, http.StatusAccepted)

	job := jm.GetJob("interrupted")
	if job == nil {
		t.Fatal("resumed job not tracked")
	}
	waitDone(t, job)
	if view := job.View(); view.State != compositor.StateDone {
		t.Fatalf("expected done, got %s (error %q)", view.State, view.Error)
	}

	stored, err := repo.GetJob(t.Context(), "interrupted")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if stored.State != database.JobStateDone {
		t.Errorf("expected persisted state done, got %s", stored.State)
	}
}

func TestJobsHandler_Events(t *testing.T) {
	jm := newTestManager(t, newFakeAssets(t, 4), nil)
	h := NewJobsHandler(jm, zerolog.Nop())

	id := createJob(t, h, `{"themeId": "classic-a4"}`)
	waitDone(t, jm.GetJob(id))

	recorder := httptest.NewRecorder()
	h.Events(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/"+id+"/events", id))
	assertStatusCode(t, recorder, http.StatusOK)

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\n") {
		t.Errorf("stream does not start with a status event: %q", body)
	}
	if !strings.Contains(body, `"state":"done"`) {
		t.Errorf("status event does not carry the final state: %q", body)
	}

	recorder = httptest.NewRecorder()
	h.Events(recorder, jobRequest(http.MethodGet, "/api/v1/jobs/missing/events", "missing"))
	assertStatusCode(t, recorder, http.StatusNotFound)
}

func TestEventBroadcaster(t *testing.T) {
	var b EventBroadcaster
	first := b.AddListener()
	second := b.AddListener()

	b.SendEvent(JobEvent{Type: "milestone", Message: "rendered"})
	for i, ch := range []chan JobEvent{first, second} {
		select {
		case ev := <-ch:
			if ev.Type != "milestone" || ev.Message != "rendered" {
				t.Errorf("listener %d got %+v", i, ev)
			}
		default:
			t.Errorf("listener %d got no event", i)
		}
	}

	b.RemoveListener(first)
	if _, ok := <-first; ok {
		t.Error("removed listener channel should be closed")
	}
	b.SendEvent(JobEvent{Type: "completed"})
	if ev := <-second; ev.Type != "completed" {
		t.Errorf("remaining listener got %+v", ev)
	}
}
