package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/kozaktomas/memorybook/internal/compositor"
	"github.com/kozaktomas/memorybook/internal/database"
	"github.com/kozaktomas/memorybook/internal/document"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

func jpegBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 2), G: uint8(y * 2), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// fakeAssets serves n small photos. With a gate, List blocks until the
// gate is closed or the job is cancelled.
type fakeAssets struct {
	photos []compositor.PhotoAsset
	data   map[string][]byte
	gate   chan struct{}
}

func newFakeAssets(t testing.TB, n int) *fakeAssets {
	f := &fakeAssets{data: map[string][]byte{}}
	for i := range n {
		id := fmt.Sprintf("p%02d", i)
		f.photos = append(f.photos, compositor.PhotoAsset{ID: id, Width: 90, Height: 60, Title: "photo " + id})
		f.data[id] = jpegBytes(t, 90, 60)
	}
	return f
}

func (f *fakeAssets) List(ctx context.Context, _ compositor.AssetQuery) ([]compositor.PhotoAsset, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.photos, nil
}

func (f *fakeAssets) Load(_ context.Context, id string) ([]byte, error) {
	data, ok := f.data[id]
	if !ok {
		return nil, fmt.Errorf("unknown photo %s", id)
	}
	return data, nil
}

type fakeWriter struct{}

func (fakeWriter) Write(context.Context, *document.Document) ([]byte, error) {
	return []byte("%PDF-1.5 fake"), nil
}

func (fakeWriter) ContentType() string { return "application/pdf" }
func (fakeWriter) Extension() string   { return ".pdf" }

// newTestManager builds a job manager over a low resolution engine. store
// may be nil.
func newTestManager(t *testing.T, assets compositor.AssetLoader, store database.JobWriter) *JobManager {
	t.Helper()
	engine, err := compositor.New(compositor.Deps{
		Assets: assets,
		Writer: fakeWriter{},
		Jobs:   store,
	}, compositor.Options{DPI: 20, CollaboratorRPS: 1000}, zerolog.Nop())
	if err != nil {
		t.Fatalf("compositor.New() error = %v", err)
	}
	jm := NewJobManager(engine, store, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = jm.Shutdown(ctx)
	})
	return jm
}

// waitDone waits for the current run of job to end.
func waitDone(t *testing.T, job *RenderJob) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish in time")
	}
}
