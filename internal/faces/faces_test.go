package faces

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/database/mariadb"
	"github.com/kozaktomas/memorybook/internal/photoprism"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

type fakeMarkers struct {
	markers []photoprism.Marker
	err     error
}

func (f fakeMarkers) GetFaceMarkers(context.Context, string) ([]photoprism.Marker, error) {
	return f.markers, f.err
}

type fakeStore struct {
	markers []mariadb.FaceMarker
}

func (f fakeStore) GetFaceMarkers(context.Context, string) ([]mariadb.FaceMarker, error) {
	return f.markers, nil
}

type countingDetector struct {
	calls int
	boxes []smartcrop.FaceBox
	err   error
}

func (c *countingDetector) Detect(context.Context, Ref) ([]smartcrop.FaceBox, error) {
	c.calls++
	return c.boxes, c.err
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestPhotoPrismDetector(t *testing.T) {
	d := PhotoPrismDetector{Source: fakeMarkers{markers: []photoprism.Marker{
		{X: 0.4, Y: 0.05, W: 0.2, H: 0.15, Score: 87},
		{X: 0.9, Y: 0.9, W: 0.2, H: 0.2}, // clipped at the edge, manual
		{X: 1.2, Y: 0.5, W: 0.1, H: 0.1}, // fully outside
	}}}

	boxes, err := d.Detect(context.Background(), Ref{ID: "pt1"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %d", len(boxes))
	}
	if !near(boxes[0].Confidence, 0.87) {
		t.Errorf("confidence = %v, want 0.87", boxes[0].Confidence)
	}
	if !near(boxes[1].W, 0.1) || boxes[1].Confidence != 1 {
		t.Errorf("clipped box = %+v", boxes[1])
	}

	_, err = PhotoPrismDetector{Source: fakeMarkers{err: errors.New("boom")}}.Detect(context.Background(), Ref{ID: "x"})
	if err == nil {
		t.Error("expected error to propagate")
	}
}

func TestDatabaseDetector(t *testing.T) {
	d := DatabaseDetector{Store: fakeStore{markers: []mariadb.FaceMarker{{UID: "m1", X: 0.1, Y: 0.2, W: 0.3, H: 0.3, Score: 250}}}}
	boxes, err := d.Detect(context.Background(), Ref{ID: "pt1"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(boxes) != 1 || boxes[0].Confidence != 1 || !near(boxes[0].Y, 0.2) {
		t.Errorf("unexpected boxes %+v", boxes)
	}
}

func TestEmbeddingDetector(t *testing.T) {
	var gotType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		io.Copy(io.Discard, f)
		gotType = hdr.Header.Get("Content-Type")
		w.Write([]byte(`{"faces_count":2,"faces":[
			{"face_index":0,"bbox":[100,50,200,175],"det_score":0.93},
			{"face_index":1,"bbox":[1,2,3],"det_score":0.5}
		],"model":"buffalo_l"}`))
	}))
	defer server.Close()

	img := imaging.New(400, 500, color.NRGBA{A: 255})
	d := NewEmbeddingDetector(server.URL+"/", nil)
	boxes, err := d.Detect(context.Background(), Ref{ID: "pt1", Image: img})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if gotType != "image/jpeg" {
		t.Errorf("part content type = %q", gotType)
	}
	if len(boxes) != 1 {
		t.Fatalf("expected 1 box, got %d", len(boxes))
	}
	want := smartcrop.FaceBox{X: 0.25, Y: 0.1, W: 0.25, H: 0.25, Confidence: 0.93}
	b := boxes[0]
	if !near(b.X, want.X) || !near(b.Y, want.Y) || !near(b.W, want.W) || !near(b.H, want.H) || !near(b.Confidence, want.Confidence) {
		t.Errorf("box = %+v, want %+v", b, want)
	}

	if _, err := d.Detect(context.Background(), Ref{ID: "pt1"}); !errors.Is(err, ErrNoImage) {
		t.Errorf("expected ErrNoImage, got %v", err)
	}
}

func TestEmbeddingDetector_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewEmbeddingDetector(server.URL, nil)
	_, err := d.Detect(context.Background(), Ref{Image: image.NewNRGBA(image.Rect(0, 0, 10, 10))})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestChain(t *testing.T) {
	face := []smartcrop.FaceBox{{X: 0.1, Y: 0.1, W: 0.1, H: 0.1, Confidence: 1}}

	tests := []struct {
		name      string
		detectors []*countingDetector
		wantFaces int
		wantErr   bool
		wantCalls []int
	}{
		{
			name:      "first with faces wins",
			detectors: []*countingDetector{{boxes: face}, {boxes: face}},
			wantFaces: 1,
			wantCalls: []int{1, 0},
		},
		{
			name:      "empty answer falls through",
			detectors: []*countingDetector{{}, {boxes: face}},
			wantFaces: 1,
			wantCalls: []int{1, 1},
		},
		{
			name:      "error falls through",
			detectors: []*countingDetector{{err: errors.New("down")}, {boxes: face}},
			wantFaces: 1,
			wantCalls: []int{1, 1},
		},
		{
			name:      "no faces anywhere",
			detectors: []*countingDetector{{err: errors.New("down")}, {}},
			wantCalls: []int{1, 1},
		},
		{
			name:      "all fail",
			detectors: []*countingDetector{{err: errors.New("a")}, {err: errors.New("b")}},
			wantErr:   true,
			wantCalls: []int{1, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := make(Chain, len(tt.detectors))
			for i, d := range tt.detectors {
				chain[i] = d
			}
			boxes, err := chain.Detect(context.Background(), Ref{ID: "pt1"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(boxes) != tt.wantFaces {
				t.Errorf("got %d faces, want %d", len(boxes), tt.wantFaces)
			}
			for i, d := range tt.detectors {
				if d.calls != tt.wantCalls[i] {
					t.Errorf("detector %d called %d times, want %d", i, d.calls, tt.wantCalls[i])
				}
			}
		})
	}
}

func TestMinConfidence(t *testing.T) {
	inner := &countingDetector{boxes: []smartcrop.FaceBox{
		{X: 0.1, Y: 0.1, W: 0.1, H: 0.1, Confidence: 0.2},
		{X: 0.5, Y: 0.1, W: 0.1, H: 0.1, Confidence: 0.8},
	}}
	boxes, err := MinConfidence{Next: inner, Threshold: 0.5}.Detect(context.Background(), Ref{ID: "pt1"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(boxes) != 1 || boxes[0].Confidence != 0.8 {
		t.Errorf("unexpected boxes %+v", boxes)
	}
	if len(inner.boxes) != 2 || inner.boxes[0].Confidence != 0.2 {
		t.Error("filter must not modify the inner detector's slice")
	}
}

func TestCached(t *testing.T) {
	inner := &countingDetector{boxes: []smartcrop.FaceBox{{X: 0.1, Y: 0.1, W: 0.1, H: 0.1, Confidence: 1}}}
	c := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := c.Detect(context.Background(), Ref{ID: "pt1"}); err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}

	// Anonymous refs are not cached.
	c.Detect(context.Background(), Ref{})
	c.Detect(context.Background(), Ref{})
	if inner.calls != 3 {
		t.Errorf("inner called %d times, want 3", inner.calls)
	}

	failing := &countingDetector{err: errors.New("down")}
	cf := NewCached(failing, time.Minute)
	cf.Detect(context.Background(), Ref{ID: "pt1"})
	cf.Detect(context.Background(), Ref{ID: "pt1"})
	if failing.calls != 2 {
		t.Errorf("errors must not be cached, calls = %d", failing.calls)
	}
}
