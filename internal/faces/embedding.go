package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kozaktomas/memorybook/internal/smartcrop"
)

const defaultEmbeddingURL = "http://localhost:8000"

// embedMaxPx bounds the image sent to the service; boxes are normalized so
// the downscale does not change them.
const embedMaxPx = 1600

// EmbeddingDetector posts the photo to the face embedding service
// (POST /embed/face) and converts its pixel boxes.
type EmbeddingDetector struct {
	baseURL string
	client  *http.Client
}

func NewEmbeddingDetector(baseURL string, client *http.Client) *EmbeddingDetector {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &EmbeddingDetector{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2] in pixels
	DetScore  float64   `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

func (d *EmbeddingDetector) Detect(ctx context.Context, ref Ref) ([]smartcrop.FaceBox, error) {
	if ref.Image == nil {
		return nil, ErrNoImage
	}
	img := imaging.Fit(ref.Image, embedMaxPx, embedMaxPx, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	body, err := d.postImage(ctx, "/embed/face", buf.Bytes())
	if err != nil {
		return nil, err
	}
	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	w, h := float64(img.Bounds().Dx()), float64(img.Bounds().Dy())
	boxes := make([]smartcrop.FaceBox, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if len(f.BBox) != 4 {
			continue
		}
		x1, y1, x2, y2 := f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]
		if b, ok := clampBox(x1/w, y1/h, (x2-x1)/w, (y2-y1)/h, f.DetScore); ok {
			boxes = append(boxes, b)
		}
	}
	return boxes, nil
}

// postImage sends the image as the "file" part of a multipart form.
func (d *EmbeddingDetector) postImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
