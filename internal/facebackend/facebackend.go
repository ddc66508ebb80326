// Package facebackend is the spec's C2 Face backend adapter: from a pixel
// buffer, return zero or more (bounding_box, embedding) pairs. It is the
// teacher's internal/fingerprint.EmbeddingClient generalized from a CLIP/
// caption-support client into the dedicated face detection+embedding
// client the spec requires, keeping the same multipart-upload/MIME-
// sniffing/JSON-response shape.
package facebackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
)

// BackendError signals a per-call backend failure (spec §4.2): treated per
// photo, never fatal for the run.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("face backend error: %v", e.Err) }
func (e *BackendError) Unwrap() error { return e.Err }

// Backend is the interface the Recognition Driver and Reference Store
// depend on; the HTTP-backed Client below is the production implementation,
// the spec's "two possible back ends" (§1) are selected by BackendEngine in
// config and both speak this same wire contract in this repo.
type Backend interface {
	Descriptor() domain.BackendDescriptor
	DetectAndEncode(ctx context.Context, pix []byte, width, height, minFaceSize int) ([]domain.Face, error)
}

// Client talks to an external face-embedding HTTP service over a multipart
// image upload, mirroring fingerprint.EmbeddingClient.postMultipartImage.
type Client struct {
	parsedURL  *url.URL
	descriptor domain.BackendDescriptor
	http       *http.Client
}

// NewClient constructs a Client pinned to one BackendDescriptor for the run
// (spec §4.2: "A run is pinned to exactly one BackendDescriptor").
func NewClient(baseURL string, descriptor domain.BackendDescriptor) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("face backend URL must not be empty")
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid face backend URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid face backend URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid face backend URL: missing host")
	}
	return &Client{
		parsedURL:  parsed,
		descriptor: descriptor,
		http:       &http.Client{},
	}, nil
}

// Descriptor returns the BackendDescriptor this client is pinned to.
func (c *Client) Descriptor() domain.BackendDescriptor { return c.descriptor }

type faceDetection struct {
	Dim       int        `json:"dim"`
	Embedding []float32  `json:"embedding"`
	BBox      [4]float64 `json:"bbox"`
	DetScore  float64    `json:"det_score"`
}

type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// DetectAndEncode detects faces in an already-encoded image buffer (the
// image file's bytes; the upload's MIME type is sniffed from them) and
// returns every face at least minFaceSize pixels on its longer
// bounding-box side (spec §4.2). An empty slice is a valid, non-error
// result.
func (c *Client) DetectAndEncode(ctx context.Context, imageData []byte, width, height, minFaceSize int) ([]domain.Face, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, &BackendError{Err: err}
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &BackendError{Err: fmt.Errorf("failed to parse face response: %w", err)}
	}

	faces := make([]domain.Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		if !meetsMinSize(f.BBox, minFaceSize) {
			continue
		}
		emb := make(domain.Embedding, len(f.Embedding))
		copy(emb, f.Embedding)
		faces = append(faces, domain.Face{BBox: f.BBox, Embedding: emb})
	}
	return faces, nil
}

// meetsMinSize approximates the longer bounding-box dimension against the
// configured minimum (spec §4.2: "approximate").
func meetsMinSize(bbox [4]float64, minFaceSize int) bool {
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	longer := w
	if h > longer {
		longer = h
	}
	return longer >= float64(minFaceSize)
}

func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
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

	reqURL := c.parsedURL.JoinPath(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req) //nolint:gosec // URL validated in NewClient (scheme + host check)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// magicSignature maps a magic byte prefix (at a given offset) to a MIME type.
type magicSignature struct {
	offset   int
	magic    []byte
	mimeType string
}

var magicSignatures = []magicSignature{
	{0, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{0, []byte{0x89, 0x50, 0x4E, 0x47}, "image/png"},
	{0, []byte{0x47, 0x49, 0x46, 0x38}, "image/gif"},
	{0, []byte{0x42, 0x4D}, "image/bmp"},
	{0, []byte{0x52, 0x49, 0x46, 0x46}, "image/webp"}, // checked with extra WebP bytes below
}

func detectMIMEType(data []byte) string {
	for _, sig := range magicSignatures {
		end := sig.offset + len(sig.magic)
		if len(data) < end {
			continue
		}
		if !bytes.Equal(data[sig.offset:end], sig.magic) {
			continue
		}
		if sig.mimeType == "image/webp" {
			if len(data) < 12 || !bytes.Equal(data[8:12], []byte{0x57, 0x45, 0x42, 0x50}) {
				continue
			}
		}
		return sig.mimeType
	}
	return "application/octet-stream"
}
