// Package domain holds the small set of types shared by every component
// (spec §3): embeddings, the backend descriptor that pins an embedding
// space for a run, and the file-identity triple used as a cache key
// throughout the pipeline.
package domain

import (
	"fmt"
	"math"
)

// Embedding is a fixed-length face/reference embedding vector.
type Embedding []float32

// SameDimension reports whether two embeddings share a dimensionality.
func SameDimension(a, b Embedding) bool {
	return len(a) == len(b)
}

// EuclideanDistance computes the Euclidean distance between two embeddings.
// Callers must ensure dimensions already match (spec §3: a dimensionality
// mismatch here is a fatal invariant violation, never a normal comparison
// outcome, because every persisted artifact is segregated by
// BackendDescriptor before embeddings ever meet).
func EuclideanDistance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// BackendDescriptor pins the embedding space in use for a run. Every
// persisted artifact is tagged with one, and a mismatch invalidates the
// tagged artifact (spec §3).
type BackendDescriptor struct {
	Engine string `json:"engine"`
	Model  string `json:"model"`
}

// String renders a stable key, used for on-disk path segments.
func (b BackendDescriptor) String() string {
	return b.Engine + "/" + b.Model
}

// Equal reports whether two descriptors pin the same embedding space.
func (b BackendDescriptor) Equal(o BackendDescriptor) bool {
	return b.Engine == o.Engine && b.Model == o.Model
}

// FileIdentity is the (relative_path, size, mtime) triple used as a change
// detector throughout the pipeline (reference images, classroom photos).
type FileIdentity struct {
	RelPath string `json:"rel_path"`
	Size    int64  `json:"size"`
	MTime   int64  `json:"mtime"` // unix seconds, second resolution per spec §3
}

// Face is one detected face: its bounding box and embedding (spec §4.2).
type Face struct {
	BBox      [4]float64 `json:"bbox"` // x1, y1, x2, y2 in raw pixel coordinates
	Embedding Embedding  `json:"embedding"`
}
