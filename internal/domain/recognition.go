package domain

// Status is the outcome of recognizing one classroom photo (spec §3
// RecognitionResult).
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoFace  Status = "no_face"
	StatusError   Status = "error"
)

// FaceAnnotation is one detected face's outcome: either matched to a known
// Person (MatchedName set) or residual (Embedding retained for clustering).
type FaceAnnotation struct {
	BBox        [4]float64 `json:"bbox"`
	MatchedName string     `json:"matched_name,omitempty"`
	ResidualID  string     `json:"residual_id,omitempty"`
	Embedding   Embedding  `json:"embedding,omitempty"`
}

// IsResidual reports whether this face failed to match any known Person.
func (f FaceAnnotation) IsResidual() bool { return f.MatchedName == "" }

// RecognitionResult is the per-photo outcome carried through the cache,
// the clustering stage, and the organizer (spec §3, §4.7).
type RecognitionResult struct {
	Status     Status           `json:"status"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	KnownNames []string         `json:"known_names,omitempty"`
	Faces      []FaceAnnotation `json:"faces,omitempty"`
	TotalFaces int              `json:"total_faces"`
}
