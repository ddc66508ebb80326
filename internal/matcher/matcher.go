// Package matcher is the spec's C7 Matcher: given per-face embeddings and
// the reference arrays, produce per-photo label assignments and record
// residual "unknown" embeddings.
package matcher

import (
	"fmt"
	"math"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/pipelineerr"
)

// Match labels each detected face against the reference arrays (spec
// §4.7). photoIdentity is used to build stable intra-run residual IDs.
//
// A face matches at most one person, but the same person may match
// multiple distinct faces in one photo — no de-duplication constraint is
// imposed on the matched side; see spec's design note in §4.7.
func Match(faces []domain.Face, knownNames []string, knownEmbeddings []domain.Embedding, tolerance float64, photoIdentity string) ([]domain.FaceAnnotation, []string, error) {
	annotations := make([]domain.FaceAnnotation, 0, len(faces))
	seen := make(map[string]bool)
	var names []string

	for i, face := range faces {
		if len(knownEmbeddings) == 0 {
			annotations = append(annotations, residual(face, photoIdentity, i))
			continue
		}

		bestIdx := -1
		bestDist := math.Inf(1)
		for j, ref := range knownEmbeddings {
			d, err := domain.EuclideanDistance(face.Embedding, ref)
			if err != nil {
				return nil, nil, pipelineerr.New(pipelineerr.KindInvariantViolation, "matcher.Match",
					fmt.Errorf("embedding dimension mismatch against reference %d: %w", j, err))
			}
			if d < bestDist {
				bestDist = d
				bestIdx = j
			}
		}

		if bestDist <= tolerance {
			name := knownNames[bestIdx]
			annotations = append(annotations, domain.FaceAnnotation{BBox: face.BBox, MatchedName: name})
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		} else {
			annotations = append(annotations, residual(face, photoIdentity, i))
		}
	}

	return annotations, names, nil
}

func residual(face domain.Face, photoIdentity string, index int) domain.FaceAnnotation {
	return domain.FaceAnnotation{
		BBox:       face.BBox,
		ResidualID: fmt.Sprintf("%s#%d", photoIdentity, index),
		Embedding:  face.Embedding,
	}
}
