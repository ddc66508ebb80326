// Package cluster is the spec's C8 Unknown Clustering: deterministic
// greedy agglomerative grouping of residual face embeddings that matched
// no known Person.
package cluster

import (
	"fmt"
	"sort"

	"github.com/kozaktomas/class-photo-sorter/internal/constants"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
)

// Residual is one face that failed to match any known Person, tagged with
// its position in the run for stable sorting (spec §4.8).
type Residual struct {
	PhotoIdentity string // classroom photo's relative path
	FaceIndex     int
	ResidualID    string
	Embedding     domain.Embedding
}

// Assignment is the outcome for one residual: either a labeled cluster or
// unlabeled-unknown (Label == "").
type Assignment struct {
	ResidualID string
	Label      string
}

type cluster struct {
	members  []Residual
	centroid domain.Embedding
}

// Cluster groups residuals by nearest-centroid agglomeration and assigns
// sequential labels to clusters meeting minSize, in order of first
// appearance (spec §4.8). tau is used as given: neither this package nor
// the orchestrator checks that it is stricter than the matcher tolerance.
func Cluster(residuals []Residual, tau float64, minSize int) ([]Assignment, error) {
	sorted := make([]Residual, len(residuals))
	copy(sorted, residuals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].PhotoIdentity != sorted[j].PhotoIdentity {
			return sorted[i].PhotoIdentity < sorted[j].PhotoIdentity
		}
		return sorted[i].FaceIndex < sorted[j].FaceIndex
	})

	var clusters []*cluster
	for _, r := range sorted {
		best := -1
		bestDist := -1.0
		for i, c := range clusters {
			d, err := domain.EuclideanDistance(r.Embedding, c.centroid)
			if err != nil {
				return nil, fmt.Errorf("cluster centroid comparison failed: %w", err)
			}
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}

		if best != -1 && bestDist <= tau {
			clusters[best].members = append(clusters[best].members, r)
			clusters[best].centroid = centroidOf(clusters[best].members)
		} else {
			clusters = append(clusters, &cluster{members: []Residual{r}, centroid: r.Embedding})
		}
	}

	assignments := make([]Assignment, 0, len(sorted))
	label := 1
	for _, c := range clusters {
		clusterLabel := ""
		if len(c.members) >= minSize {
			clusterLabel = fmt.Sprintf("%s%d", constants.UnknownClusterLabelPrefix, label)
			label++
		}
		for _, m := range c.members {
			assignments = append(assignments, Assignment{ResidualID: m.ResidualID, Label: clusterLabel})
		}
	}

	return assignments, nil
}

func centroidOf(members []Residual) domain.Embedding {
	if len(members) == 0 {
		return nil
	}
	dim := len(members[0].Embedding)
	sum := make([]float64, dim)
	for _, m := range members {
		for i, v := range m.Embedding {
			sum[i] += float64(v)
		}
	}
	centroid := make(domain.Embedding, dim)
	for i, s := range sum {
		centroid[i] = float32(s / float64(len(members)))
	}
	return centroid
}
