package matcher

import (
	"testing"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/pipelineerr"
)

func TestMatch_LabelsWithinTolerance(t *testing.T) {
	faces := []domain.Face{{Embedding: domain.Embedding{1, 0, 0}}}
	names := []string{"Alice"}
	refs := []domain.Embedding{{1, 0, 0}}

	annotations, known, err := Match(faces, names, refs, 0.1, "2026-01-02/p.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(annotations) != 1 || annotations[0].MatchedName != "Alice" {
		t.Fatalf("expected a match to Alice, got %+v", annotations)
	}
	if len(known) != 1 || known[0] != "Alice" {
		t.Errorf("expected known names [Alice], got %v", known)
	}
}

func TestMatch_BeyondToleranceIsResidual(t *testing.T) {
	faces := []domain.Face{{Embedding: domain.Embedding{10, 10, 10}}}
	names := []string{"Alice"}
	refs := []domain.Embedding{{0, 0, 0}}

	annotations, known, err := Match(faces, names, refs, 0.1, "2026-01-02/p.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(annotations) != 1 || !annotations[0].IsResidual() {
		t.Fatalf("expected a residual face, got %+v", annotations)
	}
	if annotations[0].ResidualID != "2026-01-02/p.jpg#0" {
		t.Errorf("unexpected residual id: %q", annotations[0].ResidualID)
	}
	if len(known) != 0 {
		t.Errorf("expected no known names, got %v", known)
	}
}

func TestMatch_EmptyReferencesAllResidual(t *testing.T) {
	faces := []domain.Face{{Embedding: domain.Embedding{1, 2, 3}}, {Embedding: domain.Embedding{4, 5, 6}}}
	annotations, known, err := Match(faces, nil, nil, 0.6, "2026-01-02/p.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(annotations) != 2 {
		t.Fatalf("expected 2 annotations, got %d", len(annotations))
	}
	for _, a := range annotations {
		if !a.IsResidual() {
			t.Errorf("expected residual with no references, got %+v", a)
		}
	}
	if len(known) != 0 {
		t.Errorf("expected no known names, got %v", known)
	}
}

func TestMatch_SamePersonCanMatchMultipleFacesInOnePhoto(t *testing.T) {
	faces := []domain.Face{{Embedding: domain.Embedding{1, 0, 0}}, {Embedding: domain.Embedding{0.9, 0, 0}}}
	names := []string{"Alice"}
	refs := []domain.Embedding{{1, 0, 0}}

	annotations, known, err := Match(faces, names, refs, 0.2, "2026-01-02/p.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matched := 0
	for _, a := range annotations {
		if a.MatchedName == "Alice" {
			matched++
		}
	}
	if matched != 2 {
		t.Errorf("expected both faces to match Alice (no de-duplication constraint), got %d", matched)
	}
	if len(known) != 1 {
		t.Errorf("expected known_names to de-duplicate to one entry, got %v", known)
	}
}

func TestMatch_DimensionMismatchIsInvariantViolation(t *testing.T) {
	faces := []domain.Face{{Embedding: domain.Embedding{1, 2}}}
	names := []string{"Alice"}
	refs := []domain.Embedding{{1, 2, 3}}

	_, _, err := Match(faces, names, refs, 0.6, "2026-01-02/p.jpg")
	if err == nil {
		t.Fatal("expected an error for mismatched dimensions")
	}
	if pipelineerr.KindOf(err) != pipelineerr.KindInvariantViolation {
		t.Errorf("expected KindInvariantViolation, got %v", pipelineerr.KindOf(err))
	}
}

func TestMatch_KnownNamesStableOrderOfFirstAppearance(t *testing.T) {
	faces := []domain.Face{
		{Embedding: domain.Embedding{0, 1, 0}}, // Bob
		{Embedding: domain.Embedding{1, 0, 0}}, // Alice
		{Embedding: domain.Embedding{0, 1, 0}}, // Bob again
	}
	names := []string{"Alice", "Bob"}
	refs := []domain.Embedding{{1, 0, 0}, {0, 1, 0}}

	_, known, err := Match(faces, names, refs, 0.1, "2026-01-02/p.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(known) != 2 || known[0] != "Bob" || known[1] != "Alice" {
		t.Errorf("expected [Bob, Alice] in order of first appearance, got %v", known)
	}
}
