package organizer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
)

func writeSrcFile(t *testing.T, path, content string) time.Time {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return mtime
}

func TestOrganize_SuccessCopiesIntoPersonDir(t *testing.T) {
	srcRoot := t.TempDir()
	outRoot := t.TempDir()
	src := filepath.Join(srcRoot, "2026-01-02", "p1.jpg")
	mtime := writeSrcFile(t, src, "photo-bytes")

	org := New(outRoot, nil)
	records := []PhotoRecord{{
		Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: src,
		Result: domain.RecognitionResult{Status: domain.StatusSuccess, KnownNames: []string{"Alice"}, TotalFaces: 1},
	}}

	summary, err := org.Organize(records, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dest := filepath.Join(outRoot, "Alice", "2026-01-02", "p1.jpg")
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("expected copy at %s: %v", dest, err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("expected mtime preserved, got %v want %v", info.ModTime(), mtime)
	}
	if summary.PersonCounts["Alice"] != 1 {
		t.Errorf("expected Alice count 1, got %d", summary.PersonCounts["Alice"])
	}
}

func TestOrganize_NoFaceAndErrorDestinations(t *testing.T) {
	srcRoot := t.TempDir()
	outRoot := t.TempDir()
	noFaceSrc := filepath.Join(srcRoot, "2026-01-02", "nf.jpg")
	writeSrcFile(t, noFaceSrc, "x")
	errSrc := filepath.Join(srcRoot, "2026-01-02", "bad.jpg")
	writeSrcFile(t, errSrc, "y")

	org := New(outRoot, nil)
	records := []PhotoRecord{
		{Date: "2026-01-02", RelPath: "2026-01-02/nf.jpg", AbsPath: noFaceSrc, Result: domain.RecognitionResult{Status: domain.StatusNoFace}},
		{Date: "2026-01-02", RelPath: "2026-01-02/bad.jpg", AbsPath: errSrc, Result: domain.RecognitionResult{Status: domain.StatusError, ErrorKind: "unreadable_image"}},
	}

	summary, err := org.Organize(records, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "no_face_photos", "2026-01-02", "nf.jpg")); err != nil {
		t.Errorf("expected no_face copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "error_photos", "2026-01-02", "bad.jpg")); err != nil {
		t.Errorf("expected error copy: %v", err)
	}
	if summary.StatusCounts[domain.StatusNoFace] != 1 || summary.StatusCounts[domain.StatusError] != 1 {
		t.Errorf("unexpected status counts: %+v", summary.StatusCounts)
	}
}

func TestOrganize_MultiplePersonsAndClusterLabels(t *testing.T) {
	srcRoot := t.TempDir()
	outRoot := t.TempDir()
	src := filepath.Join(srcRoot, "2026-01-02", "group.jpg")
	writeSrcFile(t, src, "group")

	org := New(outRoot, nil)
	records := []PhotoRecord{{
		Date: "2026-01-02", RelPath: "2026-01-02/group.jpg", AbsPath: src,
		Result: domain.RecognitionResult{
			Status:     domain.StatusSuccess,
			KnownNames: []string{"Alice"},
			TotalFaces: 2,
			Faces: []domain.FaceAnnotation{
				{MatchedName: "Alice"},
				{ResidualID: "2026-01-02/group.jpg#1"},
			},
		},
	}}
	clusterLabels := map[string]string{"2026-01-02/group.jpg#1": "Unknown_Person_1"}

	summary, err := org.Organize(records, clusterLabels)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "Alice", "2026-01-02", "group.jpg")); err != nil {
		t.Errorf("expected Alice copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "unknown_photos", "Unknown_Person_1", "2026-01-02", "group.jpg")); err != nil {
		t.Errorf("expected labeled-unknown copy: %v", err)
	}
	if summary.UnknownLabeledSizes["Unknown_Person_1"] != 1 {
		t.Errorf("expected cluster size tally 1, got %d", summary.UnknownLabeledSizes["Unknown_Person_1"])
	}
}

func TestOrganize_IdempotentOnSameSizeFile(t *testing.T) {
	srcRoot := t.TempDir()
	outRoot := t.TempDir()
	src := filepath.Join(srcRoot, "2026-01-02", "p1.jpg")
	writeSrcFile(t, src, "same-size!")

	org := New(outRoot, nil)
	records := []PhotoRecord{{
		Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: src,
		Result: domain.RecognitionResult{Status: domain.StatusSuccess, KnownNames: []string{"Alice"}},
	}}

	if _, err := org.Organize(records, nil); err != nil {
		t.Fatalf("first organize: %v", err)
	}
	if _, err := org.Organize(records, nil); err != nil {
		t.Fatalf("second organize: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(outRoot, "Alice", "2026-01-02"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected idempotent re-run to leave exactly one file, got %d: %v", len(entries), entries)
	}
}

func TestOrganize_CollisionWithDifferentContentGetsOrdinalSuffix(t *testing.T) {
	srcRoot := t.TempDir()
	outRoot := t.TempDir()
	src := filepath.Join(srcRoot, "2026-01-02", "p1.jpg")
	writeSrcFile(t, src, "new-content-longer")

	destDir := filepath.Join(outRoot, "Alice", "2026-01-02")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "p1.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed existing: %v", err)
	}

	org := New(outRoot, nil)
	records := []PhotoRecord{{
		Date: "2026-01-02", RelPath: "2026-01-02/p1.jpg", AbsPath: src,
		Result: domain.RecognitionResult{Status: domain.StatusSuccess, KnownNames: []string{"Alice"}},
	}}
	if _, err := org.Organize(records, nil); err != nil {
		t.Fatalf("organize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(destDir, "p1_001.jpg")); err != nil {
		t.Errorf("expected collision-resolved copy at p1_001.jpg: %v", err)
	}
}

func TestDeleteDate_RemovesAllSubtreesButNotPersonDir(t *testing.T) {
	outRoot := t.TempDir()
	for _, dir := range []string{
		filepath.Join(outRoot, "Alice", "2026-01-09"),
		filepath.Join(outRoot, "Alice", "2026-01-02"),
		filepath.Join(outRoot, "unknown_photos", "2026-01-09"),
		filepath.Join(outRoot, "unknown_photos", "Unknown_Person_1", "2026-01-09"),
		filepath.Join(outRoot, "no_face_photos", "2026-01-09"),
		filepath.Join(outRoot, "error_photos", "2026-01-09"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	org := New(outRoot, nil)
	if err := org.DeleteDate("2026-01-09"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outRoot, "Alice", "2026-01-09")); !os.IsNotExist(err) {
		t.Error("expected Alice/2026-01-09 to be removed")
	}
	if _, err := os.Stat(filepath.Join(outRoot, "Alice", "2026-01-02")); err != nil {
		t.Error("expected Alice/2026-01-02 to survive")
	}
	if _, err := os.Stat(filepath.Join(outRoot, "Alice")); err != nil {
		t.Error("expected the Alice directory itself to survive")
	}
	if _, err := os.Stat(filepath.Join(outRoot, "unknown_photos", "Unknown_Person_1", "2026-01-09")); !os.IsNotExist(err) {
		t.Error("expected labeled-unknown 2026-01-09 to be removed")
	}
}
