package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBuild_OrganizesLoosePhotoIntoDateBucket(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2026-01-02.jpg"), "data")

	fixedNow := time.Date(2099, 1, 1, 0, 0, 0, 0, time.Local)
	eng := New(nil, func() time.Time { return fixedNow })

	desc, err := eng.Build(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "2026-01-02.jpg")); !os.IsNotExist(err) {
		t.Fatalf("expected loose file to be moved, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "2026-01-02", "2026-01-02.jpg")); err != nil {
		t.Fatalf("expected moved file in date bucket: %v", err)
	}
	if len(desc.Dates["2026-01-02"]) != 1 {
		t.Fatalf("expected 1 entry in 2026-01-02 bucket, got %d", len(desc.Dates["2026-01-02"]))
	}
}

func TestBuild_LooseFileWithoutDateFallsBackToToday(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "photo.jpg"), "data")

	fixedNow := time.Date(2099, 3, 4, 0, 0, 0, 0, time.Local)
	eng := New(nil, func() time.Time { return fixedNow })

	desc, err := eng.Build(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := desc.Dates["2099-03-04"]; !ok {
		t.Errorf("expected a 2099-03-04 bucket, got %v", desc.Dates)
	}
}

func TestBuild_CollisionGetsOrdinalSuffix(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2026-01-02", "2026-01-02_p.jpg"), "existing")
	writeFile(t, filepath.Join(root, "2026-01-02_p.jpg"), "incoming")

	eng := New(nil, nil)
	desc, err := eng.Build(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(desc.Dates["2026-01-02"]) != 2 {
		t.Fatalf("expected 2 entries (existing + renamed incoming), got %d: %v", len(desc.Dates["2026-01-02"]), desc.Dates["2026-01-02"])
	}
	if _, err := os.Stat(filepath.Join(root, "2026-01-02", "2026-01-02_p_001.jpg")); err != nil {
		t.Errorf("expected incoming file renamed to 2026-01-02_p_001.jpg: %v", err)
	}
}

func TestBuild_IgnoresHiddenAndZeroByteFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "2026-01-02", "visible.jpg"), "data")
	writeFile(t, filepath.Join(root, "2026-01-02", ".DS_Store"), "junk")
	writeFile(t, filepath.Join(root, "2026-01-02", "empty.jpg"), "")

	eng := New(nil, nil)
	desc, err := eng.Build(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(desc.Dates["2026-01-02"]) != 1 {
		t.Fatalf("expected only the visible file, got %v", desc.Dates["2026-01-02"])
	}
}

func TestSaveAndLoadPersisted_RoundTrip(t *testing.T) {
	outDir := t.TempDir()
	eng := New(nil, nil)

	snap := &Descriptor{
		Version: 1,
		Dates: map[string][]domain.FileIdentity{
			"2026-01-02": {{RelPath: "2026-01-02/a.jpg", Size: 10, MTime: 100}},
		},
	}
	if err := eng.SavePersisted(outDir, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := eng.LoadPersisted(outDir)
	if loaded == nil {
		t.Fatal("expected a persisted snapshot to load")
	}
	if len(loaded.Dates["2026-01-02"]) != 1 || loaded.Dates["2026-01-02"][0].RelPath != "2026-01-02/a.jpg" {
		t.Errorf("unexpected loaded snapshot: %+v", loaded)
	}
}

func TestLoadPersisted_MissingReturnsNil(t *testing.T) {
	eng := New(nil, nil)
	if got := eng.LoadPersisted(t.TempDir()); got != nil {
		t.Errorf("expected nil for missing snapshot, got %+v", got)
	}
}

func TestLoadPersisted_CorruptReturnsNil(t *testing.T) {
	outDir := t.TempDir()
	writeFile(t, snapshotPath(outDir), "{not json")
	eng := New(nil, nil)
	if got := eng.LoadPersisted(outDir); got != nil {
		t.Errorf("expected nil for corrupt snapshot, got %+v", got)
	}
}

func TestDiff_DetectsChangedAndDeletedDates(t *testing.T) {
	prev := &Descriptor{Dates: map[string][]domain.FileIdentity{
		"2026-01-02": {{RelPath: "2026-01-02/a.jpg", Size: 10, MTime: 100}},
		"2026-01-09": {{RelPath: "2026-01-09/b.jpg", Size: 20, MTime: 200}},
	}}
	curr := &Descriptor{Dates: map[string][]domain.FileIdentity{
		"2026-01-02": {{RelPath: "2026-01-02/a.jpg", Size: 10, MTime: 100}}, // unchanged
		"2026-01-16": {{RelPath: "2026-01-16/c.jpg", Size: 30, MTime: 300}}, // new
	}}

	plan := Diff(prev, curr)
	if len(plan.ChangedDates) != 1 || plan.ChangedDates[0] != "2026-01-16" {
		t.Errorf("expected only 2026-01-16 as changed, got %v", plan.ChangedDates)
	}
	if len(plan.DeletedDates) != 1 || plan.DeletedDates[0] != "2026-01-09" {
		t.Errorf("expected 2026-01-09 as deleted, got %v", plan.DeletedDates)
	}
}

func TestDiff_ModifiedEntrySetCountsAsChanged(t *testing.T) {
	prev := &Descriptor{Dates: map[string][]domain.FileIdentity{
		"2026-01-02": {{RelPath: "2026-01-02/a.jpg", Size: 10, MTime: 100}},
	}}
	curr := &Descriptor{Dates: map[string][]domain.FileIdentity{
		"2026-01-02": {{RelPath: "2026-01-02/a.jpg", Size: 11, MTime: 100}},
	}}

	plan := Diff(prev, curr)
	if len(plan.ChangedDates) != 1 {
		t.Errorf("expected the size change to register as changed, got %v", plan.ChangedDates)
	}
}

func TestDiff_NilPrevTreatsEveryDateAsChanged(t *testing.T) {
	curr := &Descriptor{Dates: map[string][]domain.FileIdentity{
		"2026-01-02": {{RelPath: "2026-01-02/a.jpg", Size: 10, MTime: 100}},
	}}
	plan := Diff(nil, curr)
	if len(plan.ChangedDates) != 1 {
		t.Errorf("expected nil prev to mark all dates changed, got %v", plan.ChangedDates)
	}
	if len(plan.DeletedDates) != 0 {
		t.Errorf("expected no deletions with nil prev, got %v", plan.DeletedDates)
	}
}
