package recognize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/imageio"
)

type stubBackend struct {
	descriptor domain.BackendDescriptor
	faces      []domain.Face
	err        error
	calls      int
}

func (s *stubBackend) Descriptor() domain.BackendDescriptor { return s.descriptor }

func (s *stubBackend) DetectAndEncode(ctx context.Context, pix []byte, width, height, minFaceSize int) ([]domain.Face, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.faces, nil
}

func writeJPEGFixture(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 1, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := imageio.EncodeJPEG(&buf, img, 90); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func makeItems(t *testing.T, dir string, n int) []WorkItem {
	t.Helper()
	items := make([]WorkItem, n)
	for i := 0; i < n; i++ {
		rel := filepath.Join("2026-01-02", filepathBase(i))
		abs := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		writeJPEGFixture(t, abs)
		items[i] = WorkItem{Date: "2026-01-02", RelPath: rel, AbsPath: abs}
	}
	return items
}

func filepathBase(i int) string {
	return "p" + string(rune('a'+i)) + ".jpg"
}

func TestDecideMode(t *testing.T) {
	base := Options{ParallelEnabled: true, Workers: 6, MinPhotosForParallel: 30}

	if got := decideMode(Options{ForceSerial: true, Workers: 6}, 100); got != "serial" {
		t.Errorf("force_serial should always win, got %s", got)
	}
	if got := decideMode(Options{ForceParallel: true, Workers: 2}, 1); got != "parallel" {
		t.Errorf("force_parallel with workers>=2 should parallelize even below threshold, got %s", got)
	}
	if got := decideMode(Options{ForceParallel: true, Workers: 1}, 100); got != "serial" {
		t.Errorf("force_parallel with workers<2 cannot parallelize, got %s", got)
	}
	if got := decideMode(base, 30); got != "parallel" {
		t.Errorf("threshold met should auto-parallelize, got %s", got)
	}
	if got := decideMode(base, 29); got != "serial" {
		t.Errorf("below threshold should stay serial, got %s", got)
	}
}

func TestRecognizeBatch_SerialNoFace(t *testing.T) {
	dir := t.TempDir()
	items := makeItems(t, dir, 2)
	backend := &stubBackend{}
	driver := New(backend, nil)

	outcomes, report, err := driver.RecognizeBatch(context.Background(), items, Options{Tolerance: 0.6, MinFaceSize: 50, Workers: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.UsedParallel {
		t.Error("expected serial mode for 2 items with no overrides")
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Result.Status != domain.StatusNoFace {
			t.Errorf("expected no_face, got %v", o.Result.Status)
		}
	}
}

func TestRecognizeBatch_ParallelMatchesKnownPerson(t *testing.T) {
	dir := t.TempDir()
	items := makeItems(t, dir, 40)
	backend := &stubBackend{faces: []domain.Face{{BBox: [4]float64{0, 0, 80, 80}, Embedding: domain.Embedding{1, 0, 0}}}}
	driver := New(backend, nil)

	opts := Options{
		Tolerance: 0.2, MinFaceSize: 50,
		KnownNames: []string{"Alice"}, KnownEmbeddings: []domain.Embedding{{1, 0, 0}},
		ParallelEnabled: true, Workers: 4, ChunkSize: 5, MinPhotosForParallel: 30,
	}
	outcomes, report, err := driver.RecognizeBatch(context.Background(), items, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.UsedParallel {
		t.Error("expected parallel mode for 40 items above threshold")
	}
	if len(outcomes) != 40 {
		t.Fatalf("expected 40 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Result.Status != domain.StatusSuccess || len(o.Result.KnownNames) != 1 || o.Result.KnownNames[0] != "Alice" {
			t.Errorf("expected a successful Alice match, got %+v", o.Result)
		}
	}
}

func TestRecognizeBatch_ForceParallelWithInvalidWorkerCountRunsSerial(t *testing.T) {
	dir := t.TempDir()
	items := makeItems(t, dir, 40)
	backend := &stubBackend{}
	driver := New(backend, nil)

	opts := Options{ForceParallel: true, Workers: 0, MinPhotosForParallel: 30, ParallelEnabled: true}
	_, report, err := driver.RecognizeBatch(context.Background(), items, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.UsedParallel || report.FellBackToSerial {
		t.Errorf("expected plain serial mode (workers < 2 never reach the pool, so no fallback flag), got %+v", report)
	}
}

func TestRecognizeBatch_BackendErrorIsPerItem(t *testing.T) {
	dir := t.TempDir()
	items := makeItems(t, dir, 1)
	backend := &stubBackend{err: errTest{}}
	driver := New(backend, nil)

	outcomes, _, err := driver.RecognizeBatch(context.Background(), items, Options{Workers: 1})
	if err != nil {
		t.Fatalf("expected per-item backend error, not a fatal error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Result.Status != domain.StatusError {
		t.Fatalf("expected one error-status outcome, got %+v", outcomes)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }
