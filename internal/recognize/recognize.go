// Package recognize is the spec's C6 Recognition Driver: it dispatches
// recognition of a work set either serially or across a fixed-size worker
// pool, and streams back one RecognitionResult per work item.
package recognize

import (
	"context"
	"os"
	"sync"

	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/facebackend"
	"github.com/kozaktomas/class-photo-sorter/internal/imageio"
	"github.com/kozaktomas/class-photo-sorter/internal/matcher"
	"github.com/kozaktomas/class-photo-sorter/internal/pipelineerr"
	"github.com/sirupsen/logrus"
)

// WorkItem is one classroom photo queued for recognition.
type WorkItem struct {
	Date     string
	RelPath  string // relative to the classroom root, e.g. "2026-01-02/p1.jpg"
	AbsPath  string
	Identity domain.FileIdentity
}

// Outcome pairs a WorkItem with its RecognitionResult.
type Outcome struct {
	Item   WorkItem
	Result domain.RecognitionResult
}

// Options carries everything the Orchestrator supplies for one batch (spec
// §4.6, §5: known names/embeddings are shared read-only across workers,
// never copied per item).
type Options struct {
	Tolerance       float64
	MinFaceSize     int
	KnownNames      []string
	KnownEmbeddings []domain.Embedding

	ParallelEnabled      bool
	Workers              int
	ChunkSize            int
	MinPhotosForParallel int
	ForceSerial          bool
	ForceParallel        bool
}

// BatchReport carries the mode-decision telemetry the Reporter needs.
type BatchReport struct {
	UsedParallel     bool
	FellBackToSerial bool
	FallbackReason   string
}

// Driver implements recognize_batch against one Backend.
type Driver struct {
	backend facebackend.Backend
	log     *logrus.Entry
}

// New constructs a Driver bound to backend.
func New(backend facebackend.Backend, log *logrus.Entry) *Driver {
	return &Driver{backend: backend, log: log}
}

func (d *Driver) logEntry() *logrus.Entry {
	if d.log != nil {
		return d.log
	}
	return logrus.NewEntry(logrus.New())
}

// decideMode implements the spec §4.6 mode-decision rule.
func decideMode(opts Options, itemCount int) string {
	if opts.ForceSerial {
		return "serial"
	}
	if opts.ForceParallel && opts.Workers >= 2 {
		return "parallel"
	}
	if itemCount >= opts.MinPhotosForParallel && opts.ParallelEnabled && opts.Workers >= 2 {
		return "parallel"
	}
	return "serial"
}

// RecognizeBatch processes every item in work, returning one Outcome each
// (in no guaranteed order), a BatchReport for the Reporter, and a fatal
// error only for an invariant violation that must abort the run (spec
// §4.7 step 2: a dimensionality mismatch that reaches the Matcher is
// impossible by construction and therefore fatal, not per-item).
func (d *Driver) RecognizeBatch(ctx context.Context, work []WorkItem, opts Options) ([]Outcome, BatchReport, error) {
	report := BatchReport{}

	mode := decideMode(opts, len(work))
	if mode == "parallel" {
		outcomes, fellBack, reason, fatal := d.runParallel(ctx, work, opts)
		report.UsedParallel = !fellBack
		report.FellBackToSerial = fellBack
		report.FallbackReason = reason
		if fatal != nil {
			return outcomes, report, fatal
		}
		return outcomes, report, nil
	}

	outcomes, fatal := d.runSerial(ctx, work, opts)
	return outcomes, report, fatal
}

func (d *Driver) runSerial(ctx context.Context, work []WorkItem, opts Options) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(work))
	for _, item := range work {
		if ctx.Err() != nil {
			break // cooperative cancellation: stop dispatching, keep what's done
		}
		result, err := d.processItem(ctx, item, opts)
		if err != nil {
			return outcomes, err // invariant violation: abort, caller persists what's done
		}
		outcomes = append(outcomes, Outcome{Item: item, Result: result})
	}
	return outcomes, nil
}

// runParallel farms work out to opts.Workers goroutines via a bounded
// semaphore, dispatching in chunks of opts.ChunkSize (spec §4.6, §5).
// Pool-construction failure (here: a Workers value below 2) downgrades
// transparently to serial; a non-positive ChunkSize is replaced by 12.
func (d *Driver) runParallel(ctx context.Context, work []WorkItem, opts Options) (outcomes []Outcome, fellBack bool, reason string, fatal error) {
	workers := opts.Workers
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 12
	}
	if workers < 2 {
		o, err := d.runSerial(ctx, work, opts)
		return o, true, "invalid worker count for parallel pool construction", err
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type itemResult struct {
		outcome Outcome
		err     error
	}

	resultsCh := make(chan itemResult, len(work))
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var fatalOnce sync.Once
	var firstFatal error

	dispatch := func(item WorkItem) {
		defer wg.Done()
		semaphore <- struct{}{}
		defer func() { <-semaphore }()

		if poolCtx.Err() != nil {
			return // cancelled or a sibling hit a fatal invariant violation: drop undispatched work
		}
		result, err := d.processItem(poolCtx, item, opts)
		if err != nil {
			fatalOnce.Do(func() {
				firstFatal = err
				cancel() // stop dispatching further work; let in-flight items finish
			})
			return
		}
		resultsCh <- itemResult{outcome: Outcome{Item: item, Result: result}}
	}

	for start := 0; start < len(work); start += chunkSize {
		end := start + chunkSize
		if end > len(work) {
			end = len(work)
		}
		for _, item := range work[start:end] {
			if poolCtx.Err() != nil {
				break
			}
			wg.Add(1)
			go dispatch(item)
		}
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	outcomes = make([]Outcome, 0, len(work))
	for r := range resultsCh {
		outcomes = append(outcomes, r.outcome)
	}

	return outcomes, false, "", firstFatal
}

// processItem runs C1 -> C2 -> C7 for one work item, converting every
// per-item failure into a RecognitionResult with status "error" rather
// than returning an error — except an invariant violation from the
// Matcher, which is returned so the caller can abort the run (spec §4.7).
func (d *Driver) processItem(ctx context.Context, item WorkItem, opts Options) (domain.RecognitionResult, error) {
	data, err := os.ReadFile(item.AbsPath)
	if err != nil {
		return errorResult("unreadable_image"), nil
	}

	pix, err := imageio.Decode(item.AbsPath, data)
	if err != nil {
		return errorResult("unreadable_image"), nil
	}

	faces, err := d.backend.DetectAndEncode(ctx, data, pix.Width, pix.Height, opts.MinFaceSize)
	if err != nil {
		d.logEntry().WithError(err).WithField("path", item.AbsPath).Warn("face backend call failed")
		return errorResult("backend_error"), nil
	}

	if len(faces) == 0 {
		return domain.RecognitionResult{Status: domain.StatusNoFace, TotalFaces: 0}, nil
	}

	annotations, knownNames, err := matcher.Match(faces, opts.KnownNames, opts.KnownEmbeddings, opts.Tolerance, item.RelPath)
	if err != nil {
		if pipelineerr.KindOf(err) == pipelineerr.KindInvariantViolation {
			return domain.RecognitionResult{}, err
		}
		return errorResult("match_error"), nil
	}

	return domain.RecognitionResult{
		Status:     domain.StatusSuccess,
		KnownNames: knownNames,
		Faces:      annotations,
		TotalFaces: len(faces),
	}, nil
}

func errorResult(kind string) domain.RecognitionResult {
	return domain.RecognitionResult{Status: domain.StatusError, ErrorKind: kind}
}
