// Package orchestrator is the spec's C11 Orchestrator: it composes
// C3-C10, owns the run's lifecycle, and owns failure-recovery policy.
// Earlier phases must complete before later phases begin (spec §4.11).
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/kozaktomas/class-photo-sorter/internal/cluster"
	"github.com/kozaktomas/class-photo-sorter/internal/config"
	"github.com/kozaktomas/class-photo-sorter/internal/constants"
	"github.com/kozaktomas/class-photo-sorter/internal/domain"
	"github.com/kozaktomas/class-photo-sorter/internal/facebackend"
	"github.com/kozaktomas/class-photo-sorter/internal/organizer"
	"github.com/kozaktomas/class-photo-sorter/internal/reccache"
	"github.com/kozaktomas/class-photo-sorter/internal/recognize"
	"github.com/kozaktomas/class-photo-sorter/internal/reference"
	"github.com/kozaktomas/class-photo-sorter/internal/report"
	"github.com/kozaktomas/class-photo-sorter/internal/snapshot"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of one run: the exit code to use and, for
// informational purposes, the report path if one was written.
type Result struct {
	ExitCode   int
	ReportPath string
}

// Orchestrator runs the batch pipeline end to end.
type Orchestrator struct {
	cfg     *config.Config
	log     *logrus.Entry
	backend facebackend.Backend
}

// New constructs an Orchestrator.
func New(cfg *config.Config, log *logrus.Entry, backend facebackend.Backend) *Orchestrator {
	return &Orchestrator{cfg: cfg, log: log, backend: backend}
}

func (o *Orchestrator) logEntry() *logrus.Entry {
	if o.log != nil {
		return o.log
	}
	return logrus.NewEntry(logrus.New())
}

func (o *Orchestrator) classroomRoot() string  { return filepath.Join(o.cfg.InputRoot, constants.ClassPhotosDir) }
func (o *Orchestrator) referenceRoot() string  { return filepath.Join(o.cfg.InputRoot, constants.StudentPhotosDir) }
func (o *Orchestrator) outputStateDir() string { return filepath.Join(o.cfg.OutputRoot, constants.StateDir) }

// Run executes phases R0-R7 and returns the process exit code (spec §6,
// §4.11), plus the report path when the run completes. Per-item failures
// are absorbed into the report's counters; a non-zero exit code marks a
// pre-flight failure, an invariant violation, or a failure to load or
// persist run state.
func (o *Orchestrator) Run(ctx context.Context) Result {
	startedAt := time.Now()

	// R0 — Pre-flight.
	if code, ok := o.preflight(); !ok {
		return Result{ExitCode: code}
	}

	// R1 — Reference Store.
	refStore := reference.New(o.referenceRoot(), o.cfg.LogRoot, o.backend, o.cfg.MaxRefsPerPerson, o.log)
	knownNames, knownEmbeddings, err := refStore.Load(ctx)
	if err != nil {
		o.logEntry().WithError(err).Error("failed to load reference store")
		return Result{ExitCode: constants.ExitOtherFatal}
	}
	referenceFingerprint := refStore.Fingerprint()

	// R2 — Input reconciliation.
	snapEngine := snapshot.New(o.log, nil)
	curr, err := snapEngine.Build(o.classroomRoot())
	if err != nil {
		o.logEntry().WithError(err).Error("failed to build classroom snapshot")
		return Result{ExitCode: constants.ExitOtherFatal}
	}
	prev := snapEngine.LoadPersisted(o.outputStateDir())
	plan := snapshot.Diff(prev, curr)

	org := organizer.New(o.cfg.OutputRoot, o.log)

	// R3 — Deletion sync.
	for _, date := range plan.DeletedDates {
		if err := org.DeleteDate(date); err != nil {
			o.logEntry().WithError(err).WithField("date", date).Warn("failed to delete output subtree for removed date")
		}
		if err := reccache.Delete(o.outputStateDir(), date); err != nil {
			o.logEntry().WithError(err).WithField("date", date).Warn("failed to delete recognition cache for removed date")
		}
	}

	// R4 — Recognition.
	paramFingerprint := reccache.ComputeParameterFingerprint(o.cfg.Tolerance, o.cfg.MinFaceSize, o.backendDescriptor(), referenceFingerprint)
	driver := recognize.New(o.backend, o.log)

	changedDates := make(map[string]bool, len(plan.ChangedDates))
	for _, date := range plan.ChangedDates {
		changedDates[date] = true
	}

	// A date needs recomputing if its files changed OR the cache it was
	// last computed under no longer matches the current parameters
	// (tolerance, min_face_size, backend, reference set) — a parameter-only
	// change touches no file, so file-diff alone would miss it (spec §8
	// invariant #7).
	loaded := make(map[string]*reccache.Cache, len(curr.Dates))
	dateCaches := make(map[string]*reccache.Cache, len(curr.Dates))
	var recomputeDates []string
	for date := range curr.Dates {
		c := reccache.Load(o.outputStateDir(), date, o.log)
		loaded[date] = c
		if !changedDates[date] && reccache.IsFresh(c, paramFingerprint) {
			dateCaches[date] = c
			continue
		}
		recomputeDates = append(recomputeDates, date)
	}
	sort.Strings(recomputeDates)

	var batchReport recognize.BatchReport
	for _, date := range recomputeDates {
		c := loaded[date]
		if !reccache.IsFresh(c, paramFingerprint) {
			c = &reccache.Cache{Version: constants.CacheFormatVersion, Date: date, Entries: map[string]domain.RecognitionResult{}}
		}
		c.ParameterFingerprint = paramFingerprint

		work := o.workSetFor(date, curr.Dates[date], c)
		outcomes, batchReportForDate, err := driver.RecognizeBatch(ctx, work, o.recognizeOptions(knownNames, knownEmbeddings))
		if err != nil {
			o.persistPartial(dateCaches, date, c, curr.Dates[date], outcomes)
			o.logEntry().WithError(err).Error("invariant violation in recognition, aborting run")
			return Result{ExitCode: constants.ExitInvariantViolation}
		}
		if batchReportForDate.FellBackToSerial {
			batchReport = batchReportForDate
		}

		for _, outcome := range outcomes {
			c.Entries[reccache.EntryKey(outcome.Item.Identity)] = outcome.Result
		}
		pruneDeletedEntries(c, curr.Dates[date])
		if err := reccache.SaveAtomic(o.outputStateDir(), c); err != nil {
			o.logEntry().WithError(err).WithField("date", date).Error("failed to persist recognition cache")
			return Result{ExitCode: constants.ExitOtherFatal}
		}
		dateCaches[date] = c

		if ctx.Err() != nil {
			break // cooperative cancellation: stop dispatching further dates
		}
	}

	// R5 — Clustering.
	var residuals []cluster.Residual
	records := make([]organizer.PhotoRecord, 0)
	for date, entries := range curr.Dates {
		c := dateCaches[date]
		if c == nil {
			continue // cancelled before this date was recognized at all
		}
		for _, entry := range entries {
			result, ok := c.Entries[reccache.EntryKey(entry)]
			if !ok {
				continue // cancelled before this entry's cache was populated
			}
			records = append(records, organizer.PhotoRecord{
				Date:    date,
				RelPath: entry.RelPath,
				AbsPath: filepath.Join(o.classroomRoot(), entry.RelPath),
				Result:  result,
			})
			for _, face := range result.Faces {
				if face.IsResidual() {
					residuals = append(residuals, cluster.Residual{
						PhotoIdentity: entry.RelPath,
						ResidualID:    face.ResidualID,
						Embedding:     face.Embedding,
					})
				}
			}
		}
	}

	clusterLabels := make(map[string]string)
	if o.cfg.Cluster.Enabled && len(residuals) > 0 {
		assignments, err := cluster.Cluster(residuals, o.cfg.Cluster.Threshold, o.cfg.Cluster.MinClusterSize)
		if err != nil {
			o.logEntry().WithError(err).Error("unknown clustering failed with an invariant violation")
			return Result{ExitCode: constants.ExitInvariantViolation}
		}
		for _, a := range assignments {
			clusterLabels[a.ResidualID] = a.Label
		}
	}

	// R6 — Organize.
	summary, err := org.Organize(records, clusterLabels)
	if err != nil {
		o.logEntry().WithError(err).Error("failed to organize output tree")
		return Result{ExitCode: constants.ExitOtherFatal}
	}

	// R7 — Finalize.
	reportPath, err := report.Write(o.cfg.OutputRoot, startedAt, time.Since(startedAt), summary, report.Params{
		Tolerance:        o.cfg.Tolerance,
		MinFaceSize:      o.cfg.MinFaceSize,
		Backend:          o.backendDescriptor(),
		FellBackToSerial: batchReport.FellBackToSerial,
		FallbackReason:   batchReport.FallbackReason,
		Cancelled:        ctx.Err() != nil,
	})
	if err != nil {
		o.logEntry().WithError(err).Error("failed to write report")
		return Result{ExitCode: constants.ExitOtherFatal}
	}

	if err := snapEngine.SavePersisted(o.outputStateDir(), curr); err != nil {
		o.logEntry().WithError(err).Error("failed to persist snapshot")
		return Result{ExitCode: constants.ExitOtherFatal}
	}

	return Result{ExitCode: constants.ExitSuccess, ReportPath: reportPath}
}

// preflight implements phase R0 (spec §4.11, §6 exit codes).
func (o *Orchestrator) preflight() (int, bool) {
	classroomRoot := o.classroomRoot()
	entries, err := os.ReadDir(classroomRoot)
	if err != nil || len(entries) == 0 {
		o.logEntry().WithField("path", classroomRoot).Error("classroom photo root is missing or empty")
		return constants.ExitEmptyClassroomRoot, false
	}

	if err := os.MkdirAll(o.outputStateDir(), 0o755); err != nil {
		o.logEntry().WithError(err).WithField("path", o.cfg.OutputRoot).Error("output working directory is not writable")
		return constants.ExitWorkingDirUnwritable, false
	}

	refEntries, err := os.ReadDir(o.referenceRoot())
	if err != nil || len(refEntries) == 0 {
		o.logEntry().WithField("path", o.referenceRoot()).Warn("reference root is missing or empty; every classroom photo will route to clustering")
	}

	return constants.ExitSuccess, true
}

func (o *Orchestrator) backendDescriptor() domain.BackendDescriptor {
	return o.backend.Descriptor()
}

// workSetFor determines the entries in date's current bucket whose
// (rel_path, size, mtime) key is absent from the fresh cache (spec §4.11
// phase R4 step 3).
func (o *Orchestrator) workSetFor(date string, entries []domain.FileIdentity, c *reccache.Cache) []recognize.WorkItem {
	var work []recognize.WorkItem
	for _, entry := range entries {
		if _, ok := c.Entries[reccache.EntryKey(entry)]; ok {
			continue
		}
		work = append(work, recognize.WorkItem{
			Date:     date,
			RelPath:  entry.RelPath,
			AbsPath:  filepath.Join(o.classroomRoot(), entry.RelPath),
			Identity: entry,
		})
	}
	return work
}

func (o *Orchestrator) recognizeOptions(knownNames []string, knownEmbeddings []domain.Embedding) recognize.Options {
	minPhotos := o.cfg.Parallel.MinPhotos
	if o.cfg.Force.ForceParallelMinPhotosOverride {
		minPhotos = 0
	}
	return recognize.Options{
		Tolerance:            o.cfg.Tolerance,
		MinFaceSize:          o.cfg.MinFaceSize,
		KnownNames:           knownNames,
		KnownEmbeddings:      knownEmbeddings,
		ParallelEnabled:      o.cfg.Parallel.Enabled,
		Workers:              o.cfg.ClampWorkers(runtime.NumCPU()),
		ChunkSize:            o.cfg.Parallel.ChunkSize,
		MinPhotosForParallel: minPhotos,
		ForceSerial:          o.cfg.Force.ForceSerial,
		ForceParallel:        o.cfg.Force.ForceParallel,
	}
}

// persistPartial saves whatever results were produced before an
// invariant-violation abort (spec §4.11 partial-failure policy: persist
// safely-persistable state before exiting fatally).
func (o *Orchestrator) persistPartial(dateCaches map[string]*reccache.Cache, date string, c *reccache.Cache, entries []domain.FileIdentity, outcomes []recognize.Outcome) {
	for _, outcome := range outcomes {
		c.Entries[reccache.EntryKey(outcome.Item.Identity)] = outcome.Result
	}
	pruneDeletedEntries(c, entries)
	if err := reccache.SaveAtomic(o.outputStateDir(), c); err != nil {
		o.logEntry().WithError(err).WithField("date", date).Error("failed to persist partial recognition cache before fatal abort")
		return
	}
	dateCaches[date] = c
}

// pruneDeletedEntries drops any cache entry whose (rel_path, size, mtime)
// key is no longer present in the date's current snapshot entries, so a
// removed file doesn't leave a stale entry behind (spec §8 invariant #4:
// the persisted cache contains one entry per snapshot entry).
func pruneDeletedEntries(c *reccache.Cache, entries []domain.FileIdentity) {
	valid := make(map[string]bool, len(entries))
	for _, e := range entries {
		valid[reccache.EntryKey(e)] = true
	}
	for key := range c.Entries {
		if !valid[key] {
			delete(c.Entries, key)
		}
	}
}
